// Package coordination cascades field changes from one document into
// related documents according to tenant-defined rules. Every rule
// evaluation is logged, including evaluations that changed nothing.
package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/history"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/alexjbarnes/docsync/internal/tracker"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
)

// AppliedFunc is called after a cascade has written a target document.
type AppliedFunc func(ctx context.Context, doc models.Document, ruleID string)

// Config holds optional engine settings.
type Config struct {
	// DocTypes are document types accepted in rules in addition to
	// DefaultDocTypes.
	DocTypes []string

	OnApplied AppliedFunc
}

// Engine evaluates coordination rules and manages their definitions.
type Engine struct {
	state     *state.State
	history   *history.History
	docTypes  []string
	onApplied AppliedFunc
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Engine.
func New(st *state.State, hist *history.History, cfg Config, logger *slog.Logger) *Engine {
	docTypes := slices.Clone(DefaultDocTypes)
	for _, t := range cfg.DocTypes {
		if !slices.Contains(docTypes, t) {
			docTypes = append(docTypes, t)
		}
	}

	return &Engine{
		state:     st,
		history:   hist,
		docTypes:  docTypes,
		onApplied: cfg.OnApplied,
		logger:    logger.With(slog.String("component", "coordination")),
		now:       time.Now,
	}
}

// DocTypes returns the document types rules may reference.
func (e *Engine) DocTypes() []string {
	return slices.Clone(e.docTypes)
}

var errUnchanged = errors.New("target value unchanged")

// EvaluateRules runs every active rule whose source matches the changed
// field of a document. newValue is the field's new raw JSON; when nil the
// value is read from the stored document. A change to a parent object
// triggers rules on its children and the reverse.
//
// One log entry per evaluated rule is stored before EvaluateRules returns.
// A failing rule does not stop its siblings.
func (e *Engine) EvaluateRules(ctx context.Context, tenantID, documentID, changedFieldPath string, newValue json.RawMessage) ([]models.CoordinationLogEntry, error) {
	trigger, err := e.state.GetDocument(tenantID, documentID)
	if err != nil {
		return nil, err
	}

	if trigger == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, derrors.ErrNotFound)
	}

	if newValue != nil && !json.Valid(newValue) {
		return nil, fmt.Errorf("new value is not valid JSON: %w", derrors.ErrInvalidInput)
	}

	rules, err := e.ActiveRules(tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	var entries []models.CoordinationLogEntry

	for _, rule := range rules {
		if rule.SourceDocType != trigger.DocType || !pathsOverlap(rule.SourceFieldPath, changedFieldPath) {
			continue
		}

		entry := e.evaluate(ctx, rule, *trigger, sourceValue(rule, *trigger, changedFieldPath, newValue))

		if err := e.state.AppendLogEntry(entry); err != nil {
			return entries, fmt.Errorf("logging rule %s: %w", rule.ID, err)
		}

		e.logger.Debug("coordination rule evaluated",
			slog.String("rule_id", rule.ID),
			slog.String("trigger_document_id", documentID),
			slog.String("status", string(entry.Status)),
			slog.Int("applied", len(entry.ChangesApplied)),
		)

		entries = append(entries, entry)
	}

	return entries, nil
}

// sourceValue picks the trigger value a rule reads. The supplied value is
// used only when it is exactly the rule's source field.
func sourceValue(rule models.CoordinationRule, trigger models.Document, changed string, newValue json.RawMessage) gjson.Result {
	if newValue != nil && rule.SourceFieldPath == changed {
		return gjson.ParseBytes(newValue)
	}

	return getField(trigger.Content, rule.SourceFieldPath)
}

// targets returns the documents a rule writes to: documents of the
// target type in the same proposal as the trigger, the trigger excluded.
func (e *Engine) targets(rule models.CoordinationRule, trigger models.Document) ([]models.Document, error) {
	docs, err := e.state.RelatedDocuments(trigger.TenantID, trigger.ParentID, rule.TargetDocType)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(docs, func(d models.Document) bool { return d.ID == trigger.ID }), nil
}

func (e *Engine) transform(rule models.CoordinationRule, trigger models.Document, src gjson.Result) (json.RawMessage, error) {
	in := transformInput{Rule: rule, Trigger: trigger, Source: src}

	if rule.TransformType == models.TransformAggregate {
		siblings, err := e.state.RelatedDocuments(trigger.TenantID, trigger.ParentID, rule.SourceDocType)
		if err != nil {
			return nil, err
		}

		in.Siblings = siblings
	}

	return applyTransform(in)
}

func (e *Engine) evaluate(ctx context.Context, rule models.CoordinationRule, trigger models.Document, src gjson.Result) models.CoordinationLogEntry {
	entry := models.CoordinationLogEntry{
		ID:                ulid.Make().String(),
		RuleID:            rule.ID,
		TriggerDocumentID: trigger.ID,
		TenantID:          trigger.TenantID,
		AffectedDocuments: []string{},
		ChangesApplied:    []models.FieldChange{},
		Outcomes:          []models.TargetOutcome{},
		ExecutedAt:        e.now(),
	}

	if !src.Exists() {
		entry.Status = models.CascadeSkipped
		entry.ErrorMessage = fmt.Sprintf("source field %s not present on document", rule.SourceFieldPath)

		return entry
	}

	targets, err := e.targets(rule, trigger)
	if err != nil {
		entry.Status = models.CascadeFailed
		entry.ErrorMessage = fmt.Sprintf("resolving targets: %v", err)

		return entry
	}

	if len(targets) == 0 {
		entry.Status = models.CascadeSkipped
		entry.ErrorMessage = fmt.Sprintf("no %s documents related to trigger", rule.TargetDocType)

		return entry
	}

	value, err := e.transform(rule, trigger, src)

	for _, target := range targets {
		var (
			outcome models.TargetOutcome
			change  *models.FieldChange
		)

		if err != nil {
			outcome = models.TargetOutcome{DocumentID: target.ID, Status: models.CascadeFailed, Error: err.Error()}
		} else {
			outcome, change = e.applyTarget(ctx, rule, target.ID, value)
		}

		entry.Outcomes = append(entry.Outcomes, outcome)

		if change != nil {
			entry.AffectedDocuments = append(entry.AffectedDocuments, target.ID)
			entry.ChangesApplied = append(entry.ChangesApplied, *change)
		}
	}

	entry.Status = summarize(entry.Outcomes)
	if err != nil {
		entry.ErrorMessage = fmt.Sprintf("%s transform: %v", rule.TransformType, err)
	} else if entry.Status == models.CascadeFailed {
		entry.ErrorMessage = "one or more targets failed"
	}

	return entry
}

func summarize(outcomes []models.TargetOutcome) models.CascadeStatus {
	status := models.CascadeSkipped

	for _, o := range outcomes {
		switch o.Status {
		case models.CascadeFailed:
			return models.CascadeFailed
		case models.CascadeApplied:
			status = models.CascadeApplied
		}
	}

	return status
}

// applyTarget writes value into one target document unless it already
// holds it. The new content, its version and the target's local edit stamp
// are stored together; if any of them fails the target is reported failed
// and nothing is written.
func (e *Engine) applyTarget(ctx context.Context, rule models.CoordinationRule, targetID string, value json.RawMessage) (models.TargetOutcome, *models.FieldChange) {
	outcome := models.TargetOutcome{DocumentID: targetID}

	if err := ctx.Err(); err != nil {
		outcome.Status = models.CascadeFailed
		outcome.Error = err.Error()

		return outcome, nil
	}

	createdBy := "coordination:" + rule.ID

	var oldValue json.RawMessage

	doc, _, err := e.history.Apply(history.Change{
		TenantID:   rule.TenantID,
		DocumentID: targetID,
		Source:     models.SourceInternal,
		CreatedBy:  createdBy,
		Update: func(doc *models.Document, link *models.DocumentSyncState) error {
			oldValue = rawOrNull(getField(doc.Content, rule.TargetFieldPath))
			if sameJSON(oldValue, value) {
				return errUnchanged
			}

			updated, err := setField(doc.Content, rule.TargetFieldPath, value)
			if err != nil {
				return fmt.Errorf("setting %s: %w", rule.TargetFieldPath, err)
			}

			now := e.now()
			doc.Content = updated
			doc.UpdatedAt = now
			doc.UpdatedBy = createdBy

			if link != nil {
				tracker.StampLocalEdit(link, now)
				link.UpdatedAt = now
			}

			return nil
		},
	})

	switch {
	case errors.Is(err, errUnchanged):
		outcome.Status = models.CascadeSkipped
		return outcome, nil
	case err != nil:
		outcome.Status = models.CascadeFailed
		outcome.Error = err.Error()

		return outcome, nil
	}

	if e.onApplied != nil {
		e.onApplied(ctx, *doc, rule.ID)
	}

	outcome.Status = models.CascadeApplied

	return outcome, &models.FieldChange{
		DocumentID: doc.ID,
		FieldPath:  rule.TargetFieldPath,
		OldValue:   oldValue,
		NewValue:   value,
	}
}

// PreviewCascade reports what a rule would change if the trigger's source
// field took newValue. Nothing is written and nothing is logged. A nil
// newValue previews the currently stored value.
func (e *Engine) PreviewCascade(ctx context.Context, tenantID, ruleID, triggerDocumentID string, newValue json.RawMessage) ([]models.CascadePreviewItem, error) {
	rule, err := e.GetRule(tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	if !rule.IsActive {
		return nil, fmt.Errorf("rule %s: %w", ruleID, derrors.ErrInactiveRule)
	}

	trigger, err := e.state.GetDocument(tenantID, triggerDocumentID)
	if err != nil {
		return nil, err
	}

	if trigger == nil {
		return nil, fmt.Errorf("document %s: %w", triggerDocumentID, derrors.ErrNotFound)
	}

	if trigger.DocType != rule.SourceDocType {
		return nil, fmt.Errorf("document %s is %s, rule reads %s: %w", trigger.ID, trigger.DocType, rule.SourceDocType, derrors.ErrInvalidInput)
	}

	if newValue != nil && !json.Valid(newValue) {
		return nil, fmt.Errorf("new value is not valid JSON: %w", derrors.ErrInvalidInput)
	}

	targets, err := e.targets(*rule, *trigger)
	if err != nil {
		return nil, err
	}

	src := sourceValue(*rule, *trigger, rule.SourceFieldPath, newValue)
	value, transformErr := e.transform(*rule, *trigger, src)

	items := make([]models.CascadePreviewItem, 0, len(targets))

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := rawOrNull(getField(target.Content, rule.TargetFieldPath))
		item := models.CascadePreviewItem{
			RuleID:          rule.ID,
			RuleDescription: rule.Description,
			TargetDocType:   rule.TargetDocType,
			TargetFieldPath: rule.TargetFieldPath,
			DocumentID:      target.ID,
			DocumentTitle:   target.Title,
			CurrentValue:    current,
		}

		if transformErr != nil {
			item.Error = transformErr.Error()
		} else {
			item.NewValue = value
			item.Changed = !sameJSON(current, value)
		}

		items = append(items, item)
	}

	return items, nil
}

// Log returns coordination log entries newest first.
func (e *Engine) Log(tenantID string, f state.LogFilter) ([]models.CoordinationLogEntry, error) {
	return e.state.ListLogEntries(tenantID, f)
}
