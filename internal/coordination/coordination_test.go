package coordination

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/history"
	"github.com/alexjbarnes/docsync/internal/logging"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const tenant = "acme"

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	state   *state.State
	history *history.History
	engine  *Engine
	applied []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := state.LoadAt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{state: st, history: history.New(st, logging.Discard())}
	f.engine = New(st, f.history, Config{
		DocTypes: []string{"opportunity", "cost_model"},
		OnApplied: func(_ context.Context, doc models.Document, _ string) {
			f.applied = append(f.applied, doc.ID)
		},
	}, logging.Discard())
	f.engine.now = func() time.Time { return testNow }

	return f
}

func (f *fixture) putDoc(t *testing.T, id, parent, docType, content string) {
	t.Helper()
	require.NoError(t, f.state.PutDocument(models.Document{
		ID:       id,
		TenantID: tenant,
		ParentID: parent,
		DocType:  docType,
		Title:    id,
		Content:  json.RawMessage(content),
	}))
}

func (f *fixture) rule(t *testing.T, source, target string, transform models.TransformType) *models.CoordinationRule {
	t.Helper()
	r, err := f.engine.CreateRule(RuleInput{
		TenantID:        tenant,
		SourceDocType:   "opportunity",
		SourceFieldPath: source,
		TargetDocType:   "cost_model",
		TargetFieldPath: target,
		TransformType:   transform,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) field(t *testing.T, docID, path string) gjson.Result {
	t.Helper()
	doc, err := f.state.GetDocument(tenant, docID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return gjson.GetBytes(doc.Content, path)
}

// --- EvaluateRules ---

func TestEvaluateRules_CopyCeilingToContractValue(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":1200000}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{"contractValue":1000000,"notes":"base"}`)
	rule := f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	entries, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", json.RawMessage(`1200000`))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, rule.ID, e.RuleID)
	assert.Equal(t, "opp", e.TriggerDocumentID)
	assert.Equal(t, models.CascadeApplied, e.Status)
	assert.Empty(t, e.ErrorMessage)
	assert.Equal(t, []string{"cm"}, e.AffectedDocuments)
	require.Len(t, e.ChangesApplied, 1)
	assert.Equal(t, "cm", e.ChangesApplied[0].DocumentID)
	assert.Equal(t, "contractValue", e.ChangesApplied[0].FieldPath)
	assert.JSONEq(t, `1000000`, string(e.ChangesApplied[0].OldValue))
	assert.JSONEq(t, `1200000`, string(e.ChangesApplied[0].NewValue))

	assert.Equal(t, int64(1200000), f.field(t, "cm", "contractValue").Int())
	assert.Equal(t, "base", f.field(t, "cm", "notes").String())
	assert.Equal(t, []string{"cm"}, f.applied)

	logged, err := f.engine.Log(tenant, state.LogFilter{TriggerDocumentID: "opp"})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, e.ID, logged[0].ID)

	v, err := f.history.Latest(tenant, "cm")
	require.NoError(t, err)
	assert.Equal(t, "coordination:"+rule.ID, v.CreatedBy)
	assert.Equal(t, models.SourceInternal, v.Source)
	require.NotNil(t, v.DiffSummary)
	assert.Equal(t, []string{"contractValue"}, v.DiffSummary.SectionsChanged)
}

func TestEvaluateRules_LinkedTargetStampedWithVersion(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":1200000}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{"contractValue":1000000}`)
	require.NoError(t, f.state.CreateSyncState(models.DocumentSyncState{
		DocumentID:    "cm",
		TenantID:      tenant,
		CloudProvider: models.ProviderOneDrive,
		SyncStatus:    models.StatusSynced,
		LastSyncAt:    testNow.Add(-time.Hour),
	}))
	f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	entries, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CascadeApplied, entries[0].Status)

	st, err := f.state.GetSyncState(tenant, "cm")
	require.NoError(t, err)
	assert.Equal(t, testNow, st.LastLocalEditAt)
	assert.Equal(t, models.StatusIdle, st.SyncStatus)

	versions, err := f.history.List(tenant, "cm")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, int64(1200000), gjson.GetBytes(versions[0].Snapshot, "contractValue").Int())
}

func TestEvaluateRules_FailedTargetWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":1200000}`)
	f.putDoc(t, "cm", "p1", "cost_model", `[1,2]`)
	f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	entries, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CascadeFailed, entries[0].Status)
	assert.Empty(t, f.applied)

	doc, err := f.state.GetDocument(tenant, "cm")
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(doc.Content))

	_, err = f.history.Latest(tenant, "cm")
	assert.ErrorIs(t, err, derrors.ErrNotFound)
}

func TestEvaluateRules_UnchangedTargetSkipped(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":5}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{"contractValue":5.0}`)
	f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	entries, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CascadeSkipped, entries[0].Status)
	assert.Empty(t, entries[0].ChangesApplied)
	assert.Equal(t, []models.TargetOutcome{{DocumentID: "cm", Status: models.CascadeSkipped}}, entries[0].Outcomes)
	assert.Empty(t, f.applied)

	_, err = f.history.Latest(tenant, "cm")
	assert.ErrorIs(t, err, derrors.ErrNotFound)
}

func TestEvaluateRules_NoTargetsStillLogged(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":5}`)
	f.putDoc(t, "other", "p2", "cost_model", `{"contractValue":1}`)
	f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	entries, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CascadeSkipped, entries[0].Status)
	assert.Contains(t, entries[0].ErrorMessage, "no cost_model documents")
	assert.Equal(t, int64(1), f.field(t, "other", "contractValue").Int())

	logged, err := f.engine.Log(tenant, state.LogFilter{})
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestEvaluateRules_MissingSourceFieldSkipped(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"title":"x"}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{}`)
	f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	entries, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CascadeSkipped, entries[0].Status)
	assert.Contains(t, entries[0].ErrorMessage, "ceiling")
}

func TestEvaluateRules_EveryTargetAccountedFor(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":7}`)
	f.putDoc(t, "cm1", "p1", "cost_model", `{"contractValue":1}`)
	f.putDoc(t, "cm2", "p1", "cost_model", `{"contractValue":7}`)
	f.putDoc(t, "cm3", "p1", "cost_model", `{"contractValue":3}`)
	f.putDoc(t, "cm4", "p1", "cost_model", `{"contractValue":4}`)
	f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	// The first write cancels the context, so later writes fail.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.onApplied = func(context.Context, models.Document, string) { cancel() }

	entries, err := f.engine.EvaluateRules(ctx, tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Len(t, e.Outcomes, 4)

	counts := map[models.CascadeStatus]int{}
	for _, o := range e.Outcomes {
		counts[o.Status]++
	}

	assert.Equal(t, len(e.ChangesApplied), counts[models.CascadeApplied])
	assert.Equal(t, 4, counts[models.CascadeApplied]+counts[models.CascadeSkipped]+counts[models.CascadeFailed])
	assert.Equal(t, 1, counts[models.CascadeApplied])
	assert.Positive(t, counts[models.CascadeFailed])
	assert.Equal(t, models.CascadeFailed, e.Status)
	assert.NotEmpty(t, e.ErrorMessage)
}

func TestEvaluateRules_OnlyMatchingActiveRules(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":9,"pricing":{"total":3},"title":"t"}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{}`)

	ceiling := f.rule(t, "ceiling", "contractValue", models.TransformCopy)
	total := f.rule(t, "pricing.total", "total", models.TransformCopy)
	inactive := f.rule(t, "ceiling", "ceilingCopy", models.TransformCopy)
	require.NoError(t, f.engine.DeactivateRule(tenant, inactive.ID))

	entries, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ceiling.ID, entries[0].RuleID)

	// A change to a parent object reaches rules on its children.
	entries, err = f.engine.EvaluateRules(context.Background(), tenant, "opp", "pricing", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, total.ID, entries[0].RuleID)
	assert.Equal(t, int64(3), f.field(t, "cm", "total").Int())

	entries, err = f.engine.EvaluateRules(context.Background(), tenant, "opp", "title", nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, f.field(t, "cm", "ceilingCopy").Exists())
}

func TestEvaluateRules_NestedTargetPathCreated(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":10}`)
	f.putDoc(t, "cm", "p1", "cost_model", `null`)
	f.rule(t, "ceiling", "pricing.ceiling", models.TransformCopy)

	entries, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CascadeApplied, entries[0].Status)
	assert.JSONEq(t, `null`, string(entries[0].ChangesApplied[0].OldValue))
	assert.Equal(t, int64(10), f.field(t, "cm", "pricing.ceiling").Int())
}

func TestEvaluateRules_UnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.EvaluateRules(context.Background(), tenant, "missing", "ceiling", nil)
	assert.ErrorIs(t, err, derrors.ErrNotFound)
}

func TestEvaluateRules_InvalidNewValue(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{}`)
	_, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", json.RawMessage(`{nope`))
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)
}

// --- transforms ---

func TestEvaluateRules_FormatTransform(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":5000000}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{}`)
	f.rule(t, "ceiling", "ceilingText", models.TransformFormat)

	_, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	assert.Equal(t, "$5,000,000", f.field(t, "cm", "ceilingText").String())
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`5000000`, "$5,000,000"},
		{`1234.5`, "$1,235"},
		{`-2500`, "-$2,500"},
		{`0`, "$0"},
		{`"2025-03-01"`, "2025-03-01T00:00:00.000Z"},
		{`"2025-03-01T10:30:00+02:00"`, "2025-03-01T08:30:00.000Z"},
		{`"hello"`, "hello"},
		{`null`, ""},
		{`true`, "true"},
		{`{"a":1}`, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(gjson.Parse(tt.raw)))
		})
	}
}

func TestEvaluateRules_AggregateSumsSiblings(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":100}`)
	f.putDoc(t, "opp2", "p1", "opportunity", `{"ceiling":250}`)
	f.putDoc(t, "opp3", "p2", "opportunity", `{"ceiling":999}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{}`)
	f.rule(t, "ceiling", "totalCeiling", models.TransformAggregate)

	_, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", json.RawMessage(`300`))
	require.NoError(t, err)
	assert.Equal(t, float64(550), f.field(t, "cm", "totalCeiling").Float())
}

func TestSum(t *testing.T) {
	assert.Equal(t, float64(6), sum(gjson.Parse(`[1,2,3]`)))
	assert.Equal(t, float64(4.5), sum(gjson.Parse(`"4.5"`)))
	assert.Equal(t, float64(0), sum(gjson.Parse(`"abc"`)))
	assert.Equal(t, float64(3), sum(gjson.Parse(`[1,[2],"x",null]`)))
}

func TestEvaluateRules_ReferenceTransform(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":100}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{}`)
	f.rule(t, "ceiling", "ceilingRef", models.TransformReference)

	_, err := f.engine.EvaluateRules(context.Background(), tenant, "opp", "ceiling", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"document_id":"opp","field_path":"ceiling"}`, f.field(t, "cm", "ceilingRef").Raw)
}

// --- PreviewCascade ---

func TestPreviewCascade_WritesNothing(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{"ceiling":1000000}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{"contractValue":1000000}`)
	rule := f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	items, err := f.engine.PreviewCascade(context.Background(), tenant, rule.ID, "opp", json.RawMessage(`1200000`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "cm", items[0].DocumentID)
	assert.True(t, items[0].Changed)
	assert.JSONEq(t, `1000000`, string(items[0].CurrentValue))
	assert.JSONEq(t, `1200000`, string(items[0].NewValue))

	assert.Equal(t, int64(1000000), f.field(t, "cm", "contractValue").Int())

	logged, err := f.engine.Log(tenant, state.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logged)
	assert.Empty(t, f.applied)
}

func TestPreviewCascade_Errors(t *testing.T) {
	f := newFixture(t)
	f.putDoc(t, "opp", "p1", "opportunity", `{}`)
	f.putDoc(t, "cm", "p1", "cost_model", `{}`)
	rule := f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	_, err := f.engine.PreviewCascade(context.Background(), tenant, "nope", "opp", nil)
	assert.ErrorIs(t, err, derrors.ErrNotFound)

	_, err = f.engine.PreviewCascade(context.Background(), tenant, rule.ID, "cm", nil)
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)

	require.NoError(t, f.engine.DeactivateRule(tenant, rule.ID))
	_, err = f.engine.PreviewCascade(context.Background(), tenant, rule.ID, "opp", nil)
	assert.ErrorIs(t, err, derrors.ErrInactiveRule)
}

// --- rule management ---

func TestCreateRule_Validation(t *testing.T) {
	valid := RuleInput{
		TenantID:        tenant,
		SourceDocType:   "opportunity",
		SourceFieldPath: "ceiling",
		TargetDocType:   "cost_model",
		TargetFieldPath: "contractValue",
		TransformType:   models.TransformCopy,
	}

	tests := []struct {
		name   string
		mutate func(*RuleInput)
	}{
		{"no tenant", func(r *RuleInput) { r.TenantID = "" }},
		{"unknown source type", func(r *RuleInput) { r.SourceDocType = "memo" }},
		{"unknown target type", func(r *RuleInput) { r.TargetDocType = "memo" }},
		{"unknown transform", func(r *RuleInput) { r.TransformType = "multiply" }},
		{"blank source path", func(r *RuleInput) { r.SourceFieldPath = "  " }},
		{"empty target path", func(r *RuleInput) { r.TargetFieldPath = "" }},
		{"self reference", func(r *RuleInput) { r.TargetDocType = "opportunity"; r.TargetFieldPath = " ceiling " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := valid
			tt.mutate(&in)
			_, err := f.engine.CreateRule(in)
			assert.ErrorIs(t, err, derrors.ErrInvalidRule)
		})
	}
}

func TestCreateRule_DefaultsAndTrim(t *testing.T) {
	f := newFixture(t)
	r, err := f.engine.CreateRule(RuleInput{
		TenantID:        tenant,
		SourceDocType:   "pricing_volume",
		SourceFieldPath: " total ",
		TargetDocType:   "executive_summary",
		TargetFieldPath: "price",
		TransformType:   models.TransformFormat,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.True(t, r.IsActive)
	assert.Equal(t, "total", r.SourceFieldPath)
	assert.Equal(t, testNow, r.CreatedAt)

	got, err := f.engine.GetRule(tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestUpdateRule_Partial(t *testing.T) {
	f := newFixture(t)
	r := f.rule(t, "ceiling", "contractValue", models.TransformCopy)

	later := testNow.Add(time.Hour)
	f.engine.now = func() time.Time { return later }

	format := models.TransformFormat
	desc := "ceiling as text"
	updated, err := f.engine.UpdateRule(tenant, r.ID, RuleUpdate{TransformType: &format, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, models.TransformFormat, updated.TransformType)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, "contractValue", updated.TargetFieldPath)
	assert.Equal(t, testNow, updated.CreatedAt)
	assert.Equal(t, later, updated.UpdatedAt)

	bad := "memo"
	_, err = f.engine.UpdateRule(tenant, r.ID, RuleUpdate{TargetDocType: &bad})
	assert.ErrorIs(t, err, derrors.ErrInvalidRule)

	_, err = f.engine.UpdateRule(tenant, "nope", RuleUpdate{})
	assert.ErrorIs(t, err, derrors.ErrNotFound)
}

func TestDeactivateRule_KeepsRecord(t *testing.T) {
	f := newFixture(t)
	r := f.rule(t, "ceiling", "contractValue", models.TransformCopy)
	f.rule(t, "ceiling", "other", models.TransformCopy)

	require.NoError(t, f.engine.DeactivateRule(tenant, r.ID))

	all, err := f.engine.ListRules(tenant)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := f.engine.ActiveRules(tenant)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotEqual(t, r.ID, active[0].ID)
}

func TestLoadRulesFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - id: ceiling-to-contract
    tenant_id: acme
    source_doc_type: opportunity
    source_field_path: ceiling
    target_doc_type: cost_model
    target_field_path: contractValue
    transform_type: copy
    is_active: true
  - id: ceiling-text
    tenant_id: acme
    source_doc_type: opportunity
    source_field_path: ceiling
    target_doc_type: cost_model
    target_field_path: ceilingText
    transform_type: format
    is_active: true
`), 0o600))

	n, err := f.engine.LoadRulesFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.engine.now = func() time.Time { return testNow.Add(time.Hour) }
	_, err = f.engine.LoadRulesFile(path)
	require.NoError(t, err)

	rules, err := f.engine.ListRules(tenant)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	for _, r := range rules {
		assert.Equal(t, testNow, r.CreatedAt)
		assert.Equal(t, testNow.Add(time.Hour), r.UpdatedAt)
	}
}

func TestLoadRulesFile_Invalid(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	noID := filepath.Join(dir, "noid.yaml")
	require.NoError(t, os.WriteFile(noID, []byte("rules:\n  - tenant_id: acme\n"), 0o600))
	_, err := f.engine.LoadRulesFile(noID)
	assert.ErrorIs(t, err, derrors.ErrInvalidRule)

	badType := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badType, []byte(`rules:
  - id: r1
    tenant_id: acme
    source_doc_type: memo
    source_field_path: a
    target_doc_type: cost_model
    target_field_path: b
    transform_type: copy
`), 0o600))
	_, err = f.engine.LoadRulesFile(badType)
	assert.ErrorIs(t, err, derrors.ErrInvalidRule)

	_, err = f.engine.LoadRulesFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPathsOverlap(t *testing.T) {
	assert.True(t, pathsOverlap("a.b", "a.b"))
	assert.True(t, pathsOverlap("a.b", "a"))
	assert.True(t, pathsOverlap("a", "a.b"))
	assert.False(t, pathsOverlap("ab", "a"))
	assert.False(t, pathsOverlap("a.b", "a.c"))
}
