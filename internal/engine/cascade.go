package engine

import (
	"context"
	"log/slog"

	"github.com/alexjbarnes/docsync/internal/models"
)

// cascade evaluates coordination rules for each changed field in the
// background. Log entries are written by the rule engine before each
// evaluation returns.
func (s *Service) cascade(tenantID, documentID string, fields []string) {
	if len(fields) == 0 {
		return
	}

	s.cascades.Add(1)

	go func() {
		defer s.cascades.Done()

		for _, field := range fields {
			if s.ctx.Err() != nil {
				return
			}

			entries, err := s.rules.EvaluateRules(s.ctx, tenantID, documentID, field, nil)
			if err != nil {
				s.logger.Warn("evaluating coordination rules",
					slog.String("document_id", documentID),
					slog.String("field", field),
					slog.String("error", err.Error()),
				)

				continue
			}

			for _, e := range entries {
				if e.Status == models.CascadeFailed {
					s.logger.Warn("coordination cascade failed",
						slog.String("rule_id", e.RuleID),
						slog.String("document_id", documentID),
						slog.String("error", e.ErrorMessage),
					)
				}
			}
		}
	}()
}

// cascadeApplied treats a cascade write as a local edit of the target so
// the new value reaches its cloud copy. Cascades do not chain: the
// target's own rules are not evaluated.
func (s *Service) cascadeApplied(ctx context.Context, doc models.Document, ruleID string) {
	if err := s.markLocalEdit(ctx, doc.TenantID, doc.ID, doc.UpdatedAt); err != nil {
		s.logger.Warn("queueing push for cascaded document",
			slog.String("document_id", doc.ID),
			slog.String("rule_id", ruleID),
			slog.String("error", err.Error()),
		)
	}
}
