package coordination

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// isoMillis matches the ISO 8601 form with millisecond precision in UTC.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// dateLayouts are the string forms the format transform treats as dates.
var dateLayouts = []string{time.RFC3339Nano, time.DateOnly}

var currencyPrinter = message.NewPrinter(language.AmericanEnglish)

// transformInput carries everything a transform may read.
type transformInput struct {
	Rule    models.CoordinationRule
	Trigger models.Document

	// Source is the trigger's new value at the rule's source path.
	Source gjson.Result

	// Siblings are the other documents of the source type under the same
	// parent. Only aggregate reads them.
	Siblings []models.Document
}

// applyTransform computes the raw JSON to write into targets.
func applyTransform(in transformInput) (json.RawMessage, error) {
	switch in.Rule.TransformType {
	case models.TransformCopy:
		return rawOrNull(in.Source), nil
	case models.TransformFormat:
		return json.Marshal(formatValue(in.Source))
	case models.TransformAggregate:
		return aggregate(in)
	case models.TransformReference:
		return json.Marshal(reference{DocumentID: in.Trigger.ID, FieldPath: in.Rule.SourceFieldPath})
	}

	return nil, fmt.Errorf("unknown transform %q", in.Rule.TransformType)
}

// formatValue renders numbers as whole US dollars, date strings as ISO
// 8601 in UTC, and null as the empty string.
func formatValue(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.Number:
		return formatCurrency(v.Float())
	case gjson.String:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t.UTC().Format(isoMillis)
			}
		}

		return v.Str
	case gjson.True, gjson.False:
		return v.String()
	}

	return v.Raw
}

func formatCurrency(f float64) string {
	n := int64(math.Round(math.Abs(f)))

	s := currencyPrinter.Sprintf("$%d", n)
	if f < 0 && n != 0 {
		return "-" + s
	}

	return s
}

// aggregate sums the source field across the trigger and its siblings.
// An array value contributes the sum of its numeric elements; anything
// that is not a number counts as zero.
func aggregate(in transformInput) (json.RawMessage, error) {
	total := sum(in.Source)

	for _, doc := range in.Siblings {
		if doc.ID == in.Trigger.ID {
			continue
		}

		total += sum(getField(doc.Content, in.Rule.SourceFieldPath))
	}

	return json.Marshal(total)
}

func sum(v gjson.Result) float64 {
	if v.IsArray() {
		var total float64
		for _, item := range v.Array() {
			total += sum(item)
		}

		return total
	}

	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		f := gjson.Parse(v.Str)
		if f.Type == gjson.Number {
			return f.Float()
		}
	}

	return 0
}

// reference is stored instead of a value copy.
type reference struct {
	DocumentID string `json:"document_id"`
	FieldPath  string `json:"field_path"`
}
