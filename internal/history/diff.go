package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Hunk is one run of changed lines between two texts. Start lines are
// 1-based. A hunk with only Old lines is a deletion, with only New lines
// an addition.
type Hunk struct {
	OldStart int      `json:"old_start"`
	Old      []string `json:"old,omitempty"`
	NewStart int      `json:"new_start"`
	New      []string `json:"new,omitempty"`
}

// LineHunks diffs two texts line by line.
func LineHunks(oldText, newText string) []Hunk {
	oldText = terminate(oldText)
	newText = terminate(newText)

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var (
		hunks   []Hunk
		cur     *Hunk
		oldLine = 1
		newLine = 1
	)

	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}

	for _, d := range diffs {
		ls := splitLines(d.Text)

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()

			oldLine += len(ls)
			newLine += len(ls)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &Hunk{OldStart: oldLine, NewStart: newLine}
			}

			cur.Old = append(cur.Old, ls...)
			oldLine += len(ls)
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &Hunk{OldStart: oldLine, NewStart: newLine}
			}

			cur.New = append(cur.New, ls...)
			newLine += len(ls)
		}
	}

	flush()

	return hunks
}

// terminate gives non-empty text a trailing newline so the last line
// compares equal whether or not the caller ended it.
func terminate(s string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}

	return s
}

func splitLines(s string) []string {
	parts := strings.SplitAfter(s, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\n")
	}

	return parts
}

// Summarize counts changed lines. Within a hunk, lines replaced one for
// one are modifications and the surplus on either side are additions or
// deletions.
func Summarize(hunks []Hunk) models.DiffSummary {
	var s models.DiffSummary

	for _, h := range hunks {
		paired := min(len(h.Old), len(h.New))
		s.Modifications += paired
		s.Additions += len(h.New) - paired
		s.Deletions += len(h.Old) - paired
	}

	return s
}

// DiffSnapshots summarises the change from one structured snapshot to
// another. SectionsChanged names the top-level keys whose values differ.
func DiffSnapshots(oldSnap, newSnap json.RawMessage) (models.DiffSummary, error) {
	oldFields, err := decodeSnapshot(oldSnap)
	if err != nil {
		return models.DiffSummary{}, fmt.Errorf("decoding previous snapshot: %w", err)
	}

	newFields, err := decodeSnapshot(newSnap)
	if err != nil {
		return models.DiffSummary{}, fmt.Errorf("decoding snapshot: %w", err)
	}

	summary := Summarize(LineHunks(serialize(oldFields), serialize(newFields)))
	summary.SectionsChanged = changedSections(oldFields, newFields)

	return summary, nil
}

// rootKey holds a snapshot that is not a JSON object.
const rootKey = "$"

func decodeSnapshot(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}

	return map[string]any{rootKey: v}, nil
}

// serialize renders fields one per line in key order as "key: value".
// Strings are written raw so multi-line text diffs line by line.
func serialize(fields map[string]any) string {
	keys := sortedKeys(fields)
	lines := make([]string, 0, len(keys))

	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			lines = append(lines, k+": "+v)
		default:
			lines = append(lines, k+": "+stableJSON(v))
		}
	}

	return strings.Join(lines, "\n")
}

// stableJSON encodes v with sorted object keys and no HTML escaping.
func stableJSON(v any) string {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

func changedSections(oldFields, newFields map[string]any) []string {
	seen := make(map[string]struct{}, len(oldFields)+len(newFields))

	var changed []string

	for _, fields := range []map[string]any{oldFields, newFields} {
		for k := range fields {
			if _, ok := seen[k]; ok {
				continue
			}

			seen[k] = struct{}{}

			oldV, oldOK := oldFields[k]
			newV, newOK := newFields[k]

			if oldOK != newOK || stableJSON(oldV) != stableJSON(newV) {
				changed = append(changed, k)
			}
		}
	}

	slices.Sort(changed)

	return changed
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
