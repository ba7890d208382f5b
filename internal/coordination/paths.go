package coordination

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Field paths are plain dot-separated keys. gjson and sjson give a few
// characters special meaning, so those are escaped before lookup.
var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`#`, `\#`,
	`@`, `\@`,
	`|`, `\|`,
	`!`, `\!`,
	`=`, `\=`,
	`<`, `\<`,
	`>`, `\>`,
	`%`, `\%`,
)

func escapePath(path string) string {
	return pathEscaper.Replace(path)
}

// getField reads the value at a dot path. Empty content reads as {}.
func getField(content json.RawMessage, path string) gjson.Result {
	return gjson.GetBytes(objectOrEmpty(content), escapePath(path))
}

// setField writes raw JSON at a dot path, creating intermediate objects.
func setField(content json.RawMessage, path string, value json.RawMessage) (json.RawMessage, error) {
	out, err := sjson.SetRawBytes(objectOrEmpty(content), escapePath(path), value)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func objectOrEmpty(content json.RawMessage) []byte {
	if len(bytes.TrimSpace(content)) == 0 || bytes.Equal(bytes.TrimSpace(content), []byte("null")) {
		return []byte("{}")
	}

	return content
}

// pathsOverlap reports whether a change at changed touches the value at
// rulePath: the same field, a parent object of it, or a child inside it.
func pathsOverlap(rulePath, changed string) bool {
	if rulePath == changed {
		return true
	}

	return strings.HasPrefix(rulePath, changed+".") || strings.HasPrefix(changed, rulePath+".")
}

// rawOrNull returns the raw JSON of r, or null when r does not exist.
func rawOrNull(r gjson.Result) json.RawMessage {
	if !r.Exists() {
		return json.RawMessage("null")
	}

	return json.RawMessage(r.Raw)
}

// sameJSON compares two JSON values ignoring formatting and key order.
func sameJSON(a, b json.RawMessage) bool {
	var av, bv any

	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}

	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}

	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)

	return bytes.Equal(ab, bb)
}
