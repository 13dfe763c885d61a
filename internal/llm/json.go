package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*\\n(.*?)```")

// ExtractJSON unmarshals model output into dst, tolerating the usual
// decorations models add around JSON:
//  1. direct parse of the whole text
//  2. the body of a fenced code block (```json ... ```)
//  3. the first balanced {...} substring
//  4. the first balanced [...] substring
//
// Returns false if no candidate substring parses into dst.
func ExtractJSON(text string, dst any) bool {
	if text == "" {
		return false
	}

	if json.Unmarshal([]byte(text), dst) == nil {
		return true
	}

	if m := fenceRe.FindStringSubmatch(text); m != nil {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), dst) == nil {
			return true
		}
	}

	if s := sliceBetween(text, '{', '}'); s != "" {
		if json.Unmarshal([]byte(s), dst) == nil {
			return true
		}
	}
	if s := sliceBetween(text, '[', ']'); s != "" {
		if json.Unmarshal([]byte(s), dst) == nil {
			return true
		}
	}

	return false
}

// sliceBetween returns the substring from the first open byte through the
// last close byte, or "" when the pair is absent or inverted.
func sliceBetween(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}
