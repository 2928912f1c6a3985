// SPDX-License-Identifier: MIT

// Package parse extracts recommendation items from free-form generator
// output. Backends wrap their JSON in prose, markdown fences, nested
// arrays or plain dashed lists; this parser accepts all of them and never
// fails, returning an empty slice in the worst case.
package parse

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cratedig/cratedig/internal/rec"
)

const defaultConfidence = 0.7

// Response extracts items from raw generator text. Extraction routes are
// tried in order: embedded JSON array, single JSON object, dashed lines.
// The first route yielding at least one item wins.
func Response(raw string) []rec.Recommendation {
	text := strings.TrimPrefix(raw, "\ufeff")

	if items := fromArray(text); len(items) > 0 {
		return items
	}
	if items := fromObject(text); len(items) > 0 {
		return items
	}
	return fromLines(text)
}

// fromArray locates the outermost bracketed region and parses it as a JSON
// array. A one-element array whose sole element is itself an array is
// unwrapped, which tolerates the common [[...]] double-wrap.
func fromArray(text string) []rec.Recommendation {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &elems); err != nil {
		return nil
	}
	if len(elems) == 1 && isArray(elems[0]) {
		var inner []json.RawMessage
		if err := json.Unmarshal(elems[0], &inner); err == nil {
			elems = inner
		}
	}

	items := make([]rec.Recommendation, 0, len(elems))
	for _, e := range elems {
		var obj map[string]any
		if err := json.Unmarshal(e, &obj); err != nil {
			continue
		}
		if item, ok := fromFields(obj); ok {
			items = append(items, item)
		}
	}
	return items
}

// fromObject parses a single top-level JSON object and wraps it as a
// one-element result.
func fromObject(text string) []rec.Recommendation {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil
	}
	if item, ok := fromFields(obj); ok {
		return []rec.Recommendation{item}
	}
	return nil
}

var listMarkerRe = regexp.MustCompile(`^[\s•*]*(?:\d+\.)?[\s•*]*`)

// fromLines is the last-resort route: every line containing a dash is
// split on its first dash, the left side stripped of list markers.
func fromLines(text string) []rec.Recommendation {
	items := []rec.Recommendation{}
	for _, line := range strings.Split(text, "\n") {
		idx, width := firstDash(line)
		if idx < 0 {
			continue
		}
		artist := listMarkerRe.ReplaceAllString(strings.TrimSpace(line[:idx]), "")
		album := strings.TrimSpace(line[idx+width:])
		if artist == "" {
			continue
		}
		items = append(items, rec.Recommendation{
			Artist:     artist,
			Album:      album,
			Genre:      "Unknown",
			Confidence: defaultConfidence,
		})
	}
	return items
}

// firstDash returns the byte index and width of the earliest hyphen,
// en dash or em dash in s, or (-1, 0).
func firstDash(s string) (int, int) {
	idx, width := -1, 0
	for _, sep := range []string{"-", "–", "—"} {
		if i := strings.Index(s, sep); i >= 0 && (idx < 0 || i < idx) {
			idx, width = i, len(sep)
		}
	}
	return idx, width
}

func isArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// fromFields builds an item from a decoded JSON object. Field names match
// case-insensitively. Items exposing none of the known fields are dropped;
// otherwise missing strings default to "Unknown" and a missing reason to "".
func fromFields(obj map[string]any) (rec.Recommendation, bool) {
	item := rec.Recommendation{Confidence: defaultConfidence}
	found := false

	for k, v := range obj {
		switch {
		case strings.EqualFold(k, "artist"):
			if s := stringValue(v); s != "" {
				item.Artist = s
				found = true
			}
		case strings.EqualFold(k, "album"):
			if s := stringValue(v); s != "" {
				item.Album = s
				found = true
			}
		case strings.EqualFold(k, "genre"):
			if s := stringValue(v); s != "" {
				item.Genre = s
				found = true
			}
		case strings.EqualFold(k, "reason"):
			if s := stringValue(v); s != "" {
				item.Reason = s
				found = true
			}
		case strings.EqualFold(k, "confidence"):
			item.Confidence = confidenceValue(v)
			found = true
		}
	}
	if !found {
		return rec.Recommendation{}, false
	}

	if item.Artist == "" {
		item.Artist = "Unknown"
	}
	if item.Album == "" {
		item.Album = "Unknown"
	}
	if item.Genre == "" {
		item.Genre = "Unknown"
	}
	return item, true
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%v", s))
	default:
		return ""
	}
}

// confidenceValue coerces arbitrary JSON values into [0,1]. Non-numeric
// input lands on the neutral default rather than dropping the item.
func confidenceValue(v any) float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return defaultConfidence
		}
		f = parsed
	default:
		return defaultConfidence
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultConfidence
	}
	if f < 0 {
		return 0.0
	}
	if f > 1 {
		return 1.0
	}
	return f
}
