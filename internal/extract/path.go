// Package extract compiles and evaluates the field-extraction path dialect
// used by marketplace config documents.
//
// The dialect is intentionally narrow: dot-separated object keys, with purely
// numeric segments indexing into arrays, and an optional leading "$"
// referring to the document root. Examples:
//
//	price
//	$.token_metadata.token.vec.0.inner
//	collection_metadata.collection_name
//
// Paths are compiled once at config load time so malformed expressions fail
// the whole startup rather than individual events.
package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type segment struct {
	key     string
	index   int
	isIndex bool
}

// Path is a compiled extraction expression over decoded JSON
type Path struct {
	raw      string
	segments []segment
}

// Compile parses an extraction expression. An empty expression or one with
// empty segments is an error.
func Compile(expr string) (*Path, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty path expression")
	}

	// "$" alone selects the whole document.
	if expr == "$" {
		return &Path{raw: expr}, nil
	}

	body := strings.TrimPrefix(expr, "$.")
	if body == "" || strings.HasPrefix(body, ".") || strings.HasSuffix(body, ".") {
		return nil, fmt.Errorf("malformed path expression %q", expr)
	}

	parts := strings.Split(body, ".")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path expression %q", expr)
		}
		if idx, err := strconv.Atoi(part); err == nil {
			if idx < 0 {
				return nil, fmt.Errorf("negative index in path expression %q", expr)
			}
			segments = append(segments, segment{index: idx, isIndex: true})
			continue
		}
		segments = append(segments, segment{key: part})
	}

	return &Path{raw: expr, segments: segments}, nil
}

// MustCompile is Compile for statically known expressions; it panics on error
func MustCompile(expr string) *Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original expression
func (p *Path) String() string {
	return p.raw
}

// Eval walks the decoded JSON document. The second return value is false when
// any segment is missing, out of range, or applied to the wrong shape; a
// stored JSON null also reports false.
func (p *Path) Eval(doc any) (any, bool) {
	current := doc
	for _, seg := range p.segments {
		switch node := current.(type) {
		case map[string]any:
			if seg.isIndex {
				// Numeric keys do occur in event payloads; fall back to a
				// string lookup before giving up.
				v, ok := node[strconv.Itoa(seg.index)]
				if !ok {
					return nil, false
				}
				current = v
				continue
			}
			v, ok := node[seg.key]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			if !seg.isIndex || seg.index >= len(node) {
				return nil, false
			}
			current = node[seg.index]
		default:
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// EvalString evaluates the path and coerces scalar results to their string
// form. Objects and arrays report false.
func (p *Path) EvalString(doc any) (string, bool) {
	v, ok := p.Eval(doc)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}
