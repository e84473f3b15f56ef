package storage

import (
	"fmt"
	"strings"
)

// NormalizeParams converts a caller-supplied value into a ParameterBundle,
// per spec.md §4.2:
//   - nil -> empty bundle
//   - []any (or a typed slice passed through AsSlice helpers) -> positional
//   - map[string]any -> named
//   - any other single scalar -> positional bundle of one element
func NormalizeParams(v any) ParameterBundle {
	switch t := v.(type) {
	case nil:
		return ParameterBundle{Kind: BundleEmpty}
	case ParameterBundle:
		return t
	case []any:
		return ParameterBundle{Kind: BundlePositional, Values: t}
	case map[string]any:
		return ParameterBundle{Kind: BundleNamed, Named: t}
	default:
		return ParameterBundle{Kind: BundlePositional, Values: []any{v}}
	}
}

// TranslatePositional rewrites a statement's `?` markers, in source order,
// to `$1`, `$2`, ... and returns the values in the same order (they are
// already positional, so the values list is unchanged). Quoted `?` is not
// special-cased here since SQL string literals do not contain a bare `?`
// that this layer is asked to rewrite; callers pass already-lexed statement
// text.
func TranslatePositional(stmt Statement, values []any) (string, []any) {
	var b strings.Builder
	n := 0
	s := string(stmt)
	for i := 0; i < len(s); i++ {
		if s[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(fmt.Sprintf("%d", n))
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), values
}

// TranslateNamed rewrites a statement's `@ident` markers to `$1..$N`,
// assigning each identifier's *first* occurrence the next numbered
// position and reusing it for later occurrences, then resolves the value
// list by looking each referenced identifier up in named. Unresolved
// identifiers produce a *BindError.
func TranslateNamed(stmt Statement, named map[string]any) (string, []any, error) {
	return TranslateNamedMarker(stmt, named, func(n int) string { return fmt.Sprintf("$%d", n) })
}

// TranslateNamedToQuestion rewrites `@ident` markers to `?`, for drivers
// (such as the native-embedded SQLite adapter) whose native placeholder
// style is a bare `?` rather than a numbered one. Since bare `?` markers
// bind in source order, the value list has one entry per marker occurrence:
// an identifier used twice contributes its value twice.
func TranslateNamedToQuestion(stmt Statement, named map[string]any) (string, []any, error) {
	var positions []int
	sql, values, err := TranslateNamedMarker(stmt, named, func(n int) string {
		positions = append(positions, n)
		return "?"
	})
	if err != nil {
		return "", nil, err
	}
	args := make([]any, len(positions))
	for i, p := range positions {
		args[i] = values[p-1]
	}
	return sql, args, nil
}

// TranslateNamedMarker is the shared engine behind TranslateNamed and
// TranslateNamedToQuestion: it walks stmt once, replacing each `@ident`
// occurrence with marker(position), where position is assigned on first
// occurrence and reused thereafter.
func TranslateNamedMarker(stmt Statement, named map[string]any, marker func(position int) string) (string, []any, error) {
	var b strings.Builder
	order := map[string]int{}
	values := []any{}
	s := string(stmt)

	i := 0
	for i < len(s) {
		c := s[i]
		if c == '@' && i+1 < len(s) && isIdentStart(s[i+1]) {
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			name := s[i+1 : j]
			pos, seen := order[name]
			if !seen {
				val, ok := named[name]
				if !ok {
					return "", nil, &BindError{Marker: "@" + name}
				}
				values = append(values, val)
				pos = len(values)
				order[name] = pos
			}
			b.WriteString(marker(pos))
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), values, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Translate dispatches to TranslatePositional or TranslateNamed based on the
// bundle's kind, returning driver-ready SQL text and the ordered value list.
// It is the entry point network-relational (and any other numbered-
// placeholder driver) calls before issuing a query.
func Translate(stmt Statement, params ParameterBundle) (string, []any, error) {
	switch params.Kind {
	case BundleEmpty:
		return string(stmt), nil, nil
	case BundlePositional:
		sql, vals := TranslatePositional(stmt, params.Values)
		return sql, vals, nil
	case BundleNamed:
		return TranslateNamed(stmt, params.Named)
	default:
		return string(stmt), nil, nil
	}
}

// SplitScript splits a multi-statement script on top-level `;`, respecting
// single- and double-quoted string literals, per spec.md §4.1/§4.5 `exec`.
func SplitScript(script string) []string {
	var out []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				// handle escaped doubled quote ('' inside a '...' literal)
				if i+1 < len(script) && script[i+1] == quote {
					cur.WriteByte(script[i+1])
					i++
					continue
				}
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == ';':
			stmt := strings.TrimSpace(cur.String())
			if stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}
