// Package tmpl renders the small template language used by monitor
// definitions: `{{name}}` substitution and `{% if name %}...{% else %}...
// {% endif %}` conditionals. A variable is truthy when it is present and
// non-empty; an undefined variable renders as the empty string.
package tmpl

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokText tokenKind = iota
	tokVar
	tokIf
	tokElse
	tokEndif
)

type token struct {
	kind tokenKind
	val  string
}

func lex(s string) ([]token, error) {
	var toks []token
	for len(s) > 0 {
		open := strings.IndexAny(s, "{")
		switch {
		case strings.HasPrefix(s, "{{"):
			end := strings.Index(s, "}}")
			if end < 0 {
				return nil, fmt.Errorf("unterminated variable tag")
			}
			name := strings.TrimSpace(s[2:end])
			if name == "" {
				return nil, fmt.Errorf("empty variable tag")
			}
			toks = append(toks, token{kind: tokVar, val: name})
			s = s[end+2:]
			continue
		case strings.HasPrefix(s, "{%"):
			end := strings.Index(s, "%}")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block tag")
			}
			fields := strings.Fields(s[2:end])
			switch {
			case len(fields) == 2 && fields[0] == "if":
				toks = append(toks, token{kind: tokIf, val: fields[1]})
			case len(fields) == 1 && fields[0] == "else":
				toks = append(toks, token{kind: tokElse})
			case len(fields) == 1 && fields[0] == "endif":
				toks = append(toks, token{kind: tokEndif})
			default:
				return nil, fmt.Errorf("unknown block tag %q", strings.TrimSpace(s[2:end]))
			}
			s = s[end+2:]
			continue
		}
		if open < 0 {
			toks = append(toks, token{kind: tokText, val: s})
			break
		}
		// A bare '{' that does not start a tag is literal text.
		cut := open
		if cut == 0 {
			cut = 1
		}
		toks = append(toks, token{kind: tokText, val: s[:cut]})
		s = s[cut:]
	}
	return toks, nil
}

// Render expands a template with the given variables.
func Render(template string, vars map[string]string) (string, error) {
	toks, err := lex(template)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	i, err := renderSeq(toks, 0, vars, true, &b)
	if err != nil {
		return "", err
	}
	if i != len(toks) {
		return "", fmt.Errorf("unexpected %s tag", tagName(toks[i].kind))
	}
	return b.String(), nil
}

// renderSeq renders tokens until it hits an else/endif belonging to the
// caller, returning the index of that token.
func renderSeq(toks []token, i int, vars map[string]string, emit bool, b *strings.Builder) (int, error) {
	for i < len(toks) {
		t := toks[i]
		switch t.kind {
		case tokText:
			if emit {
				b.WriteString(t.val)
			}
			i++
		case tokVar:
			if emit {
				b.WriteString(vars[t.val])
			}
			i++
		case tokIf:
			truthy := vars[t.val] != ""
			var err error
			i, err = renderSeq(toks, i+1, vars, emit && truthy, b)
			if err != nil {
				return i, err
			}
			if i >= len(toks) {
				return i, fmt.Errorf("unterminated if block")
			}
			if toks[i].kind == tokElse {
				i, err = renderSeq(toks, i+1, vars, emit && !truthy, b)
				if err != nil {
					return i, err
				}
			}
			if i >= len(toks) || toks[i].kind != tokEndif {
				return i, fmt.Errorf("unterminated if block")
			}
			i++
		case tokElse, tokEndif:
			return i, nil
		}
	}
	return i, nil
}

func tagName(k tokenKind) string {
	switch k {
	case tokElse:
		return "else"
	case tokEndif:
		return "endif"
	}
	return "block"
}

// SplitArgs splits a rendered argv string on whitespace, keeping
// double-quoted groups as single arguments (quotes removed).
func SplitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuote := false
	started := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t'):
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, cur.String())
	}
	return args
}
