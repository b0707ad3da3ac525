// Package expr implements the value expressions used in manifests.
//
// A raw manifest value is parsed once into an Expr, a sequence of segments:
//
//	literal text      copied verbatim
//	${name}           reference to a parameter
//	${section.name}   reference to a parameter as defined by another section
//	${env:NAME}       environment variable lookup
//	$$                a literal dollar sign
//
// Substitution is done by Expand with a caller supplied Lookup, so callers never scan strings
// for reference tokens themselves.
package expr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrSyntax is returned when a raw value contains a malformed reference token.
var ErrSyntax = errors.New("invalid expression")

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	scopePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	envPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Kind is the kind of a Segment.
type Kind int

const (
	Literal Kind = iota
	Ref
	Env
)

// Segment is one piece of an expression.
type Segment struct {
	Kind Kind
	// Text holds the literal text of a Literal segment.
	Text string
	// Scope is the section of a qualified Ref. Empty for plain references.
	Scope string
	// Name is the parameter name of a Ref or the variable name of an Env segment.
	Name string
}

// String renders the segment back in manifest syntax.
func (s Segment) String() string {
	switch s.Kind {
	case Ref:
		if s.Scope != "" {
			return "${" + s.Scope + "." + s.Name + "}"
		}

		return "${" + s.Name + "}"
	case Env:
		return "${env:" + s.Name + "}"
	default:
		return strings.ReplaceAll(s.Text, "$", "$$")
	}
}

// Expr is a parsed value expression. The zero value is the empty literal.
type Expr struct {
	raw  string
	segs []Segment
}

// Parse parses a raw manifest value.
func Parse(raw string) (Expr, error) {
	var (
		segs []Segment
		lit  strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, Segment{Kind: Literal, Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '$' || i+1 >= len(raw) {
			lit.WriteByte(c)
			continue
		}

		switch raw[i+1] {
		case '$':
			lit.WriteByte('$')
			i++
		case '{':
			end := strings.IndexByte(raw[i+2:], '}')
			if end < 0 {
				return Expr{}, fmt.Errorf("%w: unterminated reference in %q", ErrSyntax, raw)
			}
			seg, err := parseToken(raw[i+2 : i+2+end])
			if err != nil {
				return Expr{}, err
			}
			flush()
			segs = append(segs, seg)
			i += end + 2
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	return Expr{raw: raw, segs: segs}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and static values.
func MustParse(raw string) Expr {
	e, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return e
}

func parseToken(tok string) (Segment, error) {
	tok = strings.TrimSpace(tok)

	if name, ok := strings.CutPrefix(tok, "env:"); ok {
		if !envPattern.MatchString(name) {
			return Segment{}, fmt.Errorf("%w: invalid environment variable name %q", ErrSyntax, name)
		}

		return Segment{Kind: Env, Name: name}, nil
	}

	if scope, name, ok := strings.Cut(tok, "."); ok {
		if !scopePattern.MatchString(scope) || !namePattern.MatchString(name) {
			return Segment{}, fmt.Errorf("%w: invalid reference %q", ErrSyntax, "${"+tok+"}")
		}

		return Segment{Kind: Ref, Scope: scope, Name: name}, nil
	}

	if !namePattern.MatchString(tok) {
		return Segment{}, fmt.Errorf("%w: invalid reference %q", ErrSyntax, "${"+tok+"}")
	}

	return Segment{Kind: Ref, Name: tok}, nil
}

// Raw returns the text the expression was parsed from.
func (e Expr) Raw() string { return e.raw }

// Segments returns a copy of the parsed segments.
func (e Expr) Segments() []Segment {
	out := make([]Segment, len(e.segs))
	copy(out, e.segs)

	return out
}

// IsLiteral reports whether the expression contains no references or lookups.
func (e Expr) IsLiteral() bool {
	for _, s := range e.segs {
		if s.Kind != Literal {
			return false
		}
	}

	return true
}

// Refs returns the non-literal segments in order of appearance.
func (e Expr) Refs() []Segment {
	var refs []Segment
	for _, s := range e.segs {
		if s.Kind != Literal {
			refs = append(refs, s)
		}
	}

	return refs
}

// Lookup returns the value of a Ref or Env segment.
type Lookup func(seg Segment) (string, error)

// Expand substitutes every non-literal segment through lookup. The first lookup error is
// returned unchanged so callers can match it with errors.Is.
func (e Expr) Expand(lookup Lookup) (string, error) {
	if len(e.segs) == 1 && e.segs[0].Kind == Literal {
		return e.segs[0].Text, nil
	}

	var b strings.Builder
	for _, s := range e.segs {
		if s.Kind == Literal {
			b.WriteString(s.Text)
			continue
		}
		v, err := lookup(s)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}

	return b.String(), nil
}
