package plan

import (
	"fmt"

	"github.com/rushops/rush/expr"
	"github.com/rushops/rush/manifest"
)

// Binding is one argument binding of an invocation.
type Binding struct {
	Name string
	Expr expr.Expr
	Line int
}

// Invocation is one section of the operations manifest: an operation name, an optional
// label and its argument bindings in declaration order.
type Invocation struct {
	Source    string
	Operation string
	Label     string
	Line      int
	Args      []Binding
}

// Parse parses operations manifest text into invocations, preserving declaration order.
// Operation names may repeat. Malformed input fails with *manifest.ParseError.
func Parse(source, text string) ([]Invocation, error) {
	doc, err := manifest.Parse(source, text)
	if err != nil {
		return nil, err
	}

	invocations := make([]Invocation, 0, len(doc.Sections))
	for _, sec := range doc.Sections {
		if !manifest.ValidKey(sec.Name()) {
			return nil, &manifest.ParseError{
				Source: source, Line: sec.Line, Text: "[" + sec.Header + "]", Reason: "invalid operation name",
			}
		}

		inv := Invocation{
			Source:    source,
			Operation: sec.Name(),
			Label:     sec.Label(),
			Line:      sec.Line,
			Args:      make([]Binding, 0, len(sec.Entries)),
		}
		seen := make(map[string]int, len(sec.Entries))
		for _, e := range sec.Entries {
			if prev, ok := seen[e.Key]; ok {
				return nil, &manifest.ParseError{
					Source: source, Line: e.Line, Text: e.Key,
					Reason: fmt.Sprintf("duplicate argument, first declared on line %d", prev),
				}
			}
			seen[e.Key] = e.Line

			x, err := expr.Parse(e.Value)
			if err != nil {
				return nil, &manifest.ParseError{Source: source, Line: e.Line, Text: e.Value, Reason: err.Error()}
			}
			inv.Args = append(inv.Args, Binding{Name: e.Key, Expr: x, Line: e.Line})
		}
		invocations = append(invocations, inv)
	}

	return invocations, nil
}
