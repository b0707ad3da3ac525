package params

import (
	"fmt"
	"strings"

	"github.com/rushops/rush/expr"
)

// node identifies a parameter as seen from one section's merged view.
type node struct {
	view string
	key  string
}

// resolvedNode caches a value with the height of the reference chain below it.
type resolvedNode struct {
	value  string
	height int
}

type resolver struct {
	set  *Set
	opts option
	// root is the view selected by the caller. Nodes in other views print qualified.
	root    string
	cache   map[node]resolvedNode
	stack   []node
	onStack map[node]int
}

func (r *resolver) label(n node) string {
	if n.view == r.root {
		return n.key
	}

	return n.view + "." + n.key
}

// lookupRaw finds the expression for n: the view's own section first, then the shared
// section.
func (r *resolver) lookupRaw(n node) (string, param, bool) {
	if sec, ok := r.set.index[n.view]; ok {
		if p, ok := sec.values[n.key]; ok {
			return sec.name, p, true
		}
	}
	if sec, ok := r.set.index[r.opts.shared]; ok {
		if p, ok := sec.values[n.key]; ok {
			return sec.name, p, true
		}
	}

	return "", param{}, false
}

func (r *resolver) resolve(n node, depth int) (string, error) {
	v, _, err := r.resolveNode(n, depth)

	return v, err
}

func (r *resolver) resolveNode(n node, depth int) (string, int, error) {
	if c, ok := r.cache[n]; ok {
		if depth+c.height > r.opts.maxDepth {
			return "", 0, r.tooDeep(n)
		}

		return c.value, c.height, nil
	}
	if idx, ok := r.onStack[n]; ok {
		path := make([]string, 0, len(r.stack)-idx+1)
		for _, s := range r.stack[idx:] {
			path = append(path, r.label(s))
		}
		path = append(path, r.label(n))

		return "", 0, fmt.Errorf("%w: %s", ErrCyclicReference, strings.Join(path, " -> "))
	}
	if depth > r.opts.maxDepth {
		return "", 0, r.tooDeep(n)
	}

	_, p, ok := r.lookupRaw(n)
	if !ok {
		return "", 0, r.missing(n)
	}

	r.onStack[n] = len(r.stack)
	r.stack = append(r.stack, n)
	height := 0
	v, err := p.expr.Expand(func(seg expr.Segment) (string, error) {
		val, h, err := r.lookupSegment(n, seg, depth)
		if err == nil && h+1 > height {
			height = h + 1
		}

		return val, err
	})
	r.stack = r.stack[:len(r.stack)-1]
	delete(r.onStack, n)
	if err != nil {
		return "", 0, err
	}

	r.cache[n] = resolvedNode{value: v, height: height}

	return v, height, nil
}

func (r *resolver) tooDeep(n node) error {
	return fmt.Errorf("%w: %s exceeds the maximum depth of %d", ErrReferenceTooDeep, r.label(n), r.opts.maxDepth)
}

func (r *resolver) lookupSegment(from node, seg expr.Segment, depth int) (string, int, error) {
	if seg.Kind == expr.Env {
		v, ok := r.opts.lookupEnv(seg.Name)
		if !ok {
			return "", 0, fmt.Errorf("%w: environment variable %s is not set", ErrMissingParameter, seg.Name)
		}

		return v, 0, nil
	}

	view := from.view
	if seg.Scope != "" {
		if seg.Scope != r.opts.shared && !r.set.HasSection(seg.Scope) {
			return "", 0, fmt.Errorf("%w: %s refers to unknown section %q", ErrMissingParameter, seg, seg.Scope)
		}
		view = seg.Scope
	}

	return r.resolveNode(node{view: view, key: seg.Name}, depth+1)
}

func (r *resolver) missing(n node) error {
	if len(r.stack) == 0 {
		return fmt.Errorf("%w: %q is not defined", ErrMissingParameter, r.label(n))
	}

	return fmt.Errorf("%w: %q is not defined (referenced by %s)",
		ErrMissingParameter, r.label(n), r.label(r.stack[len(r.stack)-1]))
}
