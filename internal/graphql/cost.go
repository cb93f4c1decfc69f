package graphql

import (
	"math"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

const costDirective = "cost"

// QueryCost is the sum of @cost over every field the operation selects,
// with fragments counted at each use. Fields without @cost are free. The
// result saturates at math.MaxInt.
func QueryCost(doc *ast.QueryDocument, op *ast.OperationDefinition) int {
	w := costWalker{
		doc:       doc,
		fragments: make(map[string]int),
		visiting:  make(map[string]bool),
	}
	return w.selectionCost(op.SelectionSet)
}

// costWalker prices each named fragment once, so repeated spreads cost a
// lookup rather than a re-walk.
type costWalker struct {
	doc       *ast.QueryDocument
	fragments map[string]int
	visiting  map[string]bool
}

func (w *costWalker) selectionCost(set ast.SelectionSet) int {
	total := 0
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			total = addCost(total, fieldCost(s.Definition))
			total = addCost(total, w.selectionCost(s.SelectionSet))
		case *ast.InlineFragment:
			total = addCost(total, w.selectionCost(s.SelectionSet))
		case *ast.FragmentSpread:
			total = addCost(total, w.fragmentCost(s))
		}
	}
	return total
}

func (w *costWalker) fragmentCost(s *ast.FragmentSpread) int {
	if cost, ok := w.fragments[s.Name]; ok {
		return cost
	}
	if w.visiting[s.Name] {
		return 0
	}
	frag := s.Definition
	if frag == nil {
		frag = w.doc.Fragments.ForName(s.Name)
	}
	if frag == nil {
		return 0
	}
	w.visiting[s.Name] = true
	cost := w.selectionCost(frag.SelectionSet)
	delete(w.visiting, s.Name)
	w.fragments[s.Name] = cost
	return cost
}

// addCost adds two non-negative costs without overflowing.
func addCost(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

func fieldCost(def *ast.FieldDefinition) int {
	if def == nil {
		return 0
	}
	d := def.Directives.ForName(costDirective)
	if d == nil {
		return 0
	}
	arg := d.Arguments.ForName("value")
	if arg == nil || arg.Value == nil {
		return 0
	}
	n, err := strconv.Atoi(arg.Value.Raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
