package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/tracing"
)

// ResolveParams is passed to a field resolver.
type ResolveParams struct {
	Parent any
	Args   map[string]any
	Field  *ast.Field
	Path   ast.Path
}

// ResolverFunc resolves one field. Returning (nil, nil) yields null.
type ResolverFunc func(ctx context.Context, p ResolveParams) (any, error)

// Resolvers maps "Type.field" to its resolver. Fields without a resolver
// read the same-named key from their parent object.
type Resolvers map[string]ResolverFunc

// Object is a JSON object that keeps its keys in selection order.
type Object struct {
	keys   []string
	values map[string]any
}

func newObject(n int) *Object {
	return &Object{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

func (o *Object) set(key string, v any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value for key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in order.
func (o *Object) Keys() []string {
	return o.keys
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Executor runs validated operations.
type Executor struct {
	schema    *ast.Schema
	resolvers Resolvers
}

func NewExecutor(schema *ast.Schema, resolvers Resolvers) *Executor {
	return &Executor{schema: schema, resolvers: resolvers}
}

type execution struct {
	*Executor
	doc  *ast.QueryDocument
	vars map[string]any
	mu   sync.Mutex
	errs gqlerror.List
}

// Execute resolves op. Root fields run concurrently; nested fields run in
// order. Field errors are collected and the field is set to null. A null in
// a non-null position nulls the nearest nullable ancestor; data is nil when
// that reaches the root.
func (e *Executor) Execute(ctx context.Context, doc *ast.QueryDocument, op *ast.OperationDefinition, vars map[string]any) (*Object, gqlerror.List) {
	ex := &execution{Executor: e, doc: doc, vars: vars}
	data, ok := ex.selectionSet(ctx, e.schema.Query, nil, op.SelectionSet, nil, true)
	if !ok {
		return nil, ex.errs
	}
	return data, ex.errs
}

func (ex *execution) addError(err error, path ast.Path, f *ast.Field) {
	gerr := ToGQLError(err, path, f.Position)
	ex.mu.Lock()
	ex.errs = append(ex.errs, gerr)
	ex.mu.Unlock()
}

// selectionSet reports false when a non-null field came back null, in which
// case the object itself is null.
func (ex *execution) selectionSet(ctx context.Context, typ *ast.Definition, parent any, set ast.SelectionSet, path ast.Path, parallel bool) (*Object, bool) {
	keys, groups := ex.collectFields(typ, set)
	results := make([]any, len(keys))
	valid := make([]bool, len(keys))
	if parallel && len(keys) > 1 {
		var wg sync.WaitGroup
		for i, key := range keys {
			wg.Add(1)
			go func(i int, key string) {
				defer wg.Done()
				results[i], valid[i] = ex.field(ctx, typ, parent, groups[key], appendPath(path, ast.PathName(key)))
			}(i, key)
		}
		wg.Wait()
	} else {
		for i, key := range keys {
			results[i], valid[i] = ex.field(ctx, typ, parent, groups[key], appendPath(path, ast.PathName(key)))
		}
	}
	obj := newObject(len(keys))
	for i, key := range keys {
		if !valid[i] {
			return nil, false
		}
		obj.set(key, results[i])
	}
	return obj, true
}

// collectFields groups the selected fields by response key, expanding
// fragments that apply to typ and honouring @skip and @include.
func (ex *execution) collectFields(typ *ast.Definition, set ast.SelectionSet) ([]string, map[string][]*ast.Field) {
	var keys []string
	groups := make(map[string][]*ast.Field)
	visited := make(map[string]bool)
	var collect func(ast.SelectionSet)
	collect = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				if !ex.included(s.Directives) {
					continue
				}
				key := s.Alias
				if key == "" {
					key = s.Name
				}
				if _, ok := groups[key]; !ok {
					keys = append(keys, key)
				}
				groups[key] = append(groups[key], s)
			case *ast.InlineFragment:
				if !ex.included(s.Directives) || (s.TypeCondition != "" && s.TypeCondition != typ.Name) {
					continue
				}
				collect(s.SelectionSet)
			case *ast.FragmentSpread:
				if !ex.included(s.Directives) || visited[s.Name] {
					continue
				}
				visited[s.Name] = true
				frag := s.Definition
				if frag == nil {
					frag = ex.doc.Fragments.ForName(s.Name)
				}
				if frag == nil || (frag.TypeCondition != "" && frag.TypeCondition != typ.Name) {
					continue
				}
				collect(frag.SelectionSet)
			}
		}
	}
	collect(set)
	return keys, groups
}

func (ex *execution) included(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(ex.vars)["if"].(bool); skip {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(ex.vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

// field resolves and completes one response key. The bool is false when the
// value is null in a non-null position.
func (ex *execution) field(ctx context.Context, typ *ast.Definition, parent any, fields []*ast.Field, path ast.Path) (any, bool) {
	f := fields[0]
	if f.Name == "__typename" {
		return typ.Name, true
	}
	def := typ.Fields.ForName(f.Name)
	if def == nil {
		ex.addError(fmt.Errorf("unknown field %s.%s", typ.Name, f.Name), path, f)
		return nil, true
	}

	var (
		val any
		err error
	)
	name := typ.Name + "." + f.Name
	if resolve, ok := ex.resolvers[name]; ok {
		fctx, span := tracing.StartChildSpan(ctx, name)
		val, err = resolve(fctx, ResolveParams{
			Parent: parent,
			Args:   f.ArgumentMap(ex.vars),
			Field:  f,
			Path:   path,
		})
		span.End()
		ctx = fctx
	} else {
		val = defaultResolve(parent, f.Name)
	}
	if err != nil {
		ex.addError(err, path, f)
		return nil, !def.Type.NonNull
	}
	return ex.complete(ctx, def.Type, fields, val, path)
}

func (ex *execution) complete(ctx context.Context, t *ast.Type, fields []*ast.Field, val any, path ast.Path) (any, bool) {
	if isNil(val) {
		if t.NonNull {
			ex.addError(fmt.Errorf("non-null field %s returned null", fields[0].Name), path, fields[0])
			return nil, false
		}
		return nil, true
	}
	if t.Elem != nil {
		rv := reflect.ValueOf(val)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			ex.addError(fmt.Errorf("expected a list for %s, got %T", fields[0].Name, val), path, fields[0])
			return nil, !t.NonNull
		}
		out := make([]any, rv.Len())
		for i := range out {
			item, ok := ex.complete(ctx, t.Elem, fields, rv.Index(i).Interface(), appendPath(path, ast.PathIndex(i)))
			if !ok {
				return nil, !t.NonNull
			}
			out[i] = item
		}
		return out, true
	}
	def := ex.schema.Types[t.NamedType]
	if def == nil || def.Kind == ast.Scalar || def.Kind == ast.Enum {
		return val, true
	}
	var sub ast.SelectionSet
	for _, f := range fields {
		sub = append(sub, f.SelectionSet...)
	}
	obj, ok := ex.selectionSet(ctx, def, val, sub, path, false)
	if !ok {
		return nil, !t.NonNull
	}
	return obj, true
}

func defaultResolve(parent any, name string) any {
	switch p := parent.(type) {
	case map[string]any:
		return p[name]
	case *Object:
		v, _ := p.Get(name)
		return v
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func appendPath(path ast.Path, el ast.PathElement) ast.Path {
	out := make(ast.Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, el)
}
