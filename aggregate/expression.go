// Package aggregate executes aggregation pipelines over streams of BSON
// documents and hosts the expression evaluator used by computed stages.
package aggregate

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/mongoerr"
)

// missing marks an expression result for a field path that reaches nothing.
// Most operators treat it like null; $project and friends omit the field.
type missing struct{}

func isMissingVal(v any) bool {
	_, ok := v.(missing)
	return ok
}

func nullish(v any) bool {
	return isMissingVal(v) || compare.IsNull(v)
}

// exprContext carries the document and variable bindings during evaluation.
type exprContext struct {
	root    bson.D
	current any
	vars    map[string]any
}

func (c *exprContext) child(name string, value any) *exprContext {
	vars := make(map[string]any, len(c.vars)+1)
	for k, v := range c.vars {
		vars[k] = v
	}
	vars[name] = value
	return &exprContext{root: c.root, current: c.current, vars: vars}
}

type evalFunc func(c *exprContext) (any, error)

// Expr is a compiled aggregation expression, reusable across documents.
type Expr struct {
	eval evalFunc
}

// CompileExpr compiles an aggregation expression tree. Unknown operators
// fail here, not during evaluation.
func CompileExpr(spec any) (*Expr, error) {
	f, err := compileExpr(spec)
	if err != nil {
		return nil, err
	}
	return &Expr{eval: f}, nil
}

// Evaluate evaluates the expression with doc as both $$ROOT and $$CURRENT.
// A missing result is reported as null.
func (e *Expr) Evaluate(doc bson.D) (any, error) {
	v, err := e.evaluate(doc)
	if err != nil {
		return nil, err
	}
	if isMissingVal(v) {
		return nil, nil
	}
	return v, nil
}

func (e *Expr) evaluate(doc bson.D) (any, error) {
	return e.eval(&exprContext{root: doc, current: doc})
}

func compileExpr(spec any) (evalFunc, error) {
	switch v := spec.(type) {
	case string:
		if strings.HasPrefix(v, "$$") {
			return compileVariableRef(v[2:])
		}
		if strings.HasPrefix(v, "$") {
			return compileFieldRef(v[1:])
		}
		return literal(v), nil
	default:
		if compare.IsDocument(spec) {
			return compileExprDocument(compare.AsDocument(spec))
		}
		if compare.IsArray(spec) {
			return compileExprArray(compare.AsArray(spec))
		}
		return literal(spec), nil
	}
}

func literal(v any) evalFunc {
	return func(*exprContext) (any, error) { return v, nil }
}

func compileVariableRef(ref string) (evalFunc, error) {
	name := ref
	rest := ""
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		name, rest = ref[:i], ref[i+1:]
	}
	if name == "" {
		return nil, mongoerr.NewFailedToParse("empty variable name in $$ reference")
	}
	return func(c *exprContext) (any, error) {
		var base any
		switch name {
		case "ROOT":
			base = c.root
		case "CURRENT":
			base = c.current
		case "REMOVE":
			base = missing{}
		default:
			v, ok := c.vars[name]
			if !ok {
				return nil, mongoerr.NewBadValue("$$"+name, "undefined variable")
			}
			base = v
		}
		if rest == "" {
			return base, nil
		}
		return exprPath(base, strings.Split(rest, ".")), nil
	}, nil
}

func compileFieldRef(path string) (evalFunc, error) {
	if path == "" {
		return nil, mongoerr.NewFailedToParse("empty field path in $ reference")
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, mongoerr.NewInvalidPath(path, "path must not contain empty segments")
		}
	}
	return func(c *exprContext) (any, error) {
		return exprPath(c.current, segs), nil
	}, nil
}

// exprPath resolves a field path in expression context. Unlike the query
// matcher, traversal over an array collects results into a single array
// value rather than fanning out into separate evaluation branches.
func exprPath(v any, segs []string) any {
	if len(segs) == 0 {
		return v
	}
	seg, rest := segs[0], segs[1:]
	switch {
	case compare.IsDocument(v):
		for _, e := range compare.AsDocument(v) {
			if e.Key == seg {
				return exprPath(e.Value, rest)
			}
		}
		return missing{}
	case compare.IsArray(v):
		out := bson.A{}
		for _, elem := range compare.AsArray(v) {
			r := exprPath(elem, segs)
			if !isMissingVal(r) {
				out = append(out, r)
			}
		}
		return out
	default:
		return missing{}
	}
}

// compileExprDocument handles both operator expressions (single $-key) and
// expression objects (documents of computed values).
func compileExprDocument(doc bson.D) (evalFunc, error) {
	if len(doc) == 1 && strings.HasPrefix(doc[0].Key, "$") {
		return compileOperatorExpr(doc[0].Key, doc[0].Value)
	}
	fields := make([]struct {
		key  string
		eval evalFunc
	}, 0, len(doc))
	for _, e := range doc {
		if strings.HasPrefix(e.Key, "$") {
			return nil, mongoerr.NewFailedToParse(
				"an expression object cannot mix operator key " + e.Key + " with plain fields")
		}
		f, err := compileExpr(e.Value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, struct {
			key  string
			eval evalFunc
		}{e.Key, f})
	}
	return func(c *exprContext) (any, error) {
		out := make(bson.D, 0, len(fields))
		for _, f := range fields {
			v, err := f.eval(c)
			if err != nil {
				return nil, err
			}
			if isMissingVal(v) {
				continue
			}
			out = append(out, bson.E{Key: f.key, Value: v})
		}
		return out, nil
	}, nil
}

func compileExprArray(arr bson.A) (evalFunc, error) {
	elems := make([]evalFunc, len(arr))
	for i, v := range arr {
		f, err := compileExpr(v)
		if err != nil {
			return nil, err
		}
		elems[i] = f
	}
	return func(c *exprContext) (any, error) {
		out := make(bson.A, 0, len(elems))
		for _, f := range elems {
			v, err := f(c)
			if err != nil {
				return nil, err
			}
			// Missing elements are dropped from array literals.
			if isMissingVal(v) {
				continue
			}
			out = append(out, v)
		}
		return out, nil
	}, nil
}

// compileOperands compiles an operator's argument as a fixed-arity operand
// list. A non-array argument is a single operand.
func compileOperands(op string, arg any, arity int) ([]evalFunc, error) {
	var items bson.A
	if compare.IsArray(arg) {
		items = compare.AsArray(arg)
	} else {
		items = bson.A{arg}
	}
	if arity >= 0 && len(items) != arity {
		return nil, mongoerr.NewBadValue(op, "wrong number of operands")
	}
	out := make([]evalFunc, len(items))
	for i, item := range items {
		f, err := compileExpr(item)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func evalOperands(c *exprContext, fns []evalFunc) ([]any, error) {
	out := make([]any, len(fns))
	for i, f := range fns {
		v, err := f(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// truthy implements aggregation truthiness: null, missing, false and
// numeric zero are false; everything else, including empty strings and
// empty arrays, is true.
func truthy(v any) bool {
	if nullish(v) {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := compare.AsFloat(v); ok {
		return f != 0
	}
	return true
}
