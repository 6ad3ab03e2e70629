// Package filter compiles MongoDB filter documents into reusable predicates.
//
// A filter document is compiled once into a tree of matchers; the resulting
// Predicate can then be evaluated against any number of documents. Unknown
// operators are rejected at compile time, never at match time.
package filter

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/mongoerr"
)

// Predicate is a compiled filter document.
type Predicate struct {
	root matcher
}

// matcher is one node of the compiled filter tree.
type matcher interface {
	matches(doc bson.D) bool
}

// ExprEvaluator evaluates a $expr aggregation expression against a document.
// It is registered by the aggregate package so that filter does not depend
// on the expression evaluator directly.
type ExprEvaluator func(doc bson.D) (any, error)

// ExprCompiler compiles a $expr operand into an evaluator.
type ExprCompiler func(expr any) (ExprEvaluator, error)

var exprCompiler ExprCompiler

// RegisterExprCompiler installs the $expr expression compiler. Called from
// the aggregate package's init; without it $expr is an unsupported operator.
func RegisterExprCompiler(c ExprCompiler) {
	exprCompiler = c
}

// Compile compiles a filter document into a Predicate. The filter may be a
// bson.D, bson.M or map[string]any.
func Compile(filter any) (*Predicate, error) {
	doc, err := asFilterDocument(filter)
	if err != nil {
		return nil, err
	}
	root, err := compileFilter(doc)
	if err != nil {
		return nil, err
	}
	return &Predicate{root: root}, nil
}

// Match reports whether the compiled filter accepts doc.
func (p *Predicate) Match(doc bson.D) bool {
	return p.root.matches(doc)
}

// Match is a convenience for one-shot evaluation.
func Match(filter any, doc bson.D) (bool, error) {
	p, err := Compile(filter)
	if err != nil {
		return false, err
	}
	return p.Match(doc), nil
}

func asFilterDocument(filter any) (bson.D, error) {
	if filter == nil {
		return bson.D{}, nil
	}
	if compare.IsDocument(filter) {
		return compare.AsDocument(filter), nil
	}
	return nil, mongoerr.NewFailedToParse("filter must be a document")
}

func compileFilter(doc bson.D) (matcher, error) {
	all := make(andMatcher, 0, len(doc))
	for _, e := range doc {
		m, err := compileEntry(e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		if m != nil {
			all = append(all, m)
		}
	}
	return all, nil
}

func compileEntry(key string, value any) (matcher, error) {
	if !strings.HasPrefix(key, "$") {
		return compilePathCondition(key, value)
	}
	switch key {
	case "$and", "$or", "$nor":
		children, err := compileLogicalList(key, value)
		if err != nil {
			return nil, err
		}
		switch key {
		case "$and":
			return andMatcher(children), nil
		case "$or":
			return orMatcher(children), nil
		default:
			return norMatcher(children), nil
		}
	case "$expr":
		if exprCompiler == nil {
			return nil, mongoerr.NewUnsupportedOperator("query", key)
		}
		eval, err := exprCompiler(value)
		if err != nil {
			return nil, err
		}
		return exprMatcher{eval: eval}, nil
	case "$comment":
		return nil, nil
	default:
		return nil, mongoerr.NewUnsupportedOperator("query", key)
	}
}

func compileLogicalList(op string, value any) ([]matcher, error) {
	arr := compare.AsArray(value)
	if len(arr) == 0 {
		return nil, mongoerr.NewBadValue(op, "argument must be a non-empty array")
	}
	children := make([]matcher, 0, len(arr))
	for _, sub := range arr {
		if !compare.IsDocument(sub) {
			return nil, mongoerr.NewBadValue(op, "argument elements must be documents")
		}
		m, err := compileFilter(compare.AsDocument(sub))
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	return children, nil
}

func compilePathCondition(path string, value any) (matcher, error) {
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, mongoerr.NewInvalidPath(path, "path must not contain empty segments")
		}
	}
	ops, err := compileConditionValue(path, value)
	if err != nil {
		return nil, err
	}
	return &pathMatcher{path: path, ops: ops}, nil
}

// compileConditionValue turns a condition value into operator matchers:
// either a document of $-operators or an implicit equality.
func compileConditionValue(path string, value any) ([]opMatcher, error) {
	if isOperatorDocument(value) {
		return compileOperatorDoc(path, compare.AsDocument(value))
	}
	return []opMatcher{newEqOp(value)}, nil
}

// isOperatorDocument reports whether value is a document whose keys are
// query operators. A document mixing operator and plain keys is rejected
// later during operator compilation.
func isOperatorDocument(value any) bool {
	if !compare.IsDocument(value) {
		return false
	}
	doc := compare.AsDocument(value)
	return len(doc) > 0 && strings.HasPrefix(doc[0].Key, "$")
}

type andMatcher []matcher

func (m andMatcher) matches(doc bson.D) bool {
	for _, c := range m {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}

type orMatcher []matcher

func (m orMatcher) matches(doc bson.D) bool {
	for _, c := range m {
		if c.matches(doc) {
			return true
		}
	}
	return false
}

type norMatcher []matcher

func (m norMatcher) matches(doc bson.D) bool {
	for _, c := range m {
		if c.matches(doc) {
			return false
		}
	}
	return true
}

type exprMatcher struct {
	eval ExprEvaluator
}

func (m exprMatcher) matches(doc bson.D) bool {
	v, err := m.eval(doc)
	if err != nil {
		return false
	}
	return isTruthy(v)
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		if f, ok := compare.AsFloat(v); ok {
			return f != 0
		}
		return true
	}
}
