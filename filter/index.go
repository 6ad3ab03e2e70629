package filter

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
)

// FirstMatchingIndex returns the index of the first element of the array at
// arrayPath that satisfies the filter conditions addressing that array. The
// update engine uses it to bind the positional $ placeholder. Returns -1
// when the filter gives no element-level condition or nothing matches.
func FirstMatchingIndex(f any, doc bson.D, arrayPath string) int {
	filterDoc, err := asFilterDocument(f)
	if err != nil {
		return -1
	}
	arr := arrayAt(doc, arrayPath)
	if arr == nil {
		return -1
	}
	prefix := arrayPath + "."
	for _, e := range filterDoc {
		var idx int
		switch {
		case e.Key == arrayPath:
			idx = firstValueMatch(arr, e.Value)
		case strings.HasPrefix(e.Key, prefix):
			idx = firstSubfieldMatch(arr, e.Key[len(prefix):], e.Value)
		default:
			continue
		}
		if idx >= 0 {
			return idx
		}
	}
	return -1
}

func arrayAt(doc bson.D, path string) bson.A {
	v, ok := fieldpath.Lookup(doc, path)
	if !ok {
		return nil
	}
	return compare.AsArray(v)
}

// firstValueMatch handles conditions on the array itself: a scalar
// condition value, an operator document, or {$elemMatch: {...}}.
func firstValueMatch(arr bson.A, cond any) int {
	if compare.IsDocument(cond) {
		d := compare.AsDocument(cond)
		if len(d) == 1 && d[0].Key == "$elemMatch" {
			em, err := newElemMatchOp(d[0].Value)
			if err != nil {
				return -1
			}
			op := em.(elemMatchOp)
			for i, elem := range arr {
				if op.matchesElement(elem) {
					return i
				}
			}
			return -1
		}
	}
	ops, err := compileConditionValue("", cond)
	if err != nil {
		return -1
	}
	for i, elem := range arr {
		if matchAllOps(ops, []any{elem}) {
			return i
		}
	}
	return -1
}

// firstSubfieldMatch handles conditions addressed into the elements, e.g.
// filter {"a.b": 5} binding $ in an update path "a.$".
func firstSubfieldMatch(arr bson.A, subPath string, cond any) int {
	pred, err := Compile(bson.D{{Key: subPath, Value: cond}})
	if err != nil {
		return -1
	}
	for i, elem := range arr {
		if compare.IsDocument(elem) && pred.Match(compare.AsDocument(elem)) {
			return i
		}
	}
	return -1
}

func matchAllOps(ops []opMatcher, resolved []any) bool {
	for _, op := range ops {
		if !op.matches(resolved) {
			return false
		}
	}
	return true
}

// ElementCondition compiles a $pull-style condition into a matcher over
// single array elements. A document without operator keys is a nested
// filter over document elements; anything else matches element values.
func ElementCondition(cond any) (func(elem any) bool, error) {
	if compare.IsDocument(cond) && !isOperatorDocument(cond) {
		pred, err := Compile(cond)
		if err != nil {
			return nil, err
		}
		return func(elem any) bool {
			return compare.IsDocument(elem) && pred.Match(compare.AsDocument(elem))
		}, nil
	}
	ops, err := compileConditionValue("", cond)
	if err != nil {
		return nil, err
	}
	return func(elem any) bool {
		return matchAllOps(ops, []any{elem})
	}, nil
}
