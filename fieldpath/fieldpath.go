// Package fieldpath implements dotted-path access into BSON documents,
// including the implicit array traversal that query matching depends on and
// the copy-on-write assignment used by the update engine.
package fieldpath

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/mongoerr"
)

// Missing marks a field that an array element traversed by the resolver does
// not carry. It is distinct from a present null: equality against null
// accepts it, $exists does not.
type Missing struct{}

// Split splits a dotted path and validates its shape.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, mongoerr.NewInvalidPath(path, "path must not be empty")
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, mongoerr.NewInvalidPath(path, "path must not contain empty segments")
		}
	}
	return segs, nil
}

// Resolve returns every value the path reaches in doc. Plain segments over
// an array fan out over its elements, which is what makes {"a.b": 5} match
// {a: [{b: 5}, {b: 1}]}. Elements that lack the field contribute a Missing
// marker; a path that reaches nothing at all returns an empty slice.
func Resolve(doc bson.D, path string) ([]any, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	var out []any
	walk(doc, segs, false, &out)
	return out, nil
}

// Values is Resolve with the Missing markers stripped.
func Values(doc bson.D, path string) ([]any, error) {
	resolved, err := Resolve(doc, path)
	if err != nil {
		return nil, err
	}
	out := resolved[:0]
	for _, v := range resolved {
		if _, missing := v.(Missing); !missing {
			out = append(out, v)
		}
	}
	return out, nil
}

// Lookup returns the first value the path reaches, if any. Used where a
// single representative value is wanted, e.g. sort keys and group keys.
func Lookup(doc bson.D, path string) (any, bool) {
	resolved, err := Values(doc, path)
	if err != nil || len(resolved) == 0 {
		return nil, false
	}
	return resolved[0], true
}

func walk(v any, segs []string, inArray bool, out *[]any) {
	if len(segs) == 0 {
		*out = append(*out, v)
		return
	}
	seg, rest := segs[0], segs[1:]
	switch {
	case compare.IsDocument(v):
		doc := compare.AsDocument(v)
		for _, e := range doc {
			if e.Key == seg {
				walk(e.Value, rest, false, out)
				return
			}
		}
		if inArray {
			*out = append(*out, Missing{})
		}
	case compare.IsArray(v):
		arr := compare.AsArray(v)
		if idx, err := strconv.Atoi(seg); err == nil && idx >= 0 {
			if idx < len(arr) {
				walk(arr[idx], rest, false, out)
			}
			return
		}
		for _, elem := range arr {
			if compare.IsDocument(elem) {
				walk(elem, segs, true, out)
			} else {
				// Scalar elements cannot carry the field; record the gap so
				// null-equality over the path still behaves existentially.
				*out = append(*out, Missing{})
			}
		}
	default:
		if inArray {
			*out = append(*out, Missing{})
		}
	}
}

// BindPositional substitutes the positional $ placeholder with the index of
// the array element that matched the outer filter. index < 0 means no
// element was bound.
func BindPositional(path string, index int) (string, error) {
	segs, err := Split(path)
	if err != nil {
		return "", err
	}
	bound := false
	for i, s := range segs {
		if s != "$" {
			continue
		}
		if bound {
			return "", mongoerr.NewInvalidPath(path, "at most one positional $ is allowed")
		}
		if index < 0 {
			return "", mongoerr.NewInvalidPath(path, "the positional operator did not find a matching array element")
		}
		segs[i] = strconv.Itoa(index)
		bound = true
	}
	return strings.Join(segs, "."), nil
}

// HasPositional reports whether the path contains a positional $ segment.
func HasPositional(path string) bool {
	for _, s := range strings.Split(path, ".") {
		if s == "$" {
			return true
		}
	}
	return false
}

// CloneDocument deep-copies a document so callers can hand out results
// without aliasing stored state.
func CloneDocument(doc bson.D) bson.D {
	if doc == nil {
		return nil
	}
	out := make(bson.D, len(doc))
	for i, e := range doc {
		out[i] = bson.E{Key: e.Key, Value: CloneValue(e.Value)}
	}
	return out
}

// CloneArray deep-copies an array.
func CloneArray(arr bson.A) bson.A {
	out := make(bson.A, len(arr))
	for i, v := range arr {
		out[i] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies documents and arrays; scalars are returned as is.
func CloneValue(v any) any {
	switch {
	case compare.IsDocument(v):
		return CloneDocument(compare.AsDocument(v))
	case compare.IsArray(v):
		return CloneArray(compare.AsArray(v))
	default:
		return v
	}
}

// Set assigns value at path, creating intermediate documents (or arrays for
// numeric segments) along the way. The input document is never mutated; the
// returned document shares no structure along the written path.
func Set(doc bson.D, path string, value any) (bson.D, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	result, err := setIn(doc, path, segs, value)
	if err != nil {
		return nil, err
	}
	return result.(bson.D), nil
}

func setIn(container any, path string, segs []string, value any) (any, error) {
	seg, rest := segs[0], segs[1:]
	switch {
	case container == nil, compare.IsNull(container):
		return setIn(emptyContainer(seg), path, segs, value)
	case compare.IsDocument(container):
		doc := compare.AsDocument(container)
		out := make(bson.D, len(doc))
		copy(out, doc)
		for i, e := range out {
			if e.Key != seg {
				continue
			}
			if len(rest) == 0 {
				out[i].Value = value
				return out, nil
			}
			child, err := setIn(e.Value, path, rest, value)
			if err != nil {
				return nil, err
			}
			out[i].Value = child
			return out, nil
		}
		if len(rest) == 0 {
			return append(out, bson.E{Key: seg, Value: value}), nil
		}
		child, err := setIn(emptyContainer(rest[0]), path, rest, value)
		if err != nil {
			return nil, err
		}
		return append(out, bson.E{Key: seg, Value: child}), nil
	case compare.IsArray(container):
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 {
			return nil, mongoerr.NewInvalidPath(path,
				"cannot use part \""+seg+"\" to traverse an array element")
		}
		arr := compare.AsArray(container)
		out := make(bson.A, len(arr))
		copy(out, arr)
		// Writing past the end pads the gap with nulls, like the server.
		for len(out) <= idx {
			out = append(out, nil)
		}
		if len(rest) == 0 {
			out[idx] = value
			return out, nil
		}
		child, err := setIn(out[idx], path, rest, value)
		if err != nil {
			return nil, err
		}
		out[idx] = child
		return out, nil
	default:
		return nil, mongoerr.NewInvalidPath(path,
			"cannot create field \""+seg+"\" in an element of type "+compare.TypeName(container))
	}
}

func emptyContainer(nextSeg string) any {
	if _, err := strconv.Atoi(nextSeg); err == nil {
		return bson.A{}
	}
	return bson.D{}
}

// Unset removes the value at path. Removing an array element leaves a null
// in its position rather than shifting later elements, matching $unset
// semantics. Unsetting a path that does not exist is a no-op.
func Unset(doc bson.D, path string) (bson.D, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	result := unsetIn(doc, segs)
	return result.(bson.D), nil
}

func unsetIn(container any, segs []string) any {
	seg, rest := segs[0], segs[1:]
	switch {
	case compare.IsDocument(container):
		doc := compare.AsDocument(container)
		out := make(bson.D, 0, len(doc))
		for _, e := range doc {
			if e.Key != seg {
				out = append(out, e)
				continue
			}
			if len(rest) == 0 {
				continue
			}
			out = append(out, bson.E{Key: e.Key, Value: unsetIn(e.Value, rest)})
		}
		return out
	case compare.IsArray(container):
		idx, err := strconv.Atoi(seg)
		arr := compare.AsArray(container)
		if err != nil || idx < 0 || idx >= len(arr) {
			return container
		}
		out := make(bson.A, len(arr))
		copy(out, arr)
		if len(rest) == 0 {
			out[idx] = nil
		} else {
			out[idx] = unsetIn(out[idx], rest)
		}
		return out
	default:
		return container
	}
}
