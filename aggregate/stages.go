package aggregate

import (
	"math/rand"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
	"github.com/ti/mongomock/filter"
	"github.com/ti/mongomock/mongoerr"
)

// mapStage lifts a per-document transform into a streaming stage. A nil
// result document drops the input.
type mapStage struct {
	fn func(doc bson.D) (bson.D, error)
}

func (s mapStage) connect(in stream) stream {
	return func() (bson.D, bool, error) {
		for {
			doc, ok, err := in()
			if err != nil || !ok {
				return nil, false, err
			}
			out, err := s.fn(doc)
			if err != nil {
				return nil, false, err
			}
			if out == nil {
				continue
			}
			return out, true, nil
		}
	}
}

// blockStage drains its input and transforms the whole batch at once.
type blockStage struct {
	fn func(docs []bson.D) ([]bson.D, error)
}

func (s blockStage) connect(in stream) stream {
	var out stream
	return func() (bson.D, bool, error) {
		if out == nil {
			docs, err := drain(in)
			if err != nil {
				return nil, false, err
			}
			docs, err = s.fn(docs)
			if err != nil {
				return nil, false, err
			}
			i := 0
			out = func() (bson.D, bool, error) {
				if i >= len(docs) {
					return nil, false, nil
				}
				d := docs[i]
				i++
				return d, true, nil
			}
		}
		return out()
	}
}

func compileMatchStage(arg any) (stage, error) {
	pred, err := filter.Compile(arg)
	if err != nil {
		return nil, err
	}
	return mapStage{fn: func(doc bson.D) (bson.D, error) {
		if pred.Match(doc) {
			return doc, nil
		}
		return nil, nil
	}}, nil
}

// projNode is one level of a projection tree. A leaf (no children) names a
// whole field; inner nodes descend into subdocuments and array elements.
type projNode struct {
	children map[string]*projNode
}

func (n *projNode) insert(path string) {
	segs := strings.Split(path, ".")
	cur := n
	for _, s := range segs {
		if cur.children == nil {
			cur.children = map[string]*projNode{}
		}
		next, ok := cur.children[s]
		if !ok {
			next = &projNode{}
			cur.children[s] = next
		}
		cur = next
	}
	// A full-field spec overrides any narrower one.
	cur.children = nil
}

type computedField struct {
	path string
	expr *Expr
}

type projectStage struct {
	exclusion bool
	tree      *projNode
	computed  []computedField
}

func compileProjectStage(arg any) (stage, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$project", "argument must be a document")
	}
	spec := compare.AsDocument(arg)
	if len(spec) == 0 {
		return nil, mongoerr.NewBadValue("$project", "requires at least one field")
	}
	st := &projectStage{tree: &projNode{}}
	mode := 0 // +1 inclusion, -1 exclusion
	excludeID := false
	for _, e := range spec {
		switch kind := projectKind(e.Value); kind {
		case 0: // exclude
			if e.Key == "_id" {
				excludeID = true
				continue
			}
			if mode > 0 {
				return nil, mongoerr.NewFailedToParse(
					"cannot exclude " + e.Key + " in an inclusion projection")
			}
			mode = -1
			st.tree.insert(e.Key)
		case 1: // include
			if mode < 0 {
				return nil, mongoerr.NewFailedToParse(
					"cannot include " + e.Key + " in an exclusion projection")
			}
			mode = 1
			st.tree.insert(e.Key)
		default: // computed
			if mode < 0 {
				return nil, mongoerr.NewFailedToParse(
					"cannot compute " + e.Key + " in an exclusion projection")
			}
			mode = 1
			expr, err := CompileExpr(e.Value)
			if err != nil {
				return nil, err
			}
			st.computed = append(st.computed, computedField{path: e.Key, expr: expr})
		}
	}
	st.exclusion = mode < 0
	if st.exclusion {
		if excludeID {
			st.tree.insert("_id")
		}
	} else if !excludeID {
		st.tree.insert("_id")
	}
	return mapStage{fn: st.apply}, nil
}

// projectKind classifies a projection value: 0 exclude, 1 include, 2
// computed expression.
func projectKind(v any) int {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		if f, ok := compare.AsFloat(v); ok {
			if f == 0 {
				return 0
			}
			return 1
		}
		return 2
	}
}

func (s *projectStage) apply(doc bson.D) (bson.D, error) {
	var out bson.D
	if s.exclusion {
		out = excludeTree(doc, s.tree)
	} else {
		out = includeTree(doc, s.tree)
	}
	for _, cf := range s.computed {
		v, err := cf.expr.evaluate(doc)
		if err != nil {
			return nil, err
		}
		if isMissingVal(v) {
			continue
		}
		out, err = fieldpath.Set(out, cf.path, v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func includeTree(doc bson.D, node *projNode) bson.D {
	out := bson.D{}
	for _, e := range doc {
		child, ok := node.children[e.Key]
		if !ok {
			continue
		}
		if child.children == nil {
			out = append(out, bson.E{Key: e.Key, Value: e.Value})
			continue
		}
		if v, ok := includeValue(e.Value, child); ok {
			out = append(out, bson.E{Key: e.Key, Value: v})
		}
	}
	return out
}

func includeValue(v any, node *projNode) (any, bool) {
	switch {
	case compare.IsDocument(v):
		return includeTree(compare.AsDocument(v), node), true
	case compare.IsArray(v):
		out := bson.A{}
		for _, elem := range compare.AsArray(v) {
			if compare.IsDocument(elem) {
				out = append(out, includeTree(compare.AsDocument(elem), node))
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func excludeTree(doc bson.D, node *projNode) bson.D {
	out := bson.D{}
	for _, e := range doc {
		child, ok := node.children[e.Key]
		if !ok {
			out = append(out, bson.E{Key: e.Key, Value: e.Value})
			continue
		}
		if child.children == nil {
			continue
		}
		out = append(out, bson.E{Key: e.Key, Value: excludeValue(e.Value, child)})
	}
	return out
}

func excludeValue(v any, node *projNode) any {
	switch {
	case compare.IsDocument(v):
		return excludeTree(compare.AsDocument(v), node)
	case compare.IsArray(v):
		arr := compare.AsArray(v)
		out := make(bson.A, len(arr))
		for i, elem := range arr {
			out[i] = excludeValue(elem, node)
		}
		return out
	default:
		return v
	}
}

func compileAddFieldsStage(name string, arg any) (stage, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue(name, "argument must be a document")
	}
	var fields []computedField
	for _, e := range compare.AsDocument(arg) {
		expr, err := CompileExpr(e.Value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, computedField{path: e.Key, expr: expr})
	}
	return mapStage{fn: func(doc bson.D) (bson.D, error) {
		out := doc
		for _, cf := range fields {
			v, err := cf.expr.evaluate(doc)
			if err != nil {
				return nil, err
			}
			if isMissingVal(v) {
				// $$REMOVE and dead-end paths drop the field.
				out, err = fieldpath.Unset(out, cf.path)
			} else {
				out, err = fieldpath.Set(out, cf.path, v)
			}
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}}, nil
}

func compileUnsetStage(arg any) (stage, error) {
	var paths []string
	switch {
	case compare.IsArray(arg):
		for _, v := range compare.AsArray(arg) {
			s, ok := v.(string)
			if !ok {
				return nil, mongoerr.NewBadValue("$unset", "fields must be strings")
			}
			paths = append(paths, s)
		}
	default:
		s, ok := arg.(string)
		if !ok {
			return nil, mongoerr.NewBadValue("$unset", "argument must be a string or an array of strings")
		}
		paths = []string{s}
	}
	if len(paths) == 0 {
		return nil, mongoerr.NewBadValue("$unset", "requires at least one field")
	}
	return mapStage{fn: func(doc bson.D) (bson.D, error) {
		out := doc
		var err error
		for _, p := range paths {
			out, err = fieldpath.Unset(out, p)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}}, nil
}

func compileReplaceRootStage(name string, arg any) (stage, error) {
	spec := arg
	if name == "$replaceRoot" {
		if !compare.IsDocument(arg) {
			return nil, mongoerr.NewBadValue(name, "argument must be a document")
		}
		doc := compare.AsDocument(arg)
		if len(doc) != 1 || doc[0].Key != "newRoot" {
			return nil, mongoerr.NewBadValue(name, "requires a single newRoot argument")
		}
		spec = doc[0].Value
	}
	expr, err := CompileExpr(spec)
	if err != nil {
		return nil, err
	}
	return mapStage{fn: func(doc bson.D) (bson.D, error) {
		v, err := expr.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		if !compare.IsDocument(v) {
			return nil, mongoerr.NewExpressionType(name, compare.TypeName(v))
		}
		return compare.AsDocument(v), nil
	}}, nil
}

type unwindStage struct {
	path       string
	indexField string
	preserve   bool
}

func compileUnwindStage(arg any) (stage, error) {
	st := unwindStage{}
	switch {
	case compare.IsDocument(arg):
		for _, e := range compare.AsDocument(arg) {
			switch e.Key {
			case "path":
				s, _ := e.Value.(string)
				st.path = s
			case "includeArrayIndex":
				s, ok := e.Value.(string)
				if !ok || s == "" || strings.HasPrefix(s, "$") {
					return nil, mongoerr.NewBadValue("$unwind", "includeArrayIndex must be a plain field name")
				}
				st.indexField = s
			case "preserveNullAndEmptyArrays":
				b, ok := e.Value.(bool)
				if !ok {
					return nil, mongoerr.NewBadValue("$unwind", "preserveNullAndEmptyArrays must be a boolean")
				}
				st.preserve = b
			default:
				return nil, mongoerr.NewBadValue("$unwind", "unknown argument "+e.Key)
			}
		}
	default:
		s, _ := arg.(string)
		st.path = s
	}
	if !strings.HasPrefix(st.path, "$") || len(st.path) < 2 {
		return nil, mongoerr.NewBadValue("$unwind", "path must be a field reference starting with $")
	}
	st.path = st.path[1:]
	return st, nil
}

func (s unwindStage) connect(in stream) stream {
	var pending []bson.D
	return func() (bson.D, bool, error) {
		for {
			if len(pending) > 0 {
				d := pending[0]
				pending = pending[1:]
				return d, true, nil
			}
			doc, ok, err := in()
			if err != nil || !ok {
				return nil, false, err
			}
			pending, err = s.expand(doc)
			if err != nil {
				return nil, false, err
			}
		}
	}
}

func (s unwindStage) expand(doc bson.D) ([]bson.D, error) {
	v, exists := fieldpath.Lookup(doc, s.path)
	if !exists || compare.IsNull(v) {
		return s.passthrough(doc, !exists)
	}
	arr := compare.AsArray(v)
	if arr == nil {
		// A non-array value unwinds to itself.
		out, err := s.withIndex(doc, nil)
		if err != nil {
			return nil, err
		}
		return []bson.D{out}, nil
	}
	if len(arr) == 0 {
		return s.passthrough(doc, true)
	}
	docs := make([]bson.D, 0, len(arr))
	for i, elem := range arr {
		d, err := fieldpath.Set(doc, s.path, fieldpath.CloneValue(elem))
		if err != nil {
			return nil, err
		}
		d, err = s.withIndex(d, int64(i))
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// passthrough handles null, missing and empty-array values: dropped unless
// preserveNullAndEmptyArrays asks to keep the document.
func (s unwindStage) passthrough(doc bson.D, unsetField bool) ([]bson.D, error) {
	if !s.preserve {
		return nil, nil
	}
	out := doc
	var err error
	if unsetField {
		out, err = fieldpath.Unset(out, s.path)
		if err != nil {
			return nil, err
		}
	}
	out, err = s.withIndex(out, nil)
	if err != nil {
		return nil, err
	}
	return []bson.D{out}, nil
}

func (s unwindStage) withIndex(doc bson.D, idx any) (bson.D, error) {
	if s.indexField == "" {
		return doc, nil
	}
	return fieldpath.Set(doc, s.indexField, idx)
}

type lookupStage struct {
	from         string
	localField   string
	foreignField string
	as           string
	fetch        LookupFunc
}

func compileLookupStage(arg any, opts Options) (stage, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$lookup", "argument must be a document")
	}
	st := lookupStage{fetch: opts.Lookup}
	for _, e := range compare.AsDocument(arg) {
		s, ok := e.Value.(string)
		if !ok {
			return nil, mongoerr.NewBadValue("$lookup", e.Key+" must be a string")
		}
		switch e.Key {
		case "from":
			st.from = s
		case "localField":
			st.localField = s
		case "foreignField":
			st.foreignField = s
		case "as":
			st.as = s
		default:
			return nil, mongoerr.NewUnsupportedOperator("$lookup argument", e.Key)
		}
	}
	if st.from == "" || st.localField == "" || st.foreignField == "" || st.as == "" {
		return nil, mongoerr.NewBadValue("$lookup", "requires from, localField, foreignField and as")
	}
	if st.fetch == nil {
		return nil, mongoerr.NewBadValue("$lookup", "no collection resolver is available")
	}
	return st, nil
}

func (s lookupStage) connect(in stream) stream {
	var foreign []bson.D
	fetched := false
	return mapStage{fn: func(doc bson.D) (bson.D, error) {
		if !fetched {
			var err error
			foreign, err = s.fetch(s.from)
			if err != nil {
				return nil, err
			}
			fetched = true
		}
		local := joinValues(doc, s.localField)
		matched := bson.A{}
		for _, fd := range foreign {
			if joinMatch(joinValues(fd, s.foreignField), local) {
				matched = append(matched, fieldpath.CloneDocument(fd))
			}
		}
		return fieldpath.Set(doc, s.as, matched)
	}}.connect(in)
}

// joinValues collects the candidate join values at a path: each resolved
// value plus, for arrays, each element. A path that reaches nothing joins
// as null.
func joinValues(doc bson.D, path string) []any {
	resolved, err := fieldpath.Resolve(doc, path)
	if err != nil {
		return []any{nil}
	}
	out := []any{}
	for _, v := range resolved {
		if _, missing := v.(fieldpath.Missing); missing {
			continue
		}
		out = append(out, v)
		out = append(out, compare.AsArray(v)...)
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	return out
}

func joinMatch(a, b []any) bool {
	for _, x := range a {
		for _, y := range b {
			if compare.Equal(x, y) {
				return true
			}
		}
	}
	return false
}

type graphLookupStage struct {
	from        string
	startWith   *Expr
	connectFrom string
	connectTo   string
	as          string
	maxDepth    int64
	hasMaxDepth bool
	depthField  string
	fetch       LookupFunc
}

func compileGraphLookupStage(arg any, opts Options) (stage, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$graphLookup", "argument must be a document")
	}
	st := graphLookupStage{fetch: opts.Lookup}
	for _, e := range compare.AsDocument(arg) {
		switch e.Key {
		case "from":
			st.from, _ = e.Value.(string)
		case "startWith":
			expr, err := CompileExpr(e.Value)
			if err != nil {
				return nil, err
			}
			st.startWith = expr
		case "connectFromField":
			st.connectFrom, _ = e.Value.(string)
		case "connectToField":
			st.connectTo, _ = e.Value.(string)
		case "as":
			st.as, _ = e.Value.(string)
		case "maxDepth":
			n, ok := compare.AsInt64(e.Value)
			if !ok || n < 0 {
				return nil, mongoerr.NewBadValue("$graphLookup", "maxDepth must be a non-negative whole number")
			}
			st.maxDepth = n
			st.hasMaxDepth = true
		case "depthField":
			st.depthField, _ = e.Value.(string)
		default:
			return nil, mongoerr.NewUnsupportedOperator("$graphLookup argument", e.Key)
		}
	}
	if st.from == "" || st.startWith == nil || st.connectFrom == "" || st.connectTo == "" || st.as == "" {
		return nil, mongoerr.NewBadValue("$graphLookup",
			"requires from, startWith, connectFromField, connectToField and as")
	}
	if st.fetch == nil {
		return nil, mongoerr.NewBadValue("$graphLookup", "no collection resolver is available")
	}
	return st, nil
}

func (s graphLookupStage) connect(in stream) stream {
	var foreign []bson.D
	fetched := false
	return mapStage{fn: func(doc bson.D) (bson.D, error) {
		if !fetched {
			var err error
			foreign, err = s.fetch(s.from)
			if err != nil {
				return nil, err
			}
			fetched = true
		}
		start, err := s.startWith.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		frontier := bson.A{start}
		if arr := compare.AsArray(start); arr != nil {
			frontier = arr
		}
		var found bson.A
		var foundIDs []any
		depth := int64(0)
		for len(frontier) > 0 {
			if s.hasMaxDepth && depth > s.maxDepth {
				break
			}
			var next bson.A
			for _, fd := range foreign {
				id, _ := fieldpath.Lookup(fd, "_id")
				if containsEqual(bson.A(foundIDs), id) {
					continue
				}
				if !joinMatch(joinValues(fd, s.connectTo), frontier) {
					continue
				}
				matched := fieldpath.CloneDocument(fd)
				if s.depthField != "" {
					matched, err = fieldpath.Set(matched, s.depthField, depth)
					if err != nil {
						return nil, err
					}
				}
				found = append(found, matched)
				foundIDs = append(foundIDs, id)
				next = append(next, joinValues(fd, s.connectFrom)...)
			}
			frontier = next
			depth++
		}
		if found == nil {
			found = bson.A{}
		}
		return fieldpath.Set(doc, s.as, found)
	}}.connect(in)
}

// limitStage counts per connect so a compiled pipeline stays reusable.
type limitStage struct {
	n int64
}

func (s limitStage) connect(in stream) stream {
	seen := int64(0)
	return mapStage{fn: func(doc bson.D) (bson.D, error) {
		if seen >= s.n {
			return nil, nil
		}
		seen++
		return doc, nil
	}}.connect(in)
}

func compileLimitStage(arg any) (stage, error) {
	n, ok := compare.AsInt64(arg)
	if !ok || n < 0 {
		return nil, mongoerr.NewBadValue("$limit", "argument must be a non-negative whole number")
	}
	return limitStage{n: n}, nil
}

type skipStage struct {
	n int64
}

func (s skipStage) connect(in stream) stream {
	skipped := int64(0)
	return mapStage{fn: func(doc bson.D) (bson.D, error) {
		if skipped < s.n {
			skipped++
			return nil, nil
		}
		return doc, nil
	}}.connect(in)
}

func compileSkipStage(arg any) (stage, error) {
	n, ok := compare.AsInt64(arg)
	if !ok || n < 0 {
		return nil, mongoerr.NewBadValue("$skip", "argument must be a non-negative whole number")
	}
	return skipStage{n: n}, nil
}

func compileCountStage(arg any) (stage, error) {
	name, ok := arg.(string)
	if !ok || name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
		return nil, mongoerr.NewBadValue("$count", "argument must be a plain field name")
	}
	return blockStage{fn: func(docs []bson.D) ([]bson.D, error) {
		if len(docs) == 0 {
			return nil, nil
		}
		return []bson.D{{{Key: name, Value: int32(len(docs))}}}, nil
	}}, nil
}

// SortKey is one field of a sort specification.
type SortKey struct {
	Path string
	Dir  int
}

// ParseSortSpec parses a {field: 1|-1, ...} sort document.
func ParseSortSpec(arg any) ([]SortKey, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$sort", "argument must be a document")
	}
	spec := compare.AsDocument(arg)
	if len(spec) == 0 {
		return nil, mongoerr.NewBadValue("$sort", "requires at least one field")
	}
	keys := make([]SortKey, 0, len(spec))
	for _, e := range spec {
		d, ok := compare.AsInt64(e.Value)
		if !ok || (d != 1 && d != -1) {
			return nil, mongoerr.NewBadValue("$sort", "direction must be 1 or -1")
		}
		keys = append(keys, SortKey{Path: e.Key, Dir: int(d)})
	}
	return keys, nil
}

func compileSortStage(arg any) (stage, error) {
	keys, err := ParseSortSpec(arg)
	if err != nil {
		return nil, err
	}
	return blockStage{fn: func(docs []bson.D) ([]bson.D, error) {
		SortDocs(docs, keys)
		return docs, nil
	}}, nil
}

// SortDocs sorts documents in place by the given keys using the canonical
// cross-type order. Missing fields sort as null. The sort is stable.
func SortDocs(docs []bson.D, keys []SortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			vi, _ := fieldpath.Lookup(docs[i], k.Path)
			vj, _ := fieldpath.Lookup(docs[j], k.Path)
			if c := compare.Order(vi, vj) * k.Dir; c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func compileFacetStage(arg any, opts Options) (stage, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$facet", "argument must be a document")
	}
	spec := compare.AsDocument(arg)
	if len(spec) == 0 {
		return nil, mongoerr.NewBadValue("$facet", "requires at least one sub-pipeline")
	}
	type facet struct {
		name     string
		pipeline *Pipeline
	}
	facets := make([]facet, 0, len(spec))
	for _, e := range spec {
		p, err := Compile(e.Value, opts)
		if err != nil {
			return nil, err
		}
		facets = append(facets, facet{name: e.Key, pipeline: p})
	}
	return blockStage{fn: func(docs []bson.D) ([]bson.D, error) {
		out := make(bson.D, 0, len(facets))
		for _, f := range facets {
			res, err := f.pipeline.Run(docs)
			if err != nil {
				return nil, err
			}
			arr := make(bson.A, len(res))
			for i, d := range res {
				arr[i] = d
			}
			out = append(out, bson.E{Key: f.name, Value: arr})
		}
		return []bson.D{out}, nil
	}}, nil
}

func compileSortByCountStage(arg any) (stage, error) {
	expr, err := CompileExpr(arg)
	if err != nil {
		return nil, err
	}
	return blockStage{fn: func(docs []bson.D) ([]bson.D, error) {
		type bucket struct {
			key   any
			count int32
		}
		var buckets []*bucket
		for _, doc := range docs {
			v, err := expr.Evaluate(doc)
			if err != nil {
				return nil, err
			}
			found := false
			for _, b := range buckets {
				if compare.Equal(b.key, v) {
					b.count++
					found = true
					break
				}
			}
			if !found {
				buckets = append(buckets, &bucket{key: v, count: 1})
			}
		}
		sort.SliceStable(buckets, func(i, j int) bool {
			return buckets[i].count > buckets[j].count
		})
		out := make([]bson.D, len(buckets))
		for i, b := range buckets {
			out[i] = bson.D{{Key: "_id", Value: b.key}, {Key: "count", Value: b.count}}
		}
		return out, nil
	}}, nil
}

func compileSampleStage(arg any) (stage, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$sample", "argument must be {size: <n>}")
	}
	spec := compare.AsDocument(arg)
	if len(spec) != 1 || spec[0].Key != "size" {
		return nil, mongoerr.NewBadValue("$sample", "argument must be {size: <n>}")
	}
	size, ok := compare.AsInt64(spec[0].Value)
	if !ok || size < 0 {
		return nil, mongoerr.NewBadValue("$sample", "size must be a non-negative whole number")
	}
	return blockStage{fn: func(docs []bson.D) ([]bson.D, error) {
		if size >= int64(len(docs)) {
			return docs, nil
		}
		out := make([]bson.D, 0, size)
		for _, i := range rand.Perm(len(docs))[:size] {
			out = append(out, docs[i])
		}
		return out, nil
	}}, nil
}
