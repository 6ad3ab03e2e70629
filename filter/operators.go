package filter

import (
	"math"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
	"github.com/ti/mongomock/mongoerr"
)

// pathMatcher evaluates operator conditions against every value a dotted
// path reaches, with existential semantics over implicit array traversal.
type pathMatcher struct {
	path string
	ops  []opMatcher
}

func (m *pathMatcher) matches(doc bson.D) bool {
	resolved, err := fieldpath.Resolve(doc, m.path)
	if err != nil {
		return false
	}
	if len(resolved) == 0 {
		// Field absence behaves like null for equality-class operators.
		resolved = []any{fieldpath.Missing{}}
	}
	for _, op := range m.ops {
		if !op.matches(resolved) {
			return false
		}
	}
	return true
}

// opMatcher is a single compiled operator condition over resolved values.
type opMatcher interface {
	matches(resolved []any) bool
}

func compileOperatorDoc(path string, doc bson.D) ([]opMatcher, error) {
	ops := make([]opMatcher, 0, len(doc))
	var regexPattern any
	var regexOptions string
	var sawRegex, sawOptions bool
	for _, e := range doc {
		switch e.Key {
		case "$regex":
			regexPattern = e.Value
			sawRegex = true
		case "$options":
			s, ok := e.Value.(string)
			if !ok {
				return nil, mongoerr.NewBadValue("$options", "options must be a string")
			}
			regexOptions = s
			sawOptions = true
		default:
			op, err := compileOperator(path, e.Key, e.Value)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
	}
	if sawOptions && !sawRegex {
		return nil, mongoerr.NewBadValue("$options", "$options needs a $regex")
	}
	if sawRegex {
		op, err := newRegexOp(regexPattern, regexOptions)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func compileOperator(path, name string, arg any) (opMatcher, error) {
	switch name {
	case "$eq":
		return newEqOp(arg), nil
	case "$ne":
		return notOp{inner: []opMatcher{newEqOp(arg)}}, nil
	case "$gt", "$gte", "$lt", "$lte":
		return rangeOp{name: name, value: arg}, nil
	case "$in":
		ops, err := newInOp(name, arg)
		if err != nil {
			return nil, err
		}
		return ops, nil
	case "$nin":
		inner, err := newInOp(name, arg)
		if err != nil {
			return nil, err
		}
		return notOp{inner: []opMatcher{inner}}, nil
	case "$not":
		return newNotOp(path, arg)
	case "$exists":
		return existsOp{want: isTruthy(arg)}, nil
	case "$type":
		return newTypeOp(arg)
	case "$size":
		n, ok := compare.AsInt64(arg)
		if !ok {
			return nil, mongoerr.NewBadValue("$size", "argument must be a whole number")
		}
		return sizeOp{n: int(n)}, nil
	case "$all":
		return newAllOp(path, arg)
	case "$elemMatch":
		return newElemMatchOp(arg)
	case "$mod":
		return newModOp(arg)
	default:
		return nil, mongoerr.NewUnsupportedOperator("query", name)
	}
}

// candidates expands resolved values for existential matching: every
// resolved value plus, for array values, every element of the array.
func candidates(resolved []any) []any {
	out := make([]any, 0, len(resolved))
	for _, v := range resolved {
		out = append(out, v)
		if compare.IsArray(v) {
			out = append(out, compare.AsArray(v)...)
		}
	}
	return out
}

func isMissing(v any) bool {
	_, ok := v.(fieldpath.Missing)
	return ok
}

func isNullish(v any) bool {
	return isMissing(v) || compare.IsNull(v)
}

// eqOp implements implicit equality and $eq: deep equality against the
// value itself or any element of an array value. Null also accepts a
// missing field.
type eqOp struct {
	value any
	regex *regexOp
}

func newEqOp(value any) opMatcher {
	if rx, ok := value.(primitive.Regex); ok {
		// An equality against a stored regex value doubles as a pattern
		// match against strings, like the server.
		op, err := newRegexOp(rx, "")
		if err == nil {
			return eqOp{value: value, regex: &op}
		}
	}
	return eqOp{value: value}
}

func (o eqOp) matches(resolved []any) bool {
	if isNullish(o.value) {
		for _, c := range candidates(resolved) {
			if isNullish(c) {
				return true
			}
		}
		return false
	}
	if o.regex != nil {
		return o.regex.matches(resolved)
	}
	for _, c := range candidates(resolved) {
		if isMissing(c) {
			continue
		}
		if compare.Equal(o.value, c) {
			return true
		}
	}
	return false
}

// notOp negates a conjunction of operator conditions; it backs $ne, $nin
// and $not, which have universal rather than existential semantics.
type notOp struct {
	inner []opMatcher
}

func (o notOp) matches(resolved []any) bool {
	for _, op := range o.inner {
		if op.matches(resolved) {
			return false
		}
	}
	return true
}

func newNotOp(path string, arg any) (opMatcher, error) {
	if rx, ok := arg.(primitive.Regex); ok {
		op, err := newRegexOp(rx, "")
		if err != nil {
			return nil, err
		}
		return notOp{inner: []opMatcher{op}}, nil
	}
	if !isOperatorDocument(arg) {
		return nil, mongoerr.NewBadValue("$not", "argument must be a regex or an operator document")
	}
	inner, err := compileOperatorDoc(path, compare.AsDocument(arg))
	if err != nil {
		return nil, err
	}
	return notOp{inner: inner}, nil
}

// rangeOp implements $gt/$gte/$lt/$lte. Range comparisons are
// type-bracketed: values of a different canonical type never match, even
// though the comparator still orders them.
type rangeOp struct {
	name  string
	value any
}

func (o rangeOp) matches(resolved []any) bool {
	wantRank := compare.TypeRank(o.value)
	for _, c := range candidates(resolved) {
		if isMissing(c) {
			if !compare.IsNull(o.value) {
				continue
			}
			c = nil
		}
		if compare.TypeRank(c) != wantRank {
			continue
		}
		ord := compare.Order(c, o.value)
		switch o.name {
		case "$gt":
			if ord > 0 {
				return true
			}
		case "$gte":
			if ord >= 0 {
				return true
			}
		case "$lt":
			if ord < 0 {
				return true
			}
		default:
			if ord <= 0 {
				return true
			}
		}
	}
	return false
}

// inOp implements $in: equality against any element of the argument list;
// regex elements pattern-match strings.
type inOp struct {
	elems []opMatcher
}

func newInOp(name string, arg any) (opMatcher, error) {
	arr := compare.AsArray(arg)
	if arr == nil {
		return nil, mongoerr.NewBadValue(name, "argument must be an array")
	}
	elems := make([]opMatcher, 0, len(arr))
	for _, v := range arr {
		if isOperatorDocument(v) {
			return nil, mongoerr.NewBadValue(name, "argument elements cannot be operator documents")
		}
		elems = append(elems, newEqOp(v))
	}
	return inOp{elems: elems}, nil
}

func (o inOp) matches(resolved []any) bool {
	for _, e := range o.elems {
		if e.matches(resolved) {
			return true
		}
	}
	return false
}

// existsOp implements $exists. A Missing marker does not count: null and
// missing are distinguishable here, unlike for equality.
type existsOp struct {
	want bool
}

func (o existsOp) matches(resolved []any) bool {
	exists := false
	for _, v := range resolved {
		if !isMissing(v) {
			exists = true
			break
		}
	}
	return exists == o.want
}

// typeOp implements $type with aliases, numeric codes and the "number"
// family alias.
type typeOp struct {
	names map[string]bool
}

func newTypeOp(arg any) (opMatcher, error) {
	specs := compare.AsArray(arg)
	if specs == nil {
		specs = bson.A{arg}
	}
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		switch t := s.(type) {
		case string:
			names[t] = true
		default:
			code, ok := compare.AsInt64(s)
			if !ok {
				return nil, mongoerr.NewBadValue("$type", "argument must be a type name or code")
			}
			name, found := typeNameForCode(int32(code))
			if !found {
				return nil, mongoerr.NewBadValue("$type", "unknown type code")
			}
			names[name] = true
		}
	}
	for name := range names {
		if !knownTypeName(name) {
			return nil, mongoerr.NewBadValue("$type", "unknown type name "+name)
		}
	}
	return typeOp{names: names}, nil
}

func (o typeOp) matches(resolved []any) bool {
	for _, c := range candidates(resolved) {
		if isMissing(c) {
			continue
		}
		name := compare.TypeName(c)
		if o.names[name] {
			return true
		}
		if o.names["number"] && compare.IsNumeric(c) {
			return true
		}
	}
	return false
}

func typeNameForCode(code int32) (string, bool) {
	for _, name := range typeNames {
		if codeForTypeName(name) == code {
			return name, true
		}
	}
	return "", false
}

var typeNames = []string{
	"minKey", "null", "undefined", "int", "long", "double", "decimal",
	"string", "object", "array", "binData", "objectId", "bool", "date",
	"timestamp", "regex", "maxKey", "number",
}

func knownTypeName(name string) bool {
	for _, n := range typeNames {
		if n == name {
			return true
		}
	}
	return false
}

func codeForTypeName(name string) int32 {
	switch name {
	case "minKey":
		return -1
	case "double":
		return 1
	case "string":
		return 2
	case "object":
		return 3
	case "array":
		return 4
	case "binData":
		return 5
	case "undefined":
		return 6
	case "objectId":
		return 7
	case "bool":
		return 8
	case "date":
		return 9
	case "null":
		return 10
	case "regex":
		return 11
	case "int":
		return 16
	case "timestamp":
		return 17
	case "long":
		return 18
	case "decimal":
		return 19
	case "maxKey":
		return 127
	default:
		return 0
	}
}

// sizeOp implements $size: exact array length, no fan-out.
type sizeOp struct {
	n int
}

func (o sizeOp) matches(resolved []any) bool {
	for _, v := range resolved {
		if compare.IsArray(v) && len(compare.AsArray(v)) == o.n {
			return true
		}
	}
	return false
}

// allOp implements $all: every listed value must be deep-equal to the
// resolved value or one of its elements. $elemMatch entries are allowed.
type allOp struct {
	conds []opMatcher
}

func newAllOp(path string, arg any) (opMatcher, error) {
	arr := compare.AsArray(arg)
	if arr == nil {
		return nil, mongoerr.NewBadValue("$all", "argument must be an array")
	}
	conds := make([]opMatcher, 0, len(arr))
	for _, v := range arr {
		if isOperatorDocument(v) {
			doc := compare.AsDocument(v)
			if len(doc) != 1 || doc[0].Key != "$elemMatch" {
				return nil, mongoerr.NewBadValue("$all", "only $elemMatch is allowed inside $all")
			}
			em, err := newElemMatchOp(doc[0].Value)
			if err != nil {
				return nil, err
			}
			conds = append(conds, em)
			continue
		}
		conds = append(conds, newEqOp(v))
	}
	return allOp{conds: conds}, nil
}

func (o allOp) matches(resolved []any) bool {
	// The server matches nothing for an empty $all list.
	if len(o.conds) == 0 {
		return false
	}
	for _, c := range o.conds {
		if !c.matches(resolved) {
			return false
		}
	}
	return true
}

// elemMatchOp implements $elemMatch in both of its forms: a nested filter
// over document elements, or bare operator conditions over scalar elements.
type elemMatchOp struct {
	pred *Predicate
	ops  []opMatcher
}

func newElemMatchOp(arg any) (opMatcher, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$elemMatch", "argument must be a document")
	}
	if isOperatorDocument(arg) {
		ops, err := compileOperatorDoc("", compare.AsDocument(arg))
		if err != nil {
			return nil, err
		}
		return elemMatchOp{ops: ops}, nil
	}
	pred, err := Compile(arg)
	if err != nil {
		return nil, err
	}
	return elemMatchOp{pred: pred}, nil
}

func (o elemMatchOp) matches(resolved []any) bool {
	for _, v := range resolved {
		if !compare.IsArray(v) {
			continue
		}
		for _, elem := range compare.AsArray(v) {
			if o.matchesElement(elem) {
				return true
			}
		}
	}
	return false
}

func (o elemMatchOp) matchesElement(elem any) bool {
	if o.pred != nil {
		if !compare.IsDocument(elem) {
			return false
		}
		return o.pred.Match(compare.AsDocument(elem))
	}
	single := []any{elem}
	for _, op := range o.ops {
		if !op.matches(single) {
			return false
		}
	}
	return true
}

// modOp implements $mod.
type modOp struct {
	divisor, remainder int64
}

func newModOp(arg any) (opMatcher, error) {
	arr := compare.AsArray(arg)
	if len(arr) != 2 {
		return nil, mongoerr.NewBadValue("$mod", "argument must be [divisor, remainder]")
	}
	div, ok := compare.AsInt64(arr[0])
	if !ok {
		return nil, mongoerr.NewBadValue("$mod", "divisor must be a number")
	}
	if div == 0 {
		return nil, mongoerr.NewBadValue("$mod", "divisor cannot be 0")
	}
	rem, ok := compare.AsInt64(arr[1])
	if !ok {
		return nil, mongoerr.NewBadValue("$mod", "remainder must be a number")
	}
	return modOp{divisor: div, remainder: rem}, nil
}

func (o modOp) matches(resolved []any) bool {
	for _, c := range candidates(resolved) {
		f, ok := compare.AsFloat(c)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if int64(f)%o.divisor == o.remainder {
			return true
		}
	}
	return false
}

// regexOp implements $regex and equality against stored regex values.
type regexOp struct {
	re   *regexp.Regexp
	orig primitive.Regex
}

func newRegexOp(pattern any, options string) (regexOp, error) {
	var rx primitive.Regex
	switch p := pattern.(type) {
	case string:
		rx = primitive.Regex{Pattern: p, Options: options}
	case primitive.Regex:
		rx = p
		if options != "" {
			rx.Options = options
		}
	default:
		return regexOp{}, mongoerr.NewBadValue("$regex", "pattern must be a string or regex")
	}
	var flags strings.Builder
	for _, opt := range rx.Options {
		switch opt {
		case 'i', 'm', 's':
			flags.WriteRune(opt)
		case 'x':
			// Extended mode has no Go equivalent; whitespace-significant
			// patterns behave differently and are not worth emulating.
		default:
			return regexOp{}, mongoerr.NewBadValue("$options", "unknown regex option "+string(opt))
		}
	}
	goPattern := rx.Pattern
	if flags.Len() > 0 {
		goPattern = "(?" + flags.String() + ")" + goPattern
	}
	re, err := regexp.Compile(goPattern)
	if err != nil {
		return regexOp{}, mongoerr.NewBadValue("$regex", err.Error())
	}
	return regexOp{re: re, orig: rx}, nil
}

func (o regexOp) matches(resolved []any) bool {
	for _, c := range candidates(resolved) {
		switch v := c.(type) {
		case string:
			if o.re.MatchString(v) {
				return true
			}
		case primitive.Regex:
			if v.Pattern == o.orig.Pattern && v.Options == o.orig.Options {
				return true
			}
		}
	}
	return false
}
