// Package update applies MongoDB update documents to BSON documents as a
// pure transform: the input document is never mutated, and a failed update
// leaves nothing half-applied.
package update

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
	"github.com/ti/mongomock/filter"
	"github.com/ti/mongomock/mongoerr"
)

// Now is the engine's clock, split out so tests can pin $currentDate.
var Now = time.Now

// Options control aspects of an update that depend on its calling context.
type Options struct {
	// Filter is the query that selected the document; it binds the
	// positional $ placeholder in update paths.
	Filter any
	// ForInsert marks an upsert insert, enabling $setOnInsert.
	ForInsert bool
}

// PipelineRunner executes an aggregation-pipeline-form update over a single
// document. Registered by the aggregate package.
type PipelineRunner func(doc bson.D, pipeline bson.A) (bson.D, error)

var pipelineRunner PipelineRunner

// RegisterPipelineRunner installs the pipeline-update executor. Called from
// the aggregate package's init.
func RegisterPipelineRunner(r PipelineRunner) {
	pipelineRunner = r
}

// Apply applies an update document to doc and returns the new document.
func Apply(doc bson.D, spec any) (bson.D, error) {
	return ApplyWithOptions(doc, spec, Options{})
}

// ApplyWithOptions applies an update document with calling context.
func ApplyWithOptions(doc bson.D, spec any, opts Options) (bson.D, error) {
	if arr := compare.AsArray(spec); arr != nil {
		if pipelineRunner == nil {
			return nil, mongoerr.NewUnsupportedOperator("update", "pipeline")
		}
		return pipelineRunner(doc, arr)
	}
	if !compare.IsDocument(spec) {
		return nil, mongoerr.NewFailedToParse("update must be a document or a pipeline array")
	}
	updateDoc := compare.AsDocument(spec)
	if err := validateOperators(updateDoc); err != nil {
		return nil, err
	}
	if err := checkConflicts(updateDoc); err != nil {
		return nil, err
	}
	result := fieldpath.CloneDocument(doc)
	for _, op := range updateDoc {
		fields := compare.AsDocument(op.Value)
		for _, f := range fields {
			path, err := bindPath(f.Key, doc, opts)
			if err != nil {
				return nil, err
			}
			result, err = applyOperator(result, doc, op.Key, path, f.Value, opts)
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

var operatorNames = map[string]bool{
	"$set": true, "$setOnInsert": true, "$unset": true,
	"$inc": true, "$mul": true, "$min": true, "$max": true,
	"$rename": true, "$currentDate": true,
	"$push": true, "$addToSet": true, "$pull": true, "$pullAll": true, "$pop": true,
}

func validateOperators(updateDoc bson.D) error {
	for _, op := range updateDoc {
		if !strings.HasPrefix(op.Key, "$") {
			return mongoerr.NewFailedToParse(
				"update document requires atomic operators, found plain field " + op.Key)
		}
		if !operatorNames[op.Key] {
			return mongoerr.NewUnsupportedOperator("update", op.Key)
		}
		if !compare.IsDocument(op.Value) {
			return mongoerr.NewBadValue(op.Key, "argument must be a document")
		}
	}
	return nil
}

// checkConflicts rejects updates where two operators target the same path
// or one path is a prefix of another, rather than silently picking one.
func checkConflicts(updateDoc bson.D) error {
	var seen []string
	add := func(path string) error {
		for _, prev := range seen {
			if prev == path || strings.HasPrefix(path, prev+".") || strings.HasPrefix(prev, path+".") {
				return mongoerr.NewConflictingUpdate(prev, path)
			}
		}
		seen = append(seen, path)
		return nil
	}
	for _, op := range updateDoc {
		if !compare.IsDocument(op.Value) {
			continue
		}
		for _, f := range compare.AsDocument(op.Value) {
			if err := add(f.Key); err != nil {
				return err
			}
			if op.Key == "$rename" {
				if to, ok := f.Value.(string); ok {
					if err := add(to); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// bindPath resolves the positional $ placeholder against the filter that
// selected the document.
func bindPath(path string, doc bson.D, opts Options) (string, error) {
	if !fieldpath.HasPositional(path) {
		return path, nil
	}
	segs := strings.Split(path, ".")
	arrayPath := path
	for i, s := range segs {
		if s == "$" {
			arrayPath = strings.Join(segs[:i], ".")
			break
		}
	}
	if arrayPath == "" {
		return "", mongoerr.NewInvalidPath(path, "positional $ cannot be the first segment")
	}
	idx := -1
	if opts.Filter != nil {
		idx = filter.FirstMatchingIndex(opts.Filter, doc, arrayPath)
	}
	return fieldpath.BindPositional(path, idx)
}

func applyOperator(result, original bson.D, op, path string, arg any, opts Options) (bson.D, error) {
	if err := checkImmutableID(original, op, path, arg); err != nil {
		return nil, err
	}
	switch op {
	case "$set":
		return fieldpath.Set(result, path, fieldpath.CloneValue(arg))
	case "$setOnInsert":
		if !opts.ForInsert {
			return result, nil
		}
		return fieldpath.Set(result, path, fieldpath.CloneValue(arg))
	case "$unset":
		return fieldpath.Unset(result, path)
	case "$inc":
		return applyArithmetic(result, op, path, arg, false)
	case "$mul":
		return applyArithmetic(result, op, path, arg, true)
	case "$min":
		return applyMinMax(result, path, arg, -1)
	case "$max":
		return applyMinMax(result, path, arg, 1)
	case "$rename":
		return applyRename(result, path, arg)
	case "$currentDate":
		return applyCurrentDate(result, op, path, arg)
	case "$push":
		return applyPush(result, path, arg)
	case "$addToSet":
		return applyAddToSet(result, path, arg)
	case "$pull":
		return applyPull(result, path, arg)
	case "$pullAll":
		return applyPullAll(result, path, arg)
	case "$pop":
		return applyPop(result, op, path, arg)
	default:
		return nil, mongoerr.NewUnsupportedOperator("update", op)
	}
}

// checkImmutableID rejects operators that would change _id. Setting _id to
// its current value is tolerated, which is what replace-style code does.
func checkImmutableID(original bson.D, op, path string, arg any) error {
	if path != "_id" && !strings.HasPrefix(path, "_id.") {
		return nil
	}
	if op == "$set" {
		if current, ok := fieldpath.Lookup(original, "_id"); ok && path == "_id" && compare.Equal(current, arg) {
			return nil
		}
	}
	return mongoerr.NewImmutableField(path)
}

func applyArithmetic(result bson.D, op, path string, arg any, mul bool) (bson.D, error) {
	if !compare.IsNumeric(arg) {
		return nil, mongoerr.NewTypeMismatch(op, compare.TypeName(arg))
	}
	current, exists := fieldpath.Lookup(result, path)
	if exists && !compare.IsNumeric(current) {
		return nil, mongoerr.NewTypeMismatch(op, compare.TypeName(current), compare.TypeName(arg))
	}
	var next any
	switch {
	case !exists && mul:
		// Multiplying a missing field leaves a zero of the operand's type.
		next = zeroLike(arg)
	case !exists:
		next = arg
	default:
		next = arithmetic(current, arg, mul)
	}
	return fieldpath.Set(result, path, next)
}

func arithmetic(a, b any, mul bool) any {
	ia, aInt := intOf(a)
	ib, bInt := intOf(b)
	if aInt && bInt {
		if mul {
			return ia * ib
		}
		return ia + ib
	}
	fa, _ := compare.AsFloat(a)
	fb, _ := compare.AsFloat(b)
	if mul {
		return fa * fb
	}
	return fa + fb
}

func intOf(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func zeroLike(v any) any {
	if _, ok := intOf(v); ok {
		return int64(0)
	}
	return float64(0)
}

func applyMinMax(result bson.D, path string, arg any, keep int) (bson.D, error) {
	current, exists := fieldpath.Lookup(result, path)
	if exists {
		// $min keeps the smaller of the two, $max the larger, using the
		// canonical cross-type order.
		ord := compare.Order(arg, current)
		if (keep < 0 && ord >= 0) || (keep > 0 && ord <= 0) {
			return result, nil
		}
	}
	return fieldpath.Set(result, path, fieldpath.CloneValue(arg))
}

func applyRename(result bson.D, path string, arg any) (bson.D, error) {
	to, ok := arg.(string)
	if !ok {
		return nil, mongoerr.NewBadValue("$rename", "target must be a string")
	}
	if to == "_id" || strings.HasPrefix(to, "_id.") {
		return nil, mongoerr.NewImmutableField(to)
	}
	value, exists := fieldpath.Lookup(result, path)
	if !exists {
		return result, nil
	}
	removed, err := fieldpath.Unset(result, path)
	if err != nil {
		return nil, err
	}
	return fieldpath.Set(removed, to, value)
}

func applyCurrentDate(result bson.D, op, path string, arg any) (bson.D, error) {
	now := Now().UTC()
	var value any = primitive.NewDateTimeFromTime(now)
	switch spec := arg.(type) {
	case bool:
	case bson.D, bson.M, map[string]any:
		doc := compare.AsDocument(spec)
		if len(doc) != 1 || doc[0].Key != "$type" {
			return nil, mongoerr.NewBadValue(op, "argument must be true or {$type: ...}")
		}
		switch doc[0].Value {
		case "date":
		case "timestamp":
			value = primitive.Timestamp{T: uint32(now.Unix()), I: 1}
		default:
			return nil, mongoerr.NewBadValue(op, "$type must be date or timestamp")
		}
	default:
		return nil, mongoerr.NewBadValue(op, "argument must be true or {$type: ...}")
	}
	return fieldpath.Set(result, path, value)
}
