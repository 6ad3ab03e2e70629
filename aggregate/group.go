package aggregate

import (
	"github.com/montanaflynn/stats"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/mongoerr"
)

type accumulator struct {
	field string
	op    string
	expr  *Expr
}

var accumulatorNames = map[string]bool{
	"$sum": true, "$avg": true, "$min": true, "$max": true,
	"$push": true, "$addToSet": true, "$first": true, "$last": true,
	"$count": true, "$stdDevPop": true, "$stdDevSamp": true,
}

type groupStage struct {
	idExpr *Expr
	accs   []accumulator
}

func compileGroupStage(arg any) (stage, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$group", "argument must be a document")
	}
	st := &groupStage{}
	for _, e := range compare.AsDocument(arg) {
		if e.Key == "_id" {
			expr, err := CompileExpr(e.Value)
			if err != nil {
				return nil, err
			}
			st.idExpr = expr
			continue
		}
		if !compare.IsDocument(e.Value) {
			return nil, mongoerr.NewBadValue("$group", e.Key+" must be an accumulator document")
		}
		spec := compare.AsDocument(e.Value)
		if len(spec) != 1 {
			return nil, mongoerr.NewBadValue("$group", e.Key+" must have exactly one accumulator")
		}
		name := spec[0].Key
		if !accumulatorNames[name] {
			return nil, mongoerr.NewUnsupportedOperator("accumulator", name)
		}
		acc := accumulator{field: e.Key, op: name}
		if name == "$count" {
			// $count takes an empty document and no expression.
			if d := compare.AsDocument(spec[0].Value); d == nil || len(d) != 0 {
				return nil, mongoerr.NewBadValue("$count", "argument must be an empty document")
			}
		} else {
			expr, err := CompileExpr(spec[0].Value)
			if err != nil {
				return nil, err
			}
			acc.expr = expr
		}
		st.accs = append(st.accs, acc)
	}
	if st.idExpr == nil {
		return nil, mongoerr.NewBadValue("$group", "requires an _id field")
	}
	return blockStage{fn: st.run}, nil
}

// bucket holds one group: its key and the raw values fed to each
// accumulator, finalized after all input is consumed.
type bucket struct {
	key    any
	values [][]any
	count  int64
}

func (s *groupStage) run(docs []bson.D) ([]bson.D, error) {
	var buckets []*bucket
	for _, doc := range docs {
		key, err := s.idExpr.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		b := findBucket(buckets, key)
		if b == nil {
			b = &bucket{key: key, values: make([][]any, len(s.accs))}
			buckets = append(buckets, b)
		}
		b.count++
		for i, acc := range s.accs {
			if acc.expr == nil {
				continue
			}
			v, err := acc.expr.evaluate(doc)
			if err != nil {
				return nil, err
			}
			b.values[i] = append(b.values[i], v)
		}
	}
	out := make([]bson.D, len(buckets))
	for i, b := range buckets {
		doc := bson.D{{Key: "_id", Value: b.key}}
		for j, acc := range s.accs {
			v, err := finalize(acc.op, b.values[j], b.count)
			if err != nil {
				return nil, err
			}
			doc = append(doc, bson.E{Key: acc.field, Value: v})
		}
		out[i] = doc
	}
	return out, nil
}

func findBucket(buckets []*bucket, key any) *bucket {
	for _, b := range buckets {
		if compare.Equal(b.key, key) {
			return b
		}
	}
	return nil
}

func finalize(op string, values []any, count int64) (any, error) {
	switch op {
	case "$sum":
		total := float64(0)
		numeric := []any{}
		for _, v := range values {
			if f, ok := compare.AsFloat(v); ok {
				total += f
				numeric = append(numeric, v)
			}
		}
		return numberOf(total, allIntegral(numeric)), nil
	case "$avg":
		fs := numericFloats(values)
		if len(fs) == 0 {
			return nil, nil
		}
		mean, err := stats.Mean(fs)
		if err != nil {
			return nil, mongoerr.NewBadValue(op, err.Error())
		}
		return mean, nil
	case "$min", "$max":
		var best any
		have := false
		for _, v := range values {
			if nullish(v) {
				continue
			}
			if !have {
				best, have = v, true
				continue
			}
			ord := compare.Order(v, best)
			if (op == "$min" && ord < 0) || (op == "$max" && ord > 0) {
				best = v
			}
		}
		if !have {
			return nil, nil
		}
		return best, nil
	case "$push":
		out := bson.A{}
		for _, v := range values {
			if isMissingVal(v) {
				continue
			}
			out = append(out, v)
		}
		return out, nil
	case "$addToSet":
		out := bson.A{}
		for _, v := range values {
			if isMissingVal(v) {
				continue
			}
			if !containsEqual(out, v) {
				out = append(out, v)
			}
		}
		return out, nil
	case "$first":
		if len(values) == 0 {
			return nil, nil
		}
		return normalizeNull(values[0]), nil
	case "$last":
		if len(values) == 0 {
			return nil, nil
		}
		return normalizeNull(values[len(values)-1]), nil
	case "$count":
		return int32(count), nil
	case "$stdDevPop":
		fs := numericFloats(values)
		if len(fs) == 0 {
			return nil, nil
		}
		sd, err := stats.StandardDeviationPopulation(fs)
		if err != nil {
			return nil, mongoerr.NewBadValue(op, err.Error())
		}
		return sd, nil
	default: // $stdDevSamp
		fs := numericFloats(values)
		if len(fs) < 2 {
			return nil, nil
		}
		sd, err := stats.StandardDeviationSample(fs)
		if err != nil {
			return nil, mongoerr.NewBadValue(op, err.Error())
		}
		return sd, nil
	}
}

func numericFloats(values []any) stats.Float64Data {
	fs := stats.Float64Data{}
	for _, v := range values {
		if f, ok := compare.AsFloat(v); ok {
			fs = append(fs, f)
		}
	}
	return fs
}
