package aggregate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/aggregate"
	"github.com/ti/mongomock/filter"
	"github.com/ti/mongomock/mongoerr"
)

func orders() []bson.D {
	return []bson.D{
		{{Key: "_id", Value: 1}, {Key: "status", Value: "A"}, {Key: "amount", Value: int32(50)}, {Key: "cust", Value: "c1"}},
		{{Key: "_id", Value: 2}, {Key: "status", Value: "A"}, {Key: "amount", Value: int32(100)}, {Key: "cust", Value: "c2"}},
		{{Key: "_id", Value: 3}, {Key: "status", Value: "B"}, {Key: "amount", Value: int32(25)}, {Key: "cust", Value: "c1"}},
	}
}

func TestMatchGroupSort(t *testing.T) {
	pipeline := bson.A{
		bson.D{{Key: "$match", Value: bson.D{{Key: "status", Value: "A"}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$cust"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}}}},
	}
	out, err := aggregate.Run(orders(), pipeline, aggregate.Options{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, bson.D{{Key: "_id", Value: "c2"}, {Key: "total", Value: int64(100)}}, out[0])
	assert.Equal(t, bson.D{{Key: "_id", Value: "c1"}, {Key: "total", Value: int64(50)}}, out[1])
}

func TestGroupAccumulators(t *testing.T) {
	pipeline := bson.A{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "n", Value: bson.D{{Key: "$count", Value: bson.D{}}}},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$amount"}}},
			{Key: "min", Value: bson.D{{Key: "$min", Value: "$amount"}}},
			{Key: "max", Value: bson.D{{Key: "$max", Value: "$amount"}}},
			{Key: "all", Value: bson.D{{Key: "$push", Value: "$status"}}},
			{Key: "statuses", Value: bson.D{{Key: "$addToSet", Value: "$status"}}},
			{Key: "first", Value: bson.D{{Key: "$first", Value: "$cust"}}},
			{Key: "last", Value: bson.D{{Key: "$last", Value: "$cust"}}},
		}}},
	}
	out, err := aggregate.Run(orders(), pipeline, aggregate.Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	doc := out[0]
	got := map[string]any{}
	for _, e := range doc {
		got[e.Key] = e.Value
	}
	assert.Equal(t, int32(3), got["n"])
	assert.InDelta(t, 58.333, got["avg"].(float64), 0.001)
	assert.Equal(t, int32(25), got["min"])
	assert.Equal(t, int32(100), got["max"])
	assert.Equal(t, bson.A{"A", "A", "B"}, got["all"])
	assert.Equal(t, bson.A{"A", "B"}, got["statuses"])
	assert.Equal(t, "c1", got["first"])
	assert.Equal(t, "c1", got["last"])
}

func TestUnwind(t *testing.T) {
	docs := []bson.D{
		{{Key: "_id", Value: 1}, {Key: "sizes", Value: bson.A{"S", "M"}}},
		{{Key: "_id", Value: 2}, {Key: "sizes", Value: bson.A{}}},
		{{Key: "_id", Value: 3}},
		{{Key: "_id", Value: 4}, {Key: "sizes", Value: "L"}},
	}

	t.Run("default drops empty and missing", func(t *testing.T) {
		out, err := aggregate.Run(docs, bson.A{
			bson.D{{Key: "$unwind", Value: "$sizes"}},
		}, aggregate.Options{})
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, "S", out[0][1].Value)
		assert.Equal(t, "M", out[1][1].Value)
		assert.Equal(t, "L", out[2][1].Value)
	})

	t.Run("preserveNullAndEmptyArrays with index", func(t *testing.T) {
		out, err := aggregate.Run(docs, bson.A{
			bson.D{{Key: "$unwind", Value: bson.D{
				{Key: "path", Value: "$sizes"},
				{Key: "includeArrayIndex", Value: "idx"},
				{Key: "preserveNullAndEmptyArrays", Value: true},
			}}},
		}, aggregate.Options{})
		require.NoError(t, err)
		require.Len(t, out, 5)
		// First unwound element carries index 0.
		idx, _ := lookup(out[0], "idx")
		assert.Equal(t, int64(0), idx)
		// The empty-array document survives with a null index.
		idx, ok := lookup(out[2], "idx")
		assert.True(t, ok)
		assert.Nil(t, idx)
	})
}

func lookup(doc bson.D, key string) (any, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func TestProject(t *testing.T) {
	docs := []bson.D{
		{{Key: "_id", Value: 1}, {Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "c", Value: 3}},
	}

	t.Run("inclusion keeps _id by default", func(t *testing.T) {
		out, err := aggregate.Run(docs, bson.A{
			bson.D{{Key: "$project", Value: bson.D{{Key: "a", Value: 1}}}},
		}, aggregate.Options{})
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "a", Value: 1}}, out[0])
	})

	t.Run("id can be excluded", func(t *testing.T) {
		out, err := aggregate.Run(docs, bson.A{
			bson.D{{Key: "$project", Value: bson.D{{Key: "_id", Value: 0}, {Key: "a", Value: 1}}}},
		}, aggregate.Options{})
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "a", Value: 1}}, out[0])
	})

	t.Run("exclusion keeps the rest", func(t *testing.T) {
		out, err := aggregate.Run(docs, bson.A{
			bson.D{{Key: "$project", Value: bson.D{{Key: "b", Value: 0}}}},
		}, aggregate.Options{})
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "a", Value: 1}, {Key: "c", Value: 3}}, out[0])
	})

	t.Run("computed field", func(t *testing.T) {
		out, err := aggregate.Run(docs, bson.A{
			bson.D{{Key: "$project", Value: bson.D{
				{Key: "_id", Value: 0},
				{Key: "sum", Value: bson.D{{Key: "$add", Value: bson.A{"$a", "$b"}}}},
			}}},
		}, aggregate.Options{})
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "sum", Value: int64(3)}}, out[0])
	})

	t.Run("mixing include and exclude fails", func(t *testing.T) {
		_, err := aggregate.Run(docs, bson.A{
			bson.D{{Key: "$project", Value: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 0}}}},
		}, aggregate.Options{})
		require.Error(t, err)
	})
}

func TestExpressionOperators(t *testing.T) {
	doc := bson.D{
		{Key: "qty", Value: int32(20)},
		{Key: "name", Value: "ada"},
		{Key: "tags", Value: bson.A{"a", "b", "c"}},
	}
	cases := []struct {
		name string
		expr any
		want any
	}{
		{"add", bson.D{{Key: "$add", Value: bson.A{"$qty", 5}}}, int64(25)},
		{"subtract", bson.D{{Key: "$subtract", Value: bson.A{"$qty", 5}}}, int64(15)},
		{"multiply", bson.D{{Key: "$multiply", Value: bson.A{"$qty", 2}}}, int64(40)},
		{"divide", bson.D{{Key: "$divide", Value: bson.A{"$qty", 8}}}, 2.5},
		{"mod", bson.D{{Key: "$mod", Value: bson.A{"$qty", 3}}}, int64(2)},
		{"abs", bson.D{{Key: "$abs", Value: -4}}, int64(4)},
		{"gt", bson.D{{Key: "$gt", Value: bson.A{"$qty", 10}}}, true},
		{"eq cross type", bson.D{{Key: "$eq", Value: bson.A{"$qty", 20.0}}}, true},
		{"cmp", bson.D{{Key: "$cmp", Value: bson.A{"$qty", 100}}}, int32(-1)},
		{"cond", bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$gte", Value: bson.A{"$qty", 10}}}, "big", "small",
		}}}, "big"},
		{"ifNull", bson.D{{Key: "$ifNull", Value: bson.A{"$missing", "fallback"}}}, "fallback"},
		{"concat", bson.D{{Key: "$concat", Value: bson.A{"$name", "!"}}}, "ada!"},
		{"toUpper", bson.D{{Key: "$toUpper", Value: "$name"}}, "ADA"},
		{"strLen", bson.D{{Key: "$strLenCP", Value: "$name"}}, int32(3)},
		{"size", bson.D{{Key: "$size", Value: "$tags"}}, int32(3)},
		{"arrayElemAt", bson.D{{Key: "$arrayElemAt", Value: bson.A{"$tags", -1}}}, "c"},
		{"in", bson.D{{Key: "$in", Value: bson.A{"b", "$tags"}}}, true},
		{"filter", bson.D{{Key: "$filter", Value: bson.D{
			{Key: "input", Value: "$tags"},
			{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this", "b"}}}},
		}}}, bson.A{"a", "c"}},
		{"map", bson.D{{Key: "$map", Value: bson.D{
			{Key: "input", Value: bson.A{1, 2}},
			{Key: "as", Value: "n"},
			{Key: "in", Value: bson.D{{Key: "$multiply", Value: bson.A{"$$n", 10}}}},
		}}}, bson.A{int64(10), int64(20)}},
		{"reduce", bson.D{{Key: "$reduce", Value: bson.D{
			{Key: "input", Value: bson.A{1, 2, 3}},
			{Key: "initialValue", Value: 0},
			{Key: "in", Value: bson.D{{Key: "$add", Value: bson.A{"$$value", "$$this"}}}},
		}}}, int64(6)},
		{"setUnion", bson.D{{Key: "$setUnion", Value: bson.A{bson.A{1, 2}, bson.A{2, 3}}}}, bson.A{1, 2, 3}},
		{"setIsSubset", bson.D{{Key: "$setIsSubset", Value: bson.A{bson.A{1}, bson.A{1, 2}}}}, true},
		{"mergeObjects", bson.D{{Key: "$mergeObjects", Value: bson.A{
			bson.D{{Key: "x", Value: 1}},
			bson.D{{Key: "x", Value: 2}, {Key: "y", Value: 3}},
		}}}, bson.D{{Key: "x", Value: 2}, {Key: "y", Value: 3}}},
		{"objectToArray", bson.D{{Key: "$objectToArray", Value: bson.D{{Key: "k1", Value: 1}}}},
			bson.A{bson.D{{Key: "k", Value: "k1"}, {Key: "v", Value: 1}}}},
		{"type", bson.D{{Key: "$type", Value: "$qty"}}, "int"},
		{"toString", bson.D{{Key: "$toString", Value: "$qty"}}, "20"},
		{"literal", bson.D{{Key: "$literal", Value: "$qty"}}, "$qty"},
		{"switch", bson.D{{Key: "$switch", Value: bson.D{
			{Key: "branches", Value: bson.A{
				bson.D{{Key: "case", Value: false}, {Key: "then", Value: "no"}},
				bson.D{{Key: "case", Value: true}, {Key: "then", Value: "yes"}},
			}},
		}}}, "yes"},
		{"let", bson.D{{Key: "$let", Value: bson.D{
			{Key: "vars", Value: bson.D{{Key: "d", Value: bson.D{{Key: "$multiply", Value: bson.A{"$qty", 2}}}}}},
			{Key: "in", Value: bson.D{{Key: "$add", Value: bson.A{"$$d", 1}}}},
		}}}, int64(41)},
		{"range", bson.D{{Key: "$range", Value: bson.A{0, 6, 2}}}, bson.A{int32(0), int32(2), int32(4)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := aggregate.CompileExpr(tc.expr)
			require.NoError(t, err)
			got, err := expr.Evaluate(doc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestUnknownExpressionOperator(t *testing.T) {
	_, err := aggregate.CompileExpr(bson.D{{Key: "$bogus", Value: 1}})
	assert.True(t, mongoerr.IsUnsupportedOperator(err))
}

func TestLookup(t *testing.T) {
	ordersDocs := []bson.D{
		{{Key: "_id", Value: 1}, {Key: "item", Value: "pen"}},
		{{Key: "_id", Value: 2}, {Key: "item", Value: "ink"}},
	}
	inventory := []bson.D{
		{{Key: "_id", Value: 10}, {Key: "sku", Value: "pen"}, {Key: "qty", Value: 5}},
		{{Key: "_id", Value: 11}, {Key: "sku", Value: "ink"}, {Key: "qty", Value: 0}},
	}
	pipeline := bson.A{
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "inventory"},
			{Key: "localField", Value: "item"},
			{Key: "foreignField", Value: "sku"},
			{Key: "as", Value: "stock"},
		}}},
	}
	opts := aggregate.Options{Lookup: func(name string) ([]bson.D, error) {
		require.Equal(t, "inventory", name)
		return inventory, nil
	}}
	out, err := aggregate.Run(ordersDocs, pipeline, opts)
	require.NoError(t, err)
	require.Len(t, out, 2)
	stock, _ := lookup(out[0], "stock")
	require.Len(t, stock.(bson.A), 1)
	assert.Equal(t, inventory[0], stock.(bson.A)[0])
}

func TestLookupWithoutResolverFails(t *testing.T) {
	_, err := aggregate.Run(nil, bson.A{
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "x"},
			{Key: "localField", Value: "a"},
			{Key: "foreignField", Value: "b"},
			{Key: "as", Value: "c"},
		}}},
	}, aggregate.Options{})
	require.Error(t, err)
}

func TestFacetCountSkipLimit(t *testing.T) {
	pipeline := bson.A{
		bson.D{{Key: "$facet", Value: bson.D{
			{Key: "count", Value: bson.A{bson.D{{Key: "$count", Value: "n"}}}},
			{Key: "page", Value: bson.A{
				bson.D{{Key: "$sort", Value: bson.D{{Key: "amount", Value: 1}}}},
				bson.D{{Key: "$skip", Value: 1}},
				bson.D{{Key: "$limit", Value: 1}},
			}},
		}}},
	}
	out, err := aggregate.Run(orders(), pipeline, aggregate.Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	count, _ := lookup(out[0], "count")
	require.Len(t, count.(bson.A), 1)
	assert.Equal(t, bson.D{{Key: "n", Value: int32(3)}}, count.(bson.A)[0])
	page, _ := lookup(out[0], "page")
	require.Len(t, page.(bson.A), 1)
	amount, _ := lookup(page.(bson.A)[0].(bson.D), "amount")
	assert.Equal(t, int32(50), amount)
}

func TestSortByCount(t *testing.T) {
	out, err := aggregate.Run(orders(), bson.A{
		bson.D{{Key: "$sortByCount", Value: "$status"}},
	}, aggregate.Options{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, bson.D{{Key: "_id", Value: "A"}, {Key: "count", Value: int32(2)}}, out[0])
	assert.Equal(t, bson.D{{Key: "_id", Value: "B"}, {Key: "count", Value: int32(1)}}, out[1])
}

func TestReplaceRootAndAddFields(t *testing.T) {
	docs := []bson.D{
		{{Key: "_id", Value: 1}, {Key: "inner", Value: bson.D{{Key: "a", Value: 1}}}},
	}
	out, err := aggregate.Run(docs, bson.A{
		bson.D{{Key: "$addFields", Value: bson.D{{Key: "inner.b", Value: 2}}}},
		bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$inner"}}}},
	}, aggregate.Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}, out[0])
}

func TestCompiledPipelineReusable(t *testing.T) {
	t.Run("limit", func(t *testing.T) {
		p, err := aggregate.Compile(bson.A{
			bson.D{{Key: "$limit", Value: int32(2)}},
		}, aggregate.Options{})
		require.NoError(t, err)
		for run := 0; run < 2; run++ {
			out, err := p.Run(orders())
			require.NoError(t, err)
			assert.Len(t, out, 2, "run %d", run)
		}
	})

	t.Run("skip", func(t *testing.T) {
		p, err := aggregate.Compile(bson.A{
			bson.D{{Key: "$skip", Value: int32(1)}},
		}, aggregate.Options{})
		require.NoError(t, err)
		for run := 0; run < 2; run++ {
			out, err := p.Run(orders())
			require.NoError(t, err)
			assert.Len(t, out, 2, "run %d", run)
		}
	})
}

func TestGraphLookup(t *testing.T) {
	employees := []bson.D{
		{{Key: "_id", Value: 1}, {Key: "name", Value: "dev"}, {Key: "reportsTo", Value: "vp"}},
		{{Key: "_id", Value: 2}, {Key: "name", Value: "vp"}, {Key: "reportsTo", Value: "ceo"}},
		{{Key: "_id", Value: 3}, {Key: "name", Value: "ceo"}},
	}
	opts := aggregate.Options{Lookup: func(name string) ([]bson.D, error) {
		require.Equal(t, "employees", name)
		return employees, nil
	}}
	stage := func(extra ...bson.E) bson.D {
		spec := bson.D{
			{Key: "from", Value: "employees"},
			{Key: "startWith", Value: "$reportsTo"},
			{Key: "connectFromField", Value: "reportsTo"},
			{Key: "connectToField", Value: "name"},
			{Key: "as", Value: "chain"},
		}
		spec = append(spec, extra...)
		return bson.D{{Key: "$graphLookup", Value: spec}}
	}

	t.Run("full chain with depthField", func(t *testing.T) {
		out, err := aggregate.Run(employees[:1], bson.A{stage(bson.E{Key: "depthField", Value: "order"})}, opts)
		require.NoError(t, err)
		require.Len(t, out, 1)
		chainVal, _ := lookup(out[0], "chain")
		chain := chainVal.(bson.A)
		require.Len(t, chain, 2)
		name, _ := lookup(chain[0].(bson.D), "name")
		order, _ := lookup(chain[0].(bson.D), "order")
		assert.Equal(t, "vp", name)
		assert.Equal(t, int64(0), order)
		name, _ = lookup(chain[1].(bson.D), "name")
		order, _ = lookup(chain[1].(bson.D), "order")
		assert.Equal(t, "ceo", name)
		assert.Equal(t, int64(1), order)
	})

	t.Run("maxDepth stops recursion", func(t *testing.T) {
		out, err := aggregate.Run(employees[:1], bson.A{stage(bson.E{Key: "maxDepth", Value: int32(0)})}, opts)
		require.NoError(t, err)
		require.Len(t, out, 1)
		chainVal, _ := lookup(out[0], "chain")
		chain := chainVal.(bson.A)
		require.Len(t, chain, 1)
		name, _ := lookup(chain[0].(bson.D), "name")
		assert.Equal(t, "vp", name)
	})
}

func TestExprQueryOperator(t *testing.T) {
	over := bson.D{{Key: "spent", Value: int32(120)}, {Key: "budget", Value: int32(100)}}
	under := bson.D{{Key: "spent", Value: int32(80)}, {Key: "budget", Value: int32(100)}}
	f := bson.D{{Key: "$expr", Value: bson.D{{Key: "$gt", Value: bson.A{"$spent", "$budget"}}}}}

	matched, err := filter.Match(f, over)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = filter.Match(f, under)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestPipelineInputNotMutated(t *testing.T) {
	docs := []bson.D{{{Key: "_id", Value: 1}, {Key: "a", Value: 1}}}
	_, err := aggregate.Run(docs, bson.A{
		bson.D{{Key: "$set", Value: bson.D{{Key: "a", Value: 99}}}},
	}, aggregate.Options{})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "a", Value: 1}}, docs[0])
}
