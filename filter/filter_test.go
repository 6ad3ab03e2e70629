package filter_test

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ti/mongomock/filter"
	"github.com/ti/mongomock/mongoerr"
)

func mustMatch(t *testing.T, f any, doc bson.D, want bool) {
	t.Helper()
	pred, err := filter.Compile(f)
	if err != nil {
		t.Fatalf("compile %v: %v", f, err)
	}
	if got := pred.Match(doc); got != want {
		t.Errorf("Match(%v, %v) = %v, want %v", f, doc, got, want)
	}
}

func TestEquality(t *testing.T) {
	doc := bson.D{
		{Key: "name", Value: "ada"},
		{Key: "age", Value: int32(36)},
		{Key: "tags", Value: bson.A{"x", "y"}},
		{Key: "meta", Value: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}},
	}

	t.Run("scalar", func(t *testing.T) {
		mustMatch(t, bson.D{{Key: "name", Value: "ada"}}, doc, true)
		mustMatch(t, bson.D{{Key: "name", Value: "bob"}}, doc, false)
	})

	t.Run("numeric across types", func(t *testing.T) {
		mustMatch(t, bson.D{{Key: "age", Value: float64(36)}}, doc, true)
		mustMatch(t, bson.D{{Key: "age", Value: int64(36)}}, doc, true)
	})

	t.Run("array element equality", func(t *testing.T) {
		// A scalar condition matches if any array element equals it.
		mustMatch(t, bson.D{{Key: "tags", Value: "x"}}, doc, true)
		mustMatch(t, bson.D{{Key: "tags", Value: "z"}}, doc, false)
	})

	t.Run("whole array equality", func(t *testing.T) {
		mustMatch(t, bson.D{{Key: "tags", Value: bson.A{"x", "y"}}}, doc, true)
		mustMatch(t, bson.D{{Key: "tags", Value: bson.A{"y", "x"}}}, doc, false)
	})

	t.Run("subdocument is order sensitive", func(t *testing.T) {
		mustMatch(t, bson.D{{Key: "meta", Value: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}}}, doc, true)
		mustMatch(t, bson.D{{Key: "meta", Value: bson.D{{Key: "b", Value: 2}, {Key: "a", Value: 1}}}}, doc, false)
	})

	t.Run("dotted path", func(t *testing.T) {
		mustMatch(t, bson.D{{Key: "meta.a", Value: 1}}, doc, true)
		mustMatch(t, bson.D{{Key: "meta.c", Value: 1}}, doc, false)
	})
}

func TestNullMatchesMissing(t *testing.T) {
	withNull := bson.D{{Key: "a", Value: nil}}
	without := bson.D{{Key: "b", Value: 1}}
	cond := bson.D{{Key: "a", Value: nil}}
	mustMatch(t, cond, withNull, true)
	mustMatch(t, cond, without, true)
	mustMatch(t, bson.D{{Key: "a", Value: bson.D{{Key: "$exists", Value: true}}}}, withNull, true)
	mustMatch(t, bson.D{{Key: "a", Value: bson.D{{Key: "$exists", Value: true}}}}, without, false)
}

func TestRangeOperators(t *testing.T) {
	doc := bson.D{{Key: "qty", Value: int32(20)}, {Key: "name", Value: "ada"}}

	t.Run("gt gte lt lte", func(t *testing.T) {
		mustMatch(t, bson.D{{Key: "qty", Value: bson.D{{Key: "$gt", Value: 10}}}}, doc, true)
		mustMatch(t, bson.D{{Key: "qty", Value: bson.D{{Key: "$gte", Value: 20}}}}, doc, true)
		mustMatch(t, bson.D{{Key: "qty", Value: bson.D{{Key: "$lt", Value: 20}}}}, doc, false)
		mustMatch(t, bson.D{{Key: "qty", Value: bson.D{{Key: "$lte", Value: 20}}}}, doc, true)
	})

	t.Run("type bracketing", func(t *testing.T) {
		// A number is never $lt a string even though strings rank higher.
		mustMatch(t, bson.D{{Key: "qty", Value: bson.D{{Key: "$lt", Value: "zzz"}}}}, doc, false)
		mustMatch(t, bson.D{{Key: "name", Value: bson.D{{Key: "$gt", Value: 100}}}}, doc, false)
	})

	t.Run("missing field never in range", func(t *testing.T) {
		mustMatch(t, bson.D{{Key: "nope", Value: bson.D{{Key: "$lt", Value: 100}}}}, doc, false)
	})
}

func TestInNin(t *testing.T) {
	doc := bson.D{{Key: "tags", Value: bson.A{"a", "b"}}}
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$in", Value: bson.A{"b", "z"}}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$in", Value: bson.A{"z"}}}}}, doc, false)
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$nin", Value: bson.A{"z"}}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$nin", Value: bson.A{"a"}}}}}, doc, false)
	// $nin matches documents where the field is missing entirely.
	mustMatch(t, bson.D{{Key: "other", Value: bson.D{{Key: "$nin", Value: bson.A{"a"}}}}}, doc, true)
}

func TestNeIsUniversal(t *testing.T) {
	doc := bson.D{{Key: "tags", Value: bson.A{"a", "b"}}}
	// $ne fails if any element equals the operand.
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$ne", Value: "a"}}}}, doc, false)
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$ne", Value: "z"}}}}, doc, true)
}

func TestLogicalOperators(t *testing.T) {
	doc := bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}
	and := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "a", Value: 1}},
		bson.D{{Key: "b", Value: 2}},
	}}}
	mustMatch(t, and, doc, true)
	or := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "a", Value: 9}},
		bson.D{{Key: "b", Value: 2}},
	}}}
	mustMatch(t, or, doc, true)
	nor := bson.D{{Key: "$nor", Value: bson.A{
		bson.D{{Key: "a", Value: 9}},
		bson.D{{Key: "b", Value: 9}},
	}}}
	mustMatch(t, nor, doc, true)

	t.Run("empty list fails to compile", func(t *testing.T) {
		_, err := filter.Compile(bson.D{{Key: "$and", Value: bson.A{}}})
		if err == nil {
			t.Error("expected an error for an empty $and")
		}
	})
}

func TestNot(t *testing.T) {
	doc := bson.D{{Key: "qty", Value: 20}}
	mustMatch(t, bson.D{{Key: "qty", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gt", Value: 100}}}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "qty", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gt", Value: 10}}}}}}, doc, false)
	// $not matches when the field is missing.
	mustMatch(t, bson.D{{Key: "other", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gt", Value: 10}}}}}}, doc, true)
}

func TestElemMatch(t *testing.T) {
	doc := bson.D{{Key: "results", Value: bson.A{
		bson.D{{Key: "product", Value: "xyz"}, {Key: "score", Value: 5}},
		bson.D{{Key: "product", Value: "abc"}, {Key: "score", Value: 8}},
	}}}

	t.Run("single element satisfies all conditions", func(t *testing.T) {
		f := bson.D{{Key: "results", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
			{Key: "product", Value: "xyz"},
			{Key: "score", Value: bson.D{{Key: "$gte", Value: 5}}},
		}}}}}
		mustMatch(t, f, doc, true)
	})

	t.Run("conditions split across elements do not match", func(t *testing.T) {
		f := bson.D{{Key: "results", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
			{Key: "product", Value: "xyz"},
			{Key: "score", Value: bson.D{{Key: "$gte", Value: 8}}},
		}}}}}
		mustMatch(t, f, doc, false)
	})

	t.Run("operator form over scalars", func(t *testing.T) {
		scores := bson.D{{Key: "scores", Value: bson.A{1, 5, 9}}}
		f := bson.D{{Key: "scores", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
			{Key: "$gt", Value: 4}, {Key: "$lt", Value: 6},
		}}}}}
		mustMatch(t, f, scores, true)
	})
}

func TestAll(t *testing.T) {
	doc := bson.D{{Key: "tags", Value: bson.A{"a", "b", "c"}}}
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{"a", "c"}}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{"a", "z"}}}}}, doc, false)

	t.Run("empty list matches nothing", func(t *testing.T) {
		mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{}}}}}, doc, false)
		mustMatch(t, bson.D{{Key: "other", Value: bson.D{{Key: "$all", Value: bson.A{}}}}}, doc, false)
	})
}

func TestSizeTypeMod(t *testing.T) {
	doc := bson.D{
		{Key: "tags", Value: bson.A{"a", "b"}},
		{Key: "n", Value: int32(10)},
		{Key: "when", Value: primitive.NewDateTimeFromTime(time.Now())},
	}
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$size", Value: 2}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "tags", Value: bson.D{{Key: "$size", Value: 3}}}}, doc, false)
	mustMatch(t, bson.D{{Key: "n", Value: bson.D{{Key: "$type", Value: "int"}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "n", Value: bson.D{{Key: "$type", Value: "number"}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "when", Value: bson.D{{Key: "$type", Value: "date"}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "n", Value: bson.D{{Key: "$type", Value: 16}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "n", Value: bson.D{{Key: "$mod", Value: bson.A{3, 1}}}}}, doc, true)
	mustMatch(t, bson.D{{Key: "n", Value: bson.D{{Key: "$mod", Value: bson.A{3, 2}}}}}, doc, false)
}

func TestRegex(t *testing.T) {
	doc := bson.D{{Key: "name", Value: "Ada Lovelace"}}
	mustMatch(t, bson.D{{Key: "name", Value: primitive.Regex{Pattern: "^Ada"}}}, doc, true)
	mustMatch(t, bson.D{{Key: "name", Value: bson.D{
		{Key: "$regex", Value: "^ada"}, {Key: "$options", Value: "i"},
	}}}, doc, true)
	mustMatch(t, bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^Bob"}}}}, doc, false)
}

func TestUnknownOperator(t *testing.T) {
	_, err := filter.Compile(bson.D{{Key: "a", Value: bson.D{{Key: "$near", Value: 1}}}})
	if !mongoerr.IsUnsupportedOperator(err) {
		t.Errorf("expected an unsupported-operator error, got %v", err)
	}
}

func TestEmptyFilterMatchesAll(t *testing.T) {
	mustMatch(t, bson.D{}, bson.D{{Key: "a", Value: 1}}, true)
	mustMatch(t, bson.M{}, bson.D{}, true)
}

func TestCache(t *testing.T) {
	cache := filter.NewCache(time.Minute)
	defer cache.Stop()
	f := bson.D{{Key: "a", Value: 1}}
	p1, err := cache.Compile(f)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := cache.Compile(f)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("expected the cached predicate to be reused")
	}
	if !p1.Match(bson.D{{Key: "a", Value: 1}}) {
		t.Error("cached predicate must still match")
	}
}
