package fieldpath_test

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
)

func TestResolve(t *testing.T) {
	doc := bson.D{
		{Key: "a", Value: bson.D{{Key: "b", Value: 1}}},
		{Key: "tags", Value: bson.A{"x", "y"}},
		{Key: "items", Value: bson.A{
			bson.D{{Key: "qty", Value: 5}},
			bson.D{{Key: "qty", Value: 10}},
			"scalar",
		}},
	}

	t.Run("nested document", func(t *testing.T) {
		vals, err := fieldpath.Values(doc, "a.b")
		if err != nil {
			t.Fatal(err)
		}
		if len(vals) != 1 || !compare.Equal(vals[0], 1) {
			t.Errorf("got %v", vals)
		}
	})

	t.Run("array fan-out", func(t *testing.T) {
		vals, err := fieldpath.Values(doc, "items.qty")
		if err != nil {
			t.Fatal(err)
		}
		if len(vals) != 2 || !compare.Equal(vals[0], 5) || !compare.Equal(vals[1], 10) {
			t.Errorf("got %v", vals)
		}
	})

	t.Run("numeric segment indexes array", func(t *testing.T) {
		vals, err := fieldpath.Values(doc, "tags.1")
		if err != nil {
			t.Fatal(err)
		}
		if len(vals) != 1 || vals[0] != "y" {
			t.Errorf("got %v", vals)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		vals, err := fieldpath.Values(doc, "nope.deeper")
		if err != nil {
			t.Fatal(err)
		}
		if len(vals) != 0 {
			t.Errorf("got %v", vals)
		}
	})
}

func TestSetIsCopyOnWrite(t *testing.T) {
	doc := bson.D{{Key: "a", Value: bson.D{{Key: "b", Value: 1}}}}
	out, err := fieldpath.Set(doc, "a.b", 2)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := fieldpath.Lookup(out, "a.b"); !compare.Equal(v, 2) {
		t.Errorf("set did not apply: %v", out)
	}
	if v, _ := fieldpath.Lookup(doc, "a.b"); !compare.Equal(v, 1) {
		t.Errorf("input document was mutated: %v", doc)
	}
}

func TestSetCreatesIntermediates(t *testing.T) {
	out, err := fieldpath.Set(bson.D{}, "a.b.c", 7)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := fieldpath.Lookup(out, "a.b.c"); !ok || !compare.Equal(v, 7) {
		t.Errorf("got %v", out)
	}
}

func TestSetPadsArrays(t *testing.T) {
	doc := bson.D{{Key: "arr", Value: bson.A{"a"}}}
	out, err := fieldpath.Set(doc, "arr.3", "d")
	if err != nil {
		t.Fatal(err)
	}
	arr, _ := fieldpath.Lookup(out, "arr")
	want := bson.A{"a", nil, nil, "d"}
	if !compare.Equal(arr, want) {
		t.Errorf("got %v, want %v", arr, want)
	}
}

func TestSetThroughScalarFails(t *testing.T) {
	doc := bson.D{{Key: "a", Value: 5}}
	if _, err := fieldpath.Set(doc, "a.b", 1); err == nil {
		t.Error("expected an error traversing a scalar")
	}
}

func TestUnset(t *testing.T) {
	t.Run("document field", func(t *testing.T) {
		doc := bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}
		out, err := fieldpath.Unset(doc, "a")
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := fieldpath.Lookup(out, "a"); ok {
			t.Error("field still present")
		}
		if _, ok := fieldpath.Lookup(doc, "a"); !ok {
			t.Error("input document was mutated")
		}
	})

	t.Run("array element becomes null", func(t *testing.T) {
		doc := bson.D{{Key: "arr", Value: bson.A{1, 2, 3}}}
		out, err := fieldpath.Unset(doc, "arr.1")
		if err != nil {
			t.Fatal(err)
		}
		arr, _ := fieldpath.Lookup(out, "arr")
		if !compare.Equal(arr, bson.A{1, nil, 3}) {
			t.Errorf("got %v", arr)
		}
	})

	t.Run("missing path is a no-op", func(t *testing.T) {
		doc := bson.D{{Key: "a", Value: 1}}
		out, err := fieldpath.Unset(doc, "x.y")
		if err != nil {
			t.Fatal(err)
		}
		if !compare.Equal(out, doc) {
			t.Errorf("got %v", out)
		}
	})
}

func TestBindPositional(t *testing.T) {
	path, err := fieldpath.BindPositional("grades.$.score", 2)
	if err != nil {
		t.Fatal(err)
	}
	if path != "grades.2.score" {
		t.Errorf("got %q", path)
	}
	if _, err := fieldpath.BindPositional("grades.$.score", -1); err == nil {
		t.Error("expected an error with no matching index")
	}
}
