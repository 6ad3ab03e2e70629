package compare_test

import (
	"math"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ti/mongomock/compare"
)

func TestTypeOrder(t *testing.T) {
	// One representative per type class, in ascending canonical order.
	values := []any{
		primitive.MinKey{},
		nil,
		int32(5),
		"abc",
		bson.D{{Key: "a", Value: 1}},
		bson.A{1, 2},
		primitive.Binary{Subtype: 0, Data: []byte{1}},
		primitive.NewObjectID(),
		false,
		primitive.NewDateTimeFromTime(time.Now()),
		primitive.Timestamp{T: 1, I: 1},
		primitive.Regex{Pattern: "a"},
		primitive.MaxKey{},
	}
	for i := 0; i < len(values)-1; i++ {
		if compare.Order(values[i], values[i+1]) >= 0 {
			t.Errorf("expected %v (rank %d) < %v (rank %d)",
				values[i], compare.TypeRank(values[i]),
				values[i+1], compare.TypeRank(values[i+1]))
		}
	}
}

func TestNumbersCompareAcrossTypes(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want int
	}{
		{"int32 equals float64", int32(5), float64(5), 0},
		{"int64 below float64", int64(5), 5.5, -1},
		{"float above int32", 5.5, int32(5), 1},
		{"negative zero equals zero", math.Copysign(0, -1), float64(0), 0},
		{"nan below all numbers", math.NaN(), math.Inf(-1), -1},
		{"nan equals nan", math.NaN(), math.NaN(), 0},
		{"large int64 exact", int64(1 << 60), int64(1<<60) - 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := compare.Order(tc.a, tc.b)
			if got != tc.want {
				t.Errorf("Order(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestDocumentOrder(t *testing.T) {
	a := bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}
	b := bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 3}}
	if compare.Order(a, b) >= 0 {
		t.Error("expected value comparison to order documents")
	}
	c := bson.D{{Key: "a", Value: 1}, {Key: "c", Value: 2}}
	if compare.Order(a, c) >= 0 {
		t.Error("expected key comparison before value comparison")
	}
	// Field order matters for documents.
	d := bson.D{{Key: "b", Value: 2}, {Key: "a", Value: 1}}
	if compare.Equal(a, d) {
		t.Error("documents with different field order must not be equal")
	}
}

func TestMapNormalization(t *testing.T) {
	// bson.M keys are normalized by sorting, so two maps with the same
	// entries compare equal regardless of Go's map iteration order.
	a := bson.M{"x": 1, "y": 2, "z": 3}
	b := bson.M{"z": 3, "y": 2, "x": 1}
	if !compare.Equal(a, b) {
		t.Error("equivalent maps must compare equal")
	}
}

func TestArrayOrder(t *testing.T) {
	if compare.Order(bson.A{1, 2}, bson.A{1, 3}) >= 0 {
		t.Error("arrays compare elementwise")
	}
	if compare.Order(bson.A{1, 2}, bson.A{1, 2, 0}) >= 0 {
		t.Error("shorter prefix array sorts first")
	}
	if !compare.Equal(bson.A{1, "a"}, bson.A{int64(1), "a"}) {
		t.Error("numeric elements compare across types")
	}
}

func TestAsInt64(t *testing.T) {
	if v, ok := compare.AsInt64(3.0); !ok || v != 3 {
		t.Errorf("AsInt64(3.0) = %d, %v", v, ok)
	}
	if _, ok := compare.AsInt64(3.5); ok {
		t.Error("AsInt64(3.5) must fail")
	}
	if _, ok := compare.AsInt64("3"); ok {
		t.Error("AsInt64 on a string must fail")
	}
}

func TestTypeName(t *testing.T) {
	cases := map[string]any{
		"double":    1.5,
		"string":    "x",
		"object":    bson.D{},
		"array":     bson.A{},
		"objectId":  primitive.NewObjectID(),
		"bool":      true,
		"date":      primitive.NewDateTimeFromTime(time.Now()),
		"null":      nil,
		"regex":     primitive.Regex{},
		"int":       int32(1),
		"timestamp": primitive.Timestamp{},
		"long":      int64(1),
	}
	for want, v := range cases {
		if got := compare.TypeName(v); got != want {
			t.Errorf("TypeName(%v) = %q, want %q", v, got, want)
		}
	}
}
