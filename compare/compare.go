// Package compare implements the canonical ordering and equality rules for
// dynamic BSON values. It is the shared service under the query matcher's
// range operators, the update engine's sorted pushes and the aggregation
// $sort stage.
package compare

import (
	"bytes"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Canonical cross-type sort ranks. Numbers share one rank regardless of
// subtype; they compare by numeric value.
const (
	rankMinKey = iota
	rankNull
	rankNumber
	rankString
	rankDocument
	rankArray
	rankBinary
	rankObjectID
	rankBool
	rankDateTime
	rankTimestamp
	rankRegex
	rankMaxKey
)

// TypeRank returns the canonical cross-type sort rank of v.
func TypeRank(v any) int {
	switch v.(type) {
	case primitive.MinKey:
		return rankMinKey
	case nil, primitive.Null, primitive.Undefined:
		return rankNull
	case int, int32, int64, float32, float64, primitive.Decimal128:
		return rankNumber
	case string:
		return rankString
	case bson.D, bson.M, map[string]any:
		return rankDocument
	case bson.A, []any:
		return rankArray
	case primitive.Binary, []byte:
		return rankBinary
	case primitive.ObjectID:
		return rankObjectID
	case bool:
		return rankBool
	case primitive.DateTime, time.Time:
		return rankDateTime
	case primitive.Timestamp:
		return rankTimestamp
	case primitive.Regex:
		return rankRegex
	case primitive.MaxKey:
		return rankMaxKey
	default:
		return rankNull
	}
}

// Order is the total order over values. It never fails: values of different
// types fall back to the canonical type order. The result is negative, zero
// or positive in the usual way.
func Order(a, b any) int {
	ra, rb := TypeRank(a), TypeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankMinKey, rankNull, rankMaxKey:
		return 0
	case rankNumber:
		return orderNumbers(a, b)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankDocument:
		return orderDocuments(AsDocument(a), AsDocument(b))
	case rankArray:
		return orderArrays(AsArray(a), AsArray(b))
	case rankBinary:
		return orderBinary(asBinary(a), asBinary(b))
	case rankObjectID:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case rankBool:
		return orderBools(a.(bool), b.(bool))
	case rankDateTime:
		return orderInt64(asDateTime(a), asDateTime(b))
	case rankTimestamp:
		ta, tb := a.(primitive.Timestamp), b.(primitive.Timestamp)
		if c := orderInt64(int64(ta.T), int64(tb.T)); c != 0 {
			return c
		}
		return orderInt64(int64(ta.I), int64(tb.I))
	case rankRegex:
		pa, pb := a.(primitive.Regex), b.(primitive.Regex)
		if c := strings.Compare(pa.Pattern, pb.Pattern); c != 0 {
			return c
		}
		return strings.Compare(pa.Options, pb.Options)
	default:
		return 0
	}
}

// Equal reports deep equality of two values: order-sensitive for arrays and
// for document keys, numeric across subtypes, and NaN equal to itself.
func Equal(a, b any) bool {
	return Order(a, b) == 0
}

// NaN sorts below every other number and equals itself. Negative zero
// equals positive zero. Both rules are concentrated here so the edge-case
// behavior can be revisited in one place.
func orderNumbers(a, b any) int {
	fa, _ := AsFloat(a)
	fb, _ := AsFloat(b)
	na, nb := math.IsNaN(fa), math.IsNaN(fb)
	if na || nb {
		switch {
		case na && nb:
			return 0
		case na:
			return -1
		default:
			return 1
		}
	}
	ia, aInt := asInt64Exact(a)
	ib, bInt := asInt64Exact(b)
	if aInt && bInt {
		return orderInt64(ia, ib)
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func orderInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderBools(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

// Documents compare field by field: key name first, then value; a shorter
// document that is a prefix of a longer one sorts first.
func orderDocuments(a, b bson.D) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := Order(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func orderArrays(a, b bson.A) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Order(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func orderBinary(a, b primitive.Binary) int {
	if c := len(a.Data) - len(b.Data); c != 0 {
		return c
	}
	if a.Subtype != b.Subtype {
		if a.Subtype < b.Subtype {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.Data, b.Data)
}

// IsNumeric reports whether v is one of the numeric subtypes.
func IsNumeric(v any) bool {
	return v != nil && TypeRank(v) == rankNumber
}

// AsFloat converts any numeric subtype to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsInt64 converts an integral numeric subtype, or a float with no
// fractional part, to int64.
func AsInt64(v any) (int64, bool) {
	if i, ok := asInt64Exact(v); ok {
		return i, true
	}
	if f, ok := AsFloat(v); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return int64(f), true
	}
	return 0, false
}

func asInt64Exact(v any) (int64, bool) {
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

// AsDocument normalizes the document representations the driver can hand us
// into bson.D. Plain maps are ordered by key so results are deterministic.
func AsDocument(v any) bson.D {
	switch d := v.(type) {
	case bson.D:
		return d
	case bson.M:
		return mapToD(d)
	case map[string]any:
		return mapToD(d)
	default:
		return nil
	}
}

// IsDocument reports whether v is a document in any accepted representation.
func IsDocument(v any) bool {
	switch v.(type) {
	case bson.D, bson.M, map[string]any:
		return true
	default:
		return false
	}
}

func mapToD(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(bson.D, 0, len(m))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}

// AsArray normalizes array representations into bson.A.
func AsArray(v any) bson.A {
	switch a := v.(type) {
	case bson.A:
		return a
	case []any:
		return bson.A(a)
	default:
		return nil
	}
}

// IsArray reports whether v is an array in any accepted representation.
func IsArray(v any) bool {
	switch v.(type) {
	case bson.A, []any:
		return true
	default:
		return false
	}
}

func asBinary(v any) primitive.Binary {
	switch b := v.(type) {
	case primitive.Binary:
		return b
	case []byte:
		return primitive.Binary{Subtype: 0x00, Data: b}
	default:
		return primitive.Binary{}
	}
}

func asDateTime(v any) int64 {
	switch d := v.(type) {
	case primitive.DateTime:
		return int64(d)
	case time.Time:
		return d.UnixMilli()
	default:
		return 0
	}
}

// AsTime converts a date value to time.Time.
func AsTime(v any) (time.Time, bool) {
	switch d := v.(type) {
	case primitive.DateTime:
		return d.Time().UTC(), true
	case time.Time:
		return d.UTC(), true
	default:
		return time.Time{}, false
	}
}

// IsNull reports whether v is null or undefined. Field absence is handled
// by the path resolver, not here.
func IsNull(v any) bool {
	switch v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return true
	default:
		return false
	}
}

// TypeName returns the type alias used by $type and in error messages.
func TypeName(v any) string {
	switch v.(type) {
	case primitive.MinKey:
		return "minKey"
	case nil, primitive.Null:
		return "null"
	case primitive.Undefined:
		return "undefined"
	case int, int32:
		return "int"
	case int64:
		return "long"
	case float32, float64:
		return "double"
	case primitive.Decimal128:
		return "decimal"
	case string:
		return "string"
	case bson.D, bson.M, map[string]any:
		return "object"
	case bson.A, []any:
		return "array"
	case primitive.Binary, []byte:
		return "binData"
	case primitive.ObjectID:
		return "objectId"
	case bool:
		return "bool"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.Timestamp:
		return "timestamp"
	case primitive.Regex:
		return "regex"
	case primitive.MaxKey:
		return "maxKey"
	default:
		return "unknown"
	}
}

// TypeCode returns the numeric BSON type code matching TypeName.
func TypeCode(v any) int32 {
	switch TypeName(v) {
	case "minKey":
		return -1
	case "null":
		return 10
	case "undefined":
		return 6
	case "int":
		return 16
	case "long":
		return 18
	case "double":
		return 1
	case "decimal":
		return 19
	case "string":
		return 2
	case "object":
		return 3
	case "array":
		return 4
	case "binData":
		return 5
	case "objectId":
		return 7
	case "bool":
		return 8
	case "date":
		return 9
	case "timestamp":
		return 17
	case "regex":
		return 11
	case "maxKey":
		return 127
	default:
		return 0
	}
}
