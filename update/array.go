package update

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
	"github.com/ti/mongomock/filter"
	"github.com/ti/mongomock/mongoerr"
)

// arrayAtPath fetches the array a path targets, treating a missing field as
// an empty array. A present non-array value is a type error.
func arrayAtPath(result bson.D, op, path string) (bson.A, error) {
	current, exists := fieldpath.Lookup(result, path)
	if !exists {
		return bson.A{}, nil
	}
	arr := compare.AsArray(current)
	if arr == nil {
		return nil, mongoerr.NewTypeMismatch(op, compare.TypeName(current))
	}
	return fieldpath.CloneArray(arr), nil
}

type pushModifiers struct {
	each     bson.A
	position *int
	slice    *int
	sortSpec any
}

// parsePushModifiers splits a $push argument into its $each form. A plain
// value pushes itself.
func parsePushModifiers(arg any) (*pushModifiers, error) {
	mods := &pushModifiers{}
	if !compare.IsDocument(arg) || !hasKey(arg, "$each") {
		mods.each = bson.A{arg}
		return mods, nil
	}
	for _, e := range compare.AsDocument(arg) {
		switch e.Key {
		case "$each":
			arr := compare.AsArray(e.Value)
			if arr == nil {
				return nil, mongoerr.NewBadValue("$each", "argument must be an array")
			}
			mods.each = arr
		case "$position":
			n, ok := compare.AsInt64(e.Value)
			if !ok {
				return nil, mongoerr.NewBadValue("$position", "argument must be a whole number")
			}
			pos := int(n)
			mods.position = &pos
		case "$slice":
			n, ok := compare.AsInt64(e.Value)
			if !ok {
				return nil, mongoerr.NewBadValue("$slice", "argument must be a whole number")
			}
			s := int(n)
			mods.slice = &s
		case "$sort":
			mods.sortSpec = e.Value
		default:
			return nil, mongoerr.NewUnsupportedOperator("push modifier", e.Key)
		}
	}
	return mods, nil
}

func hasKey(doc any, key string) bool {
	for _, e := range compare.AsDocument(doc) {
		if e.Key == key {
			return true
		}
	}
	return false
}

func applyPush(result bson.D, path string, arg any) (bson.D, error) {
	mods, err := parsePushModifiers(arg)
	if err != nil {
		return nil, err
	}
	arr, err := arrayAtPath(result, "$push", path)
	if err != nil {
		return nil, err
	}
	insertAt := len(arr)
	if mods.position != nil {
		insertAt = *mods.position
		if insertAt < 0 {
			insertAt = len(arr) + insertAt
		}
		if insertAt < 0 {
			insertAt = 0
		}
		if insertAt > len(arr) {
			insertAt = len(arr)
		}
	}
	pushed := make(bson.A, 0, len(arr)+len(mods.each))
	pushed = append(pushed, arr[:insertAt]...)
	for _, v := range mods.each {
		pushed = append(pushed, fieldpath.CloneValue(v))
	}
	pushed = append(pushed, arr[insertAt:]...)
	if mods.sortSpec != nil {
		if err := sortArray(pushed, mods.sortSpec); err != nil {
			return nil, err
		}
	}
	if mods.slice != nil {
		pushed = sliceArray(pushed, *mods.slice)
	}
	return fieldpath.Set(result, path, pushed)
}

// sortArray implements the $sort push modifier: 1/-1 sorts whole elements,
// a document sorts document elements by the given fields. The sort is
// stable, matching server behavior for equal keys.
func sortArray(arr bson.A, spec any) error {
	if dir, ok := compare.AsInt64(spec); ok {
		if dir != 1 && dir != -1 {
			return mongoerr.NewBadValue("$sort", "direction must be 1 or -1")
		}
		sort.SliceStable(arr, func(i, j int) bool {
			return compare.Order(arr[i], arr[j])*int(dir) < 0
		})
		return nil
	}
	spec = compare.AsDocument(spec)
	keys, ok := spec.(bson.D)
	if !ok || len(keys) == 0 {
		return mongoerr.NewBadValue("$sort", "argument must be 1, -1 or a document of fields")
	}
	for _, k := range keys {
		if d, ok := compare.AsInt64(k.Value); !ok || (d != 1 && d != -1) {
			return mongoerr.NewBadValue("$sort", "direction must be 1 or -1")
		}
	}
	sort.SliceStable(arr, func(i, j int) bool {
		for _, k := range keys {
			dir, _ := compare.AsInt64(k.Value)
			vi, _ := lookupIn(arr[i], k.Key)
			vj, _ := lookupIn(arr[j], k.Key)
			if c := compare.Order(vi, vj) * int(dir); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return nil
}

func lookupIn(elem any, path string) (any, bool) {
	if !compare.IsDocument(elem) {
		return nil, false
	}
	return fieldpath.Lookup(compare.AsDocument(elem), path)
}

// sliceArray implements the $slice push modifier: positive keeps the front,
// negative keeps the back, zero empties the array.
func sliceArray(arr bson.A, n int) bson.A {
	switch {
	case n == 0:
		return bson.A{}
	case n > 0:
		if n >= len(arr) {
			return arr
		}
		return arr[:n]
	default:
		if -n >= len(arr) {
			return arr
		}
		return arr[len(arr)+n:]
	}
}

func applyAddToSet(result bson.D, path string, arg any) (bson.D, error) {
	each := bson.A{arg}
	if compare.IsDocument(arg) && hasKey(arg, "$each") {
		doc := compare.AsDocument(arg)
		if len(doc) != 1 {
			return nil, mongoerr.NewBadValue("$addToSet", "only $each is allowed as a modifier")
		}
		arr := compare.AsArray(doc[0].Value)
		if arr == nil {
			return nil, mongoerr.NewBadValue("$each", "argument must be an array")
		}
		each = arr
	}
	arr, err := arrayAtPath(result, "$addToSet", path)
	if err != nil {
		return nil, err
	}
	for _, v := range each {
		found := false
		for _, existing := range arr {
			if compare.Equal(existing, v) {
				found = true
				break
			}
		}
		if !found {
			arr = append(arr, fieldpath.CloneValue(v))
		}
	}
	return fieldpath.Set(result, path, arr)
}

// applyPull removes every element matching the condition. A document
// argument without operator keys is a nested filter over document elements;
// anything else is an element-level condition.
func applyPull(result bson.D, path string, arg any) (bson.D, error) {
	current, exists := fieldpath.Lookup(result, path)
	if !exists {
		return result, nil
	}
	arr := compare.AsArray(current)
	if arr == nil {
		return nil, mongoerr.NewTypeMismatch("$pull", compare.TypeName(current))
	}
	match, err := filter.ElementCondition(arg)
	if err != nil {
		return nil, err
	}
	kept := make(bson.A, 0, len(arr))
	for _, elem := range arr {
		if !match(elem) {
			kept = append(kept, fieldpath.CloneValue(elem))
		}
	}
	return fieldpath.Set(result, path, kept)
}

func applyPullAll(result bson.D, path string, arg any) (bson.D, error) {
	values := compare.AsArray(arg)
	if values == nil {
		return nil, mongoerr.NewBadValue("$pullAll", "argument must be an array")
	}
	current, exists := fieldpath.Lookup(result, path)
	if !exists {
		return result, nil
	}
	arr := compare.AsArray(current)
	if arr == nil {
		return nil, mongoerr.NewTypeMismatch("$pullAll", compare.TypeName(current))
	}
	kept := make(bson.A, 0, len(arr))
	for _, elem := range arr {
		remove := false
		for _, v := range values {
			if compare.Equal(elem, v) {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, fieldpath.CloneValue(elem))
		}
	}
	return fieldpath.Set(result, path, kept)
}

func applyPop(result bson.D, op, path string, arg any) (bson.D, error) {
	dir, ok := compare.AsInt64(arg)
	if !ok || (dir != 1 && dir != -1) {
		return nil, mongoerr.NewBadValue(op, "argument must be 1 or -1")
	}
	current, exists := fieldpath.Lookup(result, path)
	if !exists {
		return result, nil
	}
	arr := compare.AsArray(current)
	if arr == nil {
		return nil, mongoerr.NewTypeMismatch(op, compare.TypeName(current))
	}
	if len(arr) == 0 {
		return result, nil
	}
	if dir == 1 {
		arr = arr[:len(arr)-1]
	} else {
		arr = arr[1:]
	}
	return fieldpath.Set(result, path, fieldpath.CloneArray(arr))
}
