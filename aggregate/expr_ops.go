package aggregate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/mongoerr"
)

func compileOperatorExpr(name string, arg any) (evalFunc, error) {
	switch name {
	case "$literal":
		return literal(arg), nil
	case "$add", "$multiply":
		return compileVariadicArith(name, arg)
	case "$subtract", "$divide", "$mod", "$pow":
		return compileBinaryArith(name, arg)
	case "$abs", "$ceil", "$floor", "$trunc", "$sqrt":
		return compileUnaryArith(name, arg)
	case "$cmp", "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		return compileComparison(name, arg)
	case "$and", "$or":
		return compileBoolean(name, arg)
	case "$not":
		ops, err := compileOperands(name, arg, 1)
		if err != nil {
			return nil, err
		}
		return func(c *exprContext) (any, error) {
			v, err := ops[0](c)
			if err != nil {
				return nil, err
			}
			return !truthy(v), nil
		}, nil
	case "$cond":
		return compileCond(arg)
	case "$ifNull":
		return compileIfNull(arg)
	case "$switch":
		return compileSwitch(arg)
	case "$concat":
		return compileConcat(arg)
	case "$toLower", "$toUpper":
		return compileCaseFold(name, arg)
	case "$strLenCP":
		return compileStrLen(arg)
	case "$substrCP", "$substr":
		return compileSubstr(name, arg)
	case "$split":
		return compileSplit(arg)
	case "$trim":
		return compileTrim(arg)
	case "$size":
		return compileSize(arg)
	case "$arrayElemAt":
		return compileArrayElemAt(arg)
	case "$first", "$last":
		return compileFirstLast(name, arg)
	case "$concatArrays":
		return compileConcatArrays(arg)
	case "$slice":
		return compileSliceExpr(arg)
	case "$filter":
		return compileFilterExpr(arg)
	case "$map":
		return compileMapExpr(arg)
	case "$reduce":
		return compileReduceExpr(arg)
	case "$in":
		return compileInExpr(arg)
	case "$isArray":
		return compileIsArray(arg)
	case "$range":
		return compileRange(arg)
	case "$reverseArray":
		return compileReverseArray(arg)
	case "$setUnion", "$setIntersection", "$setDifference", "$setEquals", "$setIsSubset":
		return compileSetOp(name, arg)
	case "$allElementsTrue", "$anyElementTrue":
		return compileElementsTrue(name, arg)
	case "$year", "$month", "$dayOfMonth", "$hour", "$minute", "$second",
		"$millisecond", "$dayOfWeek", "$dayOfYear":
		return compileDatePart(name, arg)
	case "$dateToString":
		return compileDateToString(arg)
	case "$mergeObjects":
		return compileMergeObjects(arg)
	case "$objectToArray":
		return compileObjectToArray(arg)
	case "$arrayToObject":
		return compileArrayToObject(arg)
	case "$type":
		return compileTypeExpr(arg)
	case "$toString", "$toInt", "$toLong", "$toDouble", "$toBool":
		return compileConversion(name, arg)
	case "$let":
		return compileLet(arg)
	default:
		return nil, mongoerr.NewUnsupportedOperator("expression", name)
	}
}

func numericOperand(op string, v any) (float64, error) {
	f, ok := compare.AsFloat(v)
	if !ok {
		return 0, mongoerr.NewExpressionType(op, compare.TypeName(v))
	}
	return f, nil
}

// numberOf narrows a float result back to int when every input was
// integral, so $add over ints stays an int.
func numberOf(f float64, integral bool) any {
	if integral && f == math.Trunc(f) {
		return int64(f)
	}
	return f
}

func allIntegral(vals []any) bool {
	for _, v := range vals {
		switch v.(type) {
		case int, int32, int64:
		default:
			return false
		}
	}
	return true
}

func compileVariadicArith(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, -1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		var acc float64
		if name == "$multiply" {
			acc = 1
		}
		for _, v := range vals {
			if nullish(v) {
				return nil, nil
			}
			f, err := numericOperand(name, v)
			if err != nil {
				return nil, err
			}
			if name == "$multiply" {
				acc *= f
			} else {
				acc += f
			}
		}
		return numberOf(acc, allIntegral(vals)), nil
	}, nil
}

func compileBinaryArith(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 2)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		if nullish(vals[0]) || nullish(vals[1]) {
			return nil, nil
		}
		// $subtract between two dates yields milliseconds.
		if name == "$subtract" {
			if ta, aOK := compare.AsTime(vals[0]); aOK {
				if tb, bOK := compare.AsTime(vals[1]); bOK {
					return ta.UnixMilli() - tb.UnixMilli(), nil
				}
			}
		}
		a, err := numericOperand(name, vals[0])
		if err != nil {
			return nil, err
		}
		b, err := numericOperand(name, vals[1])
		if err != nil {
			return nil, err
		}
		switch name {
		case "$subtract":
			return numberOf(a-b, allIntegral(vals)), nil
		case "$divide":
			if b == 0 {
				return nil, mongoerr.NewBadValue(name, "cannot divide by zero")
			}
			return a / b, nil
		case "$mod":
			if b == 0 {
				return nil, mongoerr.NewBadValue(name, "cannot mod by zero")
			}
			if allIntegral(vals) {
				return int64(a) % int64(b), nil
			}
			return math.Mod(a, b), nil
		default:
			return numberOf(math.Pow(a, b), allIntegral(vals) && b >= 0), nil
		}
	}, nil
}

func compileUnaryArith(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		if nullish(v) {
			return nil, nil
		}
		f, err := numericOperand(name, v)
		if err != nil {
			return nil, err
		}
		integral := allIntegral([]any{v})
		switch name {
		case "$abs":
			return numberOf(math.Abs(f), integral), nil
		case "$ceil":
			return numberOf(math.Ceil(f), integral), nil
		case "$floor":
			return numberOf(math.Floor(f), integral), nil
		case "$trunc":
			return numberOf(math.Trunc(f), integral), nil
		default:
			if f < 0 {
				return nil, mongoerr.NewBadValue(name, "argument must be non-negative")
			}
			return math.Sqrt(f), nil
		}
	}, nil
}

// Aggregation comparisons use the full canonical type order: unlike the
// query matcher's range operators, they are not type-bracketed.
func compileComparison(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 2)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		a, b := normalizeNull(vals[0]), normalizeNull(vals[1])
		ord := compare.Order(a, b)
		switch name {
		case "$cmp":
			return int32(sign(ord)), nil
		case "$eq":
			return ord == 0, nil
		case "$ne":
			return ord != 0, nil
		case "$gt":
			return ord > 0, nil
		case "$gte":
			return ord >= 0, nil
		case "$lt":
			return ord < 0, nil
		default:
			return ord <= 0, nil
		}
	}, nil
}

func normalizeNull(v any) any {
	if isMissingVal(v) {
		return nil
	}
	return v
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func compileBoolean(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, -1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		for _, op := range ops {
			v, err := op(c)
			if err != nil {
				return nil, err
			}
			if name == "$and" && !truthy(v) {
				return false, nil
			}
			if name == "$or" && truthy(v) {
				return true, nil
			}
		}
		return name == "$and", nil
	}, nil
}

func compileCond(arg any) (evalFunc, error) {
	var ifE, thenE, elseE evalFunc
	var err error
	if compare.IsDocument(arg) {
		doc := compare.AsDocument(arg)
		for _, e := range doc {
			var f evalFunc
			f, err = compileExpr(e.Value)
			if err != nil {
				return nil, err
			}
			switch e.Key {
			case "if":
				ifE = f
			case "then":
				thenE = f
			case "else":
				elseE = f
			default:
				return nil, mongoerr.NewBadValue("$cond", "unknown argument "+e.Key)
			}
		}
		if ifE == nil || thenE == nil || elseE == nil {
			return nil, mongoerr.NewBadValue("$cond", "requires if, then and else")
		}
	} else {
		ops, opErr := compileOperands("$cond", arg, 3)
		if opErr != nil {
			return nil, opErr
		}
		ifE, thenE, elseE = ops[0], ops[1], ops[2]
	}
	return func(c *exprContext) (any, error) {
		v, err := ifE(c)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return thenE(c)
		}
		return elseE(c)
	}, nil
}

func compileIfNull(arg any) (evalFunc, error) {
	ops, err := compileOperands("$ifNull", arg, -1)
	if err != nil {
		return nil, err
	}
	if len(ops) < 2 {
		return nil, mongoerr.NewBadValue("$ifNull", "requires at least two arguments")
	}
	return func(c *exprContext) (any, error) {
		var v any
		var err error
		for _, op := range ops {
			v, err = op(c)
			if err != nil {
				return nil, err
			}
			if !nullish(v) {
				return v, nil
			}
		}
		return normalizeNull(v), nil
	}, nil
}

func compileSwitch(arg any) (evalFunc, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$switch", "argument must be a document")
	}
	type branch struct {
		caseE, thenE evalFunc
	}
	var branches []branch
	var defaultE evalFunc
	for _, e := range compare.AsDocument(arg) {
		switch e.Key {
		case "branches":
			arr := compare.AsArray(e.Value)
			if arr == nil {
				return nil, mongoerr.NewBadValue("$switch", "branches must be an array")
			}
			for _, b := range arr {
				if !compare.IsDocument(b) {
					return nil, mongoerr.NewBadValue("$switch", "each branch must be a document")
				}
				var br branch
				for _, f := range compare.AsDocument(b) {
					fn, err := compileExpr(f.Value)
					if err != nil {
						return nil, err
					}
					switch f.Key {
					case "case":
						br.caseE = fn
					case "then":
						br.thenE = fn
					default:
						return nil, mongoerr.NewBadValue("$switch", "unknown branch argument "+f.Key)
					}
				}
				if br.caseE == nil || br.thenE == nil {
					return nil, mongoerr.NewBadValue("$switch", "each branch requires case and then")
				}
				branches = append(branches, br)
			}
		case "default":
			fn, err := compileExpr(e.Value)
			if err != nil {
				return nil, err
			}
			defaultE = fn
		default:
			return nil, mongoerr.NewBadValue("$switch", "unknown argument "+e.Key)
		}
	}
	if len(branches) == 0 {
		return nil, mongoerr.NewBadValue("$switch", "requires at least one branch")
	}
	return func(c *exprContext) (any, error) {
		for _, br := range branches {
			v, err := br.caseE(c)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return br.thenE(c)
			}
		}
		if defaultE == nil {
			return nil, mongoerr.NewBadValue("$switch", "no branch matched and no default was given")
		}
		return defaultE(c)
	}, nil
}

func compileConcat(arg any) (evalFunc, error) {
	ops, err := compileOperands("$concat", arg, -1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		var sb strings.Builder
		for _, op := range ops {
			v, err := op(c)
			if err != nil {
				return nil, err
			}
			if nullish(v) {
				return nil, nil
			}
			s, ok := v.(string)
			if !ok {
				return nil, mongoerr.NewExpressionType("$concat", compare.TypeName(v))
			}
			sb.WriteString(s)
		}
		return sb.String(), nil
	}, nil
}

func compileCaseFold(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		s, err := stringOperand(name, v)
		if err != nil {
			return nil, err
		}
		if name == "$toLower" {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil
	}, nil
}

// stringOperand coerces null to the empty string, which is what the string
// operators do on the server.
func stringOperand(op string, v any) (string, error) {
	if nullish(v) {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", mongoerr.NewExpressionType(op, compare.TypeName(v))
}

func compileStrLen(arg any) (evalFunc, error) {
	ops, err := compileOperands("$strLenCP", arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		s, ok := v.(string)
		if !ok {
			return nil, mongoerr.NewExpressionType("$strLenCP", compare.TypeName(v))
		}
		return int32(len([]rune(s))), nil
	}, nil
}

func compileSubstr(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 3)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		s, err := stringOperand(name, vals[0])
		if err != nil {
			return nil, err
		}
		start, ok1 := compare.AsInt64(vals[1])
		count, ok2 := compare.AsInt64(vals[2])
		if !ok1 || !ok2 {
			return nil, mongoerr.NewExpressionType(name,
				compare.TypeName(vals[1]), compare.TypeName(vals[2]))
		}
		runes := []rune(s)
		if start < 0 || start >= int64(len(runes)) {
			return "", nil
		}
		end := start + count
		if count < 0 || end > int64(len(runes)) {
			end = int64(len(runes))
		}
		return string(runes[start:end]), nil
	}, nil
}

func compileSplit(arg any) (evalFunc, error) {
	ops, err := compileOperands("$split", arg, 2)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		if nullish(vals[0]) {
			return nil, nil
		}
		s, ok1 := vals[0].(string)
		sep, ok2 := vals[1].(string)
		if !ok1 || !ok2 {
			return nil, mongoerr.NewExpressionType("$split",
				compare.TypeName(vals[0]), compare.TypeName(vals[1]))
		}
		if sep == "" {
			return nil, mongoerr.NewBadValue("$split", "delimiter must not be empty")
		}
		parts := strings.Split(s, sep)
		out := make(bson.A, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}, nil
}

func compileTrim(arg any) (evalFunc, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$trim", "argument must be a document")
	}
	var inputE, charsE evalFunc
	for _, e := range compare.AsDocument(arg) {
		f, err := compileExpr(e.Value)
		if err != nil {
			return nil, err
		}
		switch e.Key {
		case "input":
			inputE = f
		case "chars":
			charsE = f
		default:
			return nil, mongoerr.NewBadValue("$trim", "unknown argument "+e.Key)
		}
	}
	if inputE == nil {
		return nil, mongoerr.NewBadValue("$trim", "requires input")
	}
	return func(c *exprContext) (any, error) {
		v, err := inputE(c)
		if err != nil {
			return nil, err
		}
		if nullish(v) {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, mongoerr.NewExpressionType("$trim", compare.TypeName(v))
		}
		cutset := " \t\n\r"
		if charsE != nil {
			cv, err := charsE(c)
			if err != nil {
				return nil, err
			}
			if cs, ok := cv.(string); ok {
				cutset = cs
			}
		}
		return strings.Trim(s, cutset), nil
	}, nil
}

func arrayOperand(op string, v any) (bson.A, error) {
	arr := compare.AsArray(v)
	if arr == nil {
		return nil, mongoerr.NewExpressionType(op, compare.TypeName(v))
	}
	return arr, nil
}

func compileSize(arg any) (evalFunc, error) {
	ops, err := compileOperands("$size", arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		arr, err := arrayOperand("$size", v)
		if err != nil {
			return nil, err
		}
		return int32(len(arr)), nil
	}, nil
}

func compileArrayElemAt(arg any) (evalFunc, error) {
	ops, err := compileOperands("$arrayElemAt", arg, 2)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		if nullish(vals[0]) {
			return nil, nil
		}
		arr, err := arrayOperand("$arrayElemAt", vals[0])
		if err != nil {
			return nil, err
		}
		idx, ok := compare.AsInt64(vals[1])
		if !ok {
			return nil, mongoerr.NewExpressionType("$arrayElemAt", compare.TypeName(vals[1]))
		}
		if idx < 0 {
			idx += int64(len(arr))
		}
		if idx < 0 || idx >= int64(len(arr)) {
			return missing{}, nil
		}
		return arr[idx], nil
	}, nil
}

func compileFirstLast(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		if nullish(v) {
			return nil, nil
		}
		arr, err := arrayOperand(name, v)
		if err != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return missing{}, nil
		}
		if name == "$first" {
			return arr[0], nil
		}
		return arr[len(arr)-1], nil
	}, nil
}

func compileConcatArrays(arg any) (evalFunc, error) {
	ops, err := compileOperands("$concatArrays", arg, -1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		out := bson.A{}
		for _, op := range ops {
			v, err := op(c)
			if err != nil {
				return nil, err
			}
			if nullish(v) {
				return nil, nil
			}
			arr, err := arrayOperand("$concatArrays", v)
			if err != nil {
				return nil, err
			}
			out = append(out, arr...)
		}
		return out, nil
	}, nil
}

func compileSliceExpr(arg any) (evalFunc, error) {
	ops, err := compileOperands("$slice", arg, -1)
	if err != nil {
		return nil, err
	}
	if len(ops) != 2 && len(ops) != 3 {
		return nil, mongoerr.NewBadValue("$slice", "requires two or three arguments")
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		if nullish(vals[0]) {
			return nil, nil
		}
		arr, err := arrayOperand("$slice", vals[0])
		if err != nil {
			return nil, err
		}
		if len(vals) == 2 {
			n, ok := compare.AsInt64(vals[1])
			if !ok {
				return nil, mongoerr.NewExpressionType("$slice", compare.TypeName(vals[1]))
			}
			if n >= 0 {
				if n > int64(len(arr)) {
					n = int64(len(arr))
				}
				return arr[:n], nil
			}
			if -n > int64(len(arr)) {
				n = -int64(len(arr))
			}
			return arr[int64(len(arr))+n:], nil
		}
		pos, ok1 := compare.AsInt64(vals[1])
		n, ok2 := compare.AsInt64(vals[2])
		if !ok1 || !ok2 {
			return nil, mongoerr.NewExpressionType("$slice",
				compare.TypeName(vals[1]), compare.TypeName(vals[2]))
		}
		if n <= 0 {
			return nil, mongoerr.NewBadValue("$slice", "count must be positive when a position is given")
		}
		if pos < 0 {
			pos += int64(len(arr))
			if pos < 0 {
				pos = 0
			}
		}
		if pos >= int64(len(arr)) {
			return bson.A{}, nil
		}
		end := pos + n
		if end > int64(len(arr)) {
			end = int64(len(arr))
		}
		return arr[pos:end], nil
	}, nil
}

func compileVarSpec(op string, arg any, required []string, optional []string) (map[string]evalFunc, string, error) {
	if !compare.IsDocument(arg) {
		return nil, "", mongoerr.NewBadValue(op, "argument must be a document")
	}
	fns := make(map[string]evalFunc)
	as := ""
	for _, e := range compare.AsDocument(arg) {
		if e.Key == "as" {
			s, ok := e.Value.(string)
			if !ok {
				return nil, "", mongoerr.NewBadValue(op, "as must be a string")
			}
			as = s
			continue
		}
		allowed := false
		for _, k := range append(append([]string{}, required...), optional...) {
			if e.Key == k {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, "", mongoerr.NewBadValue(op, "unknown argument "+e.Key)
		}
		f, err := compileExpr(e.Value)
		if err != nil {
			return nil, "", err
		}
		fns[e.Key] = f
	}
	for _, k := range required {
		if _, ok := fns[k]; !ok {
			return nil, "", mongoerr.NewBadValue(op, "requires "+k)
		}
	}
	return fns, as, nil
}

func compileFilterExpr(arg any) (evalFunc, error) {
	fns, as, err := compileVarSpec("$filter", arg, []string{"input", "cond"}, nil)
	if err != nil {
		return nil, err
	}
	if as == "" {
		as = "this"
	}
	return func(c *exprContext) (any, error) {
		in, err := fns["input"](c)
		if err != nil {
			return nil, err
		}
		if nullish(in) {
			return nil, nil
		}
		arr, err := arrayOperand("$filter", in)
		if err != nil {
			return nil, err
		}
		out := bson.A{}
		for _, elem := range arr {
			v, err := fns["cond"](c.child(as, elem))
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				out = append(out, elem)
			}
		}
		return out, nil
	}, nil
}

func compileMapExpr(arg any) (evalFunc, error) {
	fns, as, err := compileVarSpec("$map", arg, []string{"input", "in"}, nil)
	if err != nil {
		return nil, err
	}
	if as == "" {
		as = "this"
	}
	return func(c *exprContext) (any, error) {
		in, err := fns["input"](c)
		if err != nil {
			return nil, err
		}
		if nullish(in) {
			return nil, nil
		}
		arr, err := arrayOperand("$map", in)
		if err != nil {
			return nil, err
		}
		out := make(bson.A, len(arr))
		for i, elem := range arr {
			v, err := fns["in"](c.child(as, elem))
			if err != nil {
				return nil, err
			}
			out[i] = normalizeNull(v)
		}
		return out, nil
	}, nil
}

func compileReduceExpr(arg any) (evalFunc, error) {
	fns, _, err := compileVarSpec("$reduce", arg, []string{"input", "initialValue", "in"}, nil)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		in, err := fns["input"](c)
		if err != nil {
			return nil, err
		}
		if nullish(in) {
			return nil, nil
		}
		arr, err := arrayOperand("$reduce", in)
		if err != nil {
			return nil, err
		}
		acc, err := fns["initialValue"](c)
		if err != nil {
			return nil, err
		}
		for _, elem := range arr {
			scope := c.child("value", acc)
			scope = scope.child("this", elem)
			acc, err = fns["in"](scope)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	}, nil
}

func compileInExpr(arg any) (evalFunc, error) {
	ops, err := compileOperands("$in", arg, 2)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		arr, err := arrayOperand("$in", vals[1])
		if err != nil {
			return nil, err
		}
		needle := normalizeNull(vals[0])
		for _, elem := range arr {
			if compare.Equal(needle, elem) {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

func compileIsArray(arg any) (evalFunc, error) {
	ops, err := compileOperands("$isArray", arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		return compare.IsArray(v), nil
	}, nil
}

func compileRange(arg any) (evalFunc, error) {
	ops, err := compileOperands("$range", arg, -1)
	if err != nil {
		return nil, err
	}
	if len(ops) != 2 && len(ops) != 3 {
		return nil, mongoerr.NewBadValue("$range", "requires two or three arguments")
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		start, ok1 := compare.AsInt64(vals[0])
		end, ok2 := compare.AsInt64(vals[1])
		if !ok1 || !ok2 {
			return nil, mongoerr.NewExpressionType("$range",
				compare.TypeName(vals[0]), compare.TypeName(vals[1]))
		}
		step := int64(1)
		if len(vals) == 3 {
			s, ok := compare.AsInt64(vals[2])
			if !ok || s == 0 {
				return nil, mongoerr.NewBadValue("$range", "step must be a non-zero whole number")
			}
			step = s
		}
		out := bson.A{}
		if step > 0 {
			for i := start; i < end; i += step {
				out = append(out, int32(i))
			}
		} else {
			for i := start; i > end; i += step {
				out = append(out, int32(i))
			}
		}
		return out, nil
	}, nil
}

func compileReverseArray(arg any) (evalFunc, error) {
	ops, err := compileOperands("$reverseArray", arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		if nullish(v) {
			return nil, nil
		}
		arr, err := arrayOperand("$reverseArray", v)
		if err != nil {
			return nil, err
		}
		out := make(bson.A, len(arr))
		for i, elem := range arr {
			out[len(arr)-1-i] = elem
		}
		return out, nil
	}, nil
}

func compileSetOp(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, -1)
	if err != nil {
		return nil, err
	}
	if name == "$setDifference" || name == "$setIsSubset" {
		if len(ops) != 2 {
			return nil, mongoerr.NewBadValue(name, "requires exactly two arguments")
		}
	}
	return func(c *exprContext) (any, error) {
		vals, err := evalOperands(c, ops)
		if err != nil {
			return nil, err
		}
		sets := make([]bson.A, len(vals))
		for i, v := range vals {
			if nullish(v) {
				return nil, nil
			}
			arr, err := arrayOperand(name, v)
			if err != nil {
				return nil, err
			}
			sets[i] = dedupe(arr)
		}
		switch name {
		case "$setUnion":
			out := bson.A{}
			for _, s := range sets {
				for _, v := range s {
					if !containsEqual(out, v) {
						out = append(out, v)
					}
				}
			}
			return out, nil
		case "$setIntersection":
			if len(sets) == 0 {
				return bson.A{}, nil
			}
			out := bson.A{}
			for _, v := range sets[0] {
				inAll := true
				for _, s := range sets[1:] {
					if !containsEqual(s, v) {
						inAll = false
						break
					}
				}
				if inAll {
					out = append(out, v)
				}
			}
			return out, nil
		case "$setDifference":
			out := bson.A{}
			for _, v := range sets[0] {
				if !containsEqual(sets[1], v) {
					out = append(out, v)
				}
			}
			return out, nil
		case "$setEquals":
			for _, s := range sets[1:] {
				if !subset(sets[0], s) || !subset(s, sets[0]) {
					return false, nil
				}
			}
			return true, nil
		default:
			return subset(sets[0], sets[1]), nil
		}
	}, nil
}

func dedupe(arr bson.A) bson.A {
	out := bson.A{}
	for _, v := range arr {
		if !containsEqual(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func containsEqual(arr bson.A, v any) bool {
	for _, e := range arr {
		if compare.Equal(e, v) {
			return true
		}
	}
	return false
}

func subset(a, b bson.A) bool {
	for _, v := range a {
		if !containsEqual(b, v) {
			return false
		}
	}
	return true
}

func compileElementsTrue(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		arr, err := arrayOperand(name, v)
		if err != nil {
			return nil, err
		}
		if name == "$allElementsTrue" {
			for _, e := range arr {
				if !truthy(e) {
					return false, nil
				}
			}
			return true, nil
		}
		for _, e := range arr {
			if truthy(e) {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

func compileDatePart(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		if nullish(v) {
			return nil, nil
		}
		t, ok := compare.AsTime(v)
		if !ok {
			return nil, mongoerr.NewExpressionType(name, compare.TypeName(v))
		}
		switch name {
		case "$year":
			return int32(t.Year()), nil
		case "$month":
			return int32(t.Month()), nil
		case "$dayOfMonth":
			return int32(t.Day()), nil
		case "$hour":
			return int32(t.Hour()), nil
		case "$minute":
			return int32(t.Minute()), nil
		case "$second":
			return int32(t.Second()), nil
		case "$millisecond":
			return int32(t.Nanosecond() / 1e6), nil
		case "$dayOfWeek":
			// Sunday is 1.
			return int32(t.Weekday()) + 1, nil
		default:
			return int32(t.YearDay()), nil
		}
	}, nil
}

func compileDateToString(arg any) (evalFunc, error) {
	fns, _, err := compileVarSpec("$dateToString", arg, []string{"date"}, []string{"format", "onNull"})
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		dv, err := fns["date"](c)
		if err != nil {
			return nil, err
		}
		if nullish(dv) {
			if onNull, ok := fns["onNull"]; ok {
				return onNull(c)
			}
			return nil, nil
		}
		t, ok := compare.AsTime(dv)
		if !ok {
			return nil, mongoerr.NewExpressionType("$dateToString", compare.TypeName(dv))
		}
		format := "%Y-%m-%dT%H:%M:%S.%LZ"
		if ff, ok := fns["format"]; ok {
			fv, err := ff(c)
			if err != nil {
				return nil, err
			}
			s, ok := fv.(string)
			if !ok {
				return nil, mongoerr.NewExpressionType("$dateToString", compare.TypeName(fv))
			}
			format = s
		}
		return formatDate(t, format)
	}, nil
}

func formatDate(t time.Time, format string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			sb.WriteByte(format[i])
			continue
		}
		i++
		if i >= len(format) {
			return "", mongoerr.NewBadValue("$dateToString", "format ends with an unescaped %")
		}
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&sb, "%04d", t.Year())
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&sb, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&sb, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&sb, "%02d", t.Second())
		case 'L':
			fmt.Fprintf(&sb, "%03d", t.Nanosecond()/1e6)
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case 'w':
			fmt.Fprintf(&sb, "%d", int(t.Weekday())+1)
		case '%':
			sb.WriteByte('%')
		default:
			return "", mongoerr.NewBadValue("$dateToString", "unknown format specifier %"+string(format[i]))
		}
	}
	return sb.String(), nil
}

func compileMergeObjects(arg any) (evalFunc, error) {
	ops, err := compileOperands("$mergeObjects", arg, -1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		out := bson.D{}
		for _, op := range ops {
			v, err := op(c)
			if err != nil {
				return nil, err
			}
			if nullish(v) {
				continue
			}
			if !compare.IsDocument(v) {
				return nil, mongoerr.NewExpressionType("$mergeObjects", compare.TypeName(v))
			}
			for _, e := range compare.AsDocument(v) {
				out = setField(out, e.Key, e.Value)
			}
		}
		return out, nil
	}, nil
}

func setField(doc bson.D, key string, value any) bson.D {
	for i, e := range doc {
		if e.Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

func compileObjectToArray(arg any) (evalFunc, error) {
	ops, err := compileOperands("$objectToArray", arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		if nullish(v) {
			return nil, nil
		}
		if !compare.IsDocument(v) {
			return nil, mongoerr.NewExpressionType("$objectToArray", compare.TypeName(v))
		}
		doc := compare.AsDocument(v)
		out := make(bson.A, len(doc))
		for i, e := range doc {
			out[i] = bson.D{{Key: "k", Value: e.Key}, {Key: "v", Value: e.Value}}
		}
		return out, nil
	}, nil
}

func compileArrayToObject(arg any) (evalFunc, error) {
	ops, err := compileOperands("$arrayToObject", arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		if nullish(v) {
			return nil, nil
		}
		arr, err := arrayOperand("$arrayToObject", v)
		if err != nil {
			return nil, err
		}
		out := bson.D{}
		for _, elem := range arr {
			switch {
			case compare.IsDocument(elem):
				doc := compare.AsDocument(elem)
				var key string
				var val any
				var haveK, haveV bool
				for _, e := range doc {
					switch e.Key {
					case "k":
						if s, ok := e.Value.(string); ok {
							key, haveK = s, true
						}
					case "v":
						val, haveV = e.Value, true
					}
				}
				if !haveK || !haveV || len(doc) != 2 {
					return nil, mongoerr.NewBadValue("$arrayToObject", "document elements must be {k, v}")
				}
				out = setField(out, key, val)
			case compare.IsArray(elem):
				pair := compare.AsArray(elem)
				if len(pair) != 2 {
					return nil, mongoerr.NewBadValue("$arrayToObject", "array elements must be [key, value]")
				}
				key, ok := pair[0].(string)
				if !ok {
					return nil, mongoerr.NewExpressionType("$arrayToObject", compare.TypeName(pair[0]))
				}
				out = setField(out, key, pair[1])
			default:
				return nil, mongoerr.NewExpressionType("$arrayToObject", compare.TypeName(elem))
			}
		}
		return out, nil
	}, nil
}

func compileTypeExpr(arg any) (evalFunc, error) {
	ops, err := compileOperands("$type", arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		if isMissingVal(v) {
			return "missing", nil
		}
		return compare.TypeName(v), nil
	}, nil
}

func compileConversion(name string, arg any) (evalFunc, error) {
	ops, err := compileOperands(name, arg, 1)
	if err != nil {
		return nil, err
	}
	return func(c *exprContext) (any, error) {
		v, err := ops[0](c)
		if err != nil {
			return nil, err
		}
		if nullish(v) {
			return nil, nil
		}
		return convertValue(name, v)
	}, nil
}

func convertValue(name string, v any) (any, error) {
	switch name {
	case "$toString":
		switch t := v.(type) {
		case string:
			return t, nil
		case bool:
			return strconv.FormatBool(t), nil
		case primitive.ObjectID:
			return t.Hex(), nil
		default:
			if i, ok := v.(int64); ok {
				return strconv.FormatInt(i, 10), nil
			}
			if i, ok := v.(int32); ok {
				return strconv.FormatInt(int64(i), 10), nil
			}
			if f, ok := compare.AsFloat(v); ok {
				return strconv.FormatFloat(f, 'f', -1, 64), nil
			}
			if t, ok := compare.AsTime(v); ok {
				return t.Format("2006-01-02T15:04:05.000Z"), nil
			}
			return nil, mongoerr.NewExpressionType(name, compare.TypeName(v))
		}
	case "$toBool":
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			return true, nil
		default:
			if f, ok := compare.AsFloat(v); ok {
				return f != 0, nil
			}
			return true, nil
		}
	case "$toInt", "$toLong":
		var n int64
		switch t := v.(type) {
		case bool:
			if t {
				n = 1
			}
		case string:
			parsed, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return nil, mongoerr.NewBadValue(name, "cannot parse "+t)
			}
			n = parsed
		default:
			f, ok := compare.AsFloat(v)
			if !ok {
				return nil, mongoerr.NewExpressionType(name, compare.TypeName(v))
			}
			n = int64(f)
		}
		if name == "$toInt" {
			return int32(n), nil
		}
		return n, nil
	default: // $toDouble
		switch t := v.(type) {
		case bool:
			if t {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			f, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return nil, mongoerr.NewBadValue(name, "cannot parse "+t)
			}
			return f, nil
		default:
			f, ok := compare.AsFloat(v)
			if !ok {
				return nil, mongoerr.NewExpressionType(name, compare.TypeName(v))
			}
			return f, nil
		}
	}
}

func compileLet(arg any) (evalFunc, error) {
	if !compare.IsDocument(arg) {
		return nil, mongoerr.NewBadValue("$let", "argument must be a document")
	}
	var varFns []struct {
		name string
		eval evalFunc
	}
	var inE evalFunc
	for _, e := range compare.AsDocument(arg) {
		switch e.Key {
		case "vars":
			if !compare.IsDocument(e.Value) {
				return nil, mongoerr.NewBadValue("$let", "vars must be a document")
			}
			for _, v := range compare.AsDocument(e.Value) {
				f, err := compileExpr(v.Value)
				if err != nil {
					return nil, err
				}
				varFns = append(varFns, struct {
					name string
					eval evalFunc
				}{v.Key, f})
			}
		case "in":
			f, err := compileExpr(e.Value)
			if err != nil {
				return nil, err
			}
			inE = f
		default:
			return nil, mongoerr.NewBadValue("$let", "unknown argument "+e.Key)
		}
	}
	if inE == nil {
		return nil, mongoerr.NewBadValue("$let", "requires in")
	}
	return func(c *exprContext) (any, error) {
		scope := c
		for _, vf := range varFns {
			v, err := vf.eval(scope)
			if err != nil {
				return nil, err
			}
			scope = scope.child(vf.name, v)
		}
		return inE(scope)
	}, nil
}
