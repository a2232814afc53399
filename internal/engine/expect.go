package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// chainWords are the no-op language chains of chai.
var chainWords = []string{"to", "be", "been", "is", "that", "which", "and", "has", "have", "with", "at", "of", "same", "does", "but", "still", "own", "nested"}

// chain is a JS object whose properties mutate flags and return the object
// itself, so `expect(x).to.not.be.ok` works the way chai does.
type chain struct {
	vm     *goja.Runtime
	obj    *goja.Object
	negate bool
}

func newChain(vm *goja.Runtime) *chain {
	c := &chain{vm: vm, obj: vm.NewObject()}
	for _, w := range chainWords {
		c.getter(w, func() goja.Value { return c.obj })
	}
	c.getter("not", func() goja.Value {
		c.negate = !c.negate
		return c.obj
	})
	return c
}

func (c *chain) getter(name string, fn func() goja.Value) {
	get := c.vm.ToValue(func(goja.FunctionCall) goja.Value { return fn() })
	_ = c.obj.DefineAccessorProperty(name, get, nil, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (c *chain) method(fn func(call goja.FunctionCall) goja.Value, names ...string) {
	for _, n := range names {
		_ = c.obj.Set(n, fn)
	}
}

// assert throws an AssertionError unless ok (inverted when negated).
func (c *chain) assert(ok bool, msg, negMsg string) {
	if c.negate {
		ok = !ok
		msg = negMsg
	}
	if !ok {
		panic(assertionError(c.vm, msg))
	}
}

func assertionError(vm *goja.Runtime, msg string) *goja.Object {
	return namedError(vm, "AssertionError", msg)
}

func namedError(vm *goja.Runtime, name, msg string) *goja.Object {
	obj := vm.NewGoError(errors.New(msg))
	_ = obj.Set("name", name)
	_ = obj.Set("message", msg)
	return obj
}

func expectFactory(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return newExpectation(vm, call.Argument(0)).obj
	}
}

type expectation struct {
	*chain
	val      goja.Value
	deep     bool
	any      bool
	contains bool
}

func newExpectation(vm *goja.Runtime, v goja.Value) *expectation {
	e := &expectation{chain: newChain(vm), val: v}
	e.getter("deep", func() goja.Value { e.deep = true; return e.obj })
	e.getter("any", func() goja.Value { e.any = true; return e.obj })
	e.getter("all", func() goja.Value { e.any = false; return e.obj })

	e.getter("ok", e.check(func() (bool, string, string) {
		return v.ToBoolean(), "expected " + inspect(v) + " to be truthy", "expected " + inspect(v) + " to be falsy"
	}))
	e.getter("true", e.check(func() (bool, string, string) {
		return v.StrictEquals(vm.ToValue(true)), "expected " + inspect(v) + " to be true", "expected " + inspect(v) + " to be false"
	}))
	e.getter("false", e.check(func() (bool, string, string) {
		return v.StrictEquals(vm.ToValue(false)), "expected " + inspect(v) + " to be false", "expected " + inspect(v) + " to be true"
	}))
	e.getter("null", e.check(func() (bool, string, string) {
		return goja.IsNull(v), "expected " + inspect(v) + " to be null", "expected " + inspect(v) + " not to be null"
	}))
	e.getter("undefined", e.check(func() (bool, string, string) {
		return v == nil || goja.IsUndefined(v), "expected " + inspect(v) + " to be undefined", "expected " + inspect(v) + " not to be undefined"
	}))
	e.getter("NaN", e.check(func() (bool, string, string) {
		return goja.IsNaN(v), "expected " + inspect(v) + " to be NaN", "expected " + inspect(v) + " not to be NaN"
	}))
	e.getter("exist", e.check(func() (bool, string, string) {
		return !isNullish(v), "expected " + inspect(v) + " to exist", "expected " + inspect(v) + " to not exist"
	}))
	e.getter("empty", e.check(func() (bool, string, string) {
		return isEmpty(vm, v), "expected " + inspect(v) + " to be empty", "expected " + inspect(v) + " not to be empty"
	}))
	e.getter("length", func() goja.Value { return e.lengthChain() })

	e.method(e.equal, "equal", "equals", "eq")
	e.method(e.eql, "eql", "eqls")
	e.method(e.compare(">", "above"), "above", "gt", "greaterThan")
	e.method(e.compare(">=", "at least"), "least", "gte", "greaterThanOrEqual")
	e.method(e.compare("<", "below"), "below", "lt", "lessThan")
	e.method(e.compare("<=", "at most"), "most", "lte", "lessThanOrEqual")
	e.method(e.within, "within")
	e.method(e.closeTo, "closeTo", "approximately")
	e.method(e.hasProperty, "property")
	e.method(e.lengthOf, "lengthOf")
	e.method(e.match, "match", "matches")
	e.method(e.string, "string")
	e.method(e.oneOf, "oneOf")
	e.method(e.instanceOf, "instanceof", "instanceOf")
	// a/an are methods that also chain into instanceof.
	for _, name := range []string{"a", "an"} {
		fn := vm.ToValue(e.typeAssert).(*goja.Object)
		_ = fn.Set("instanceof", e.instanceOf)
		_ = fn.Set("instanceOf", e.instanceOf)
		_ = e.obj.Set(name, fn)
	}
	e.method(e.keys, "keys", "key")
	e.method(e.members, "members")
	e.method(e.satisfy, "satisfy", "satisfies")

	// include is both a method and a chain (`to.include.keys(...)`).
	for _, name := range []string{"include", "includes", "contain", "contains"} {
		fn := vm.ToValue(e.include).(*goja.Object)
		_ = fn.Set("keys", func(call goja.FunctionCall) goja.Value {
			e.contains = true
			return e.keys(call)
		})
		_ = fn.Set("members", func(call goja.FunctionCall) goja.Value {
			e.contains = true
			return e.members(call)
		})
		_ = e.obj.Set(name, fn)
	}
	return e
}

func (e *expectation) check(fn func() (bool, string, string)) func() goja.Value {
	return func() goja.Value {
		ok, msg, neg := fn()
		e.assert(ok, msg, neg)
		return e.obj
	}
}

func (e *expectation) equals(a, b goja.Value) bool {
	if e.deep {
		return deepEqual(a, b)
	}
	return a.StrictEquals(b)
}

func (e *expectation) equal(call goja.FunctionCall) goja.Value {
	want := call.Argument(0)
	verb := "equal"
	if e.deep {
		verb = "deep equal"
	}
	e.assert(e.equals(e.val, want),
		fmt.Sprintf("expected %s to %s %s", inspect(e.val), verb, inspect(want)),
		fmt.Sprintf("expected %s to not %s %s", inspect(e.val), verb, inspect(want)))
	return e.obj
}

func (e *expectation) eql(call goja.FunctionCall) goja.Value {
	want := call.Argument(0)
	e.assert(deepEqual(e.val, want),
		fmt.Sprintf("expected %s to deeply equal %s", inspect(e.val), inspect(want)),
		fmt.Sprintf("expected %s to not deeply equal %s", inspect(e.val), inspect(want)))
	return e.obj
}

func (e *expectation) compare(op, words string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		want := call.Argument(0).ToFloat()
		got := e.val.ToFloat()
		e.assert(compareFloat(op, got, want),
			fmt.Sprintf("expected %s to be %s %s", inspect(e.val), words, formatNumber(want)),
			fmt.Sprintf("expected %s to not be %s %s", inspect(e.val), words, formatNumber(want)))
		return e.obj
	}
}

func compareFloat(op string, got, want float64) bool {
	switch op {
	case ">":
		return got > want
	case ">=":
		return got >= want
	case "<":
		return got < want
	case "<=":
		return got <= want
	}
	return got == want
}

func (e *expectation) within(call goja.FunctionCall) goja.Value {
	lo, hi := call.Argument(0).ToFloat(), call.Argument(1).ToFloat()
	got := e.val.ToFloat()
	rng := formatNumber(lo) + ".." + formatNumber(hi)
	e.assert(got >= lo && got <= hi,
		fmt.Sprintf("expected %s to be within %s", inspect(e.val), rng),
		fmt.Sprintf("expected %s to not be within %s", inspect(e.val), rng))
	return e.obj
}

func (e *expectation) closeTo(call goja.FunctionCall) goja.Value {
	want, delta := call.Argument(0).ToFloat(), call.Argument(1).ToFloat()
	got := e.val.ToFloat()
	e.assert(math.Abs(got-want) <= delta,
		fmt.Sprintf("expected %s to be close to %s +/- %s", inspect(e.val), formatNumber(want), formatNumber(delta)),
		fmt.Sprintf("expected %s not to be close to %s +/- %s", inspect(e.val), formatNumber(want), formatNumber(delta)))
	return e.obj
}

func (e *expectation) include(call goja.FunctionCall) goja.Value {
	target := call.Argument(0)
	found := false
	switch {
	case isString(e.val):
		found = strings.Contains(e.val.String(), target.String())
	case isArray(e.val):
		for _, item := range arrayItems(e.vm, e.val) {
			if e.equals(item, target) {
				found = true
				break
			}
		}
	case isObject(e.val):
		tobj, ok := target.(*goja.Object)
		if !ok {
			panic(assertionError(e.vm, "the given combination of arguments ("+typeOf(e.val)+" and "+typeOf(target)+") is invalid for this assertion"))
		}
		obj := e.val.(*goja.Object)
		found = true
		for _, k := range tobj.Keys() {
			got := obj.Get(k)
			if got == nil || !e.equals(got, tobj.Get(k)) {
				found = false
				break
			}
		}
	default:
		panic(assertionError(e.vm, "object tested must be an array, a map, an object, a set, a string, or a weakset, but "+typeOf(e.val)+" given"))
	}
	e.assert(found,
		fmt.Sprintf("expected %s to include %s", inspect(e.val), inspect(target)),
		fmt.Sprintf("expected %s to not include %s", inspect(e.val), inspect(target)))
	return e.obj
}

// hasProperty asserts a property and, unless negated, moves the subject to
// its value as chai does.
func (e *expectation) hasProperty(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	var prop goja.Value
	if !isNullish(e.val) {
		prop = e.val.ToObject(e.vm).Get(name)
	}
	has := prop != nil
	if len(call.Arguments) > 1 {
		want := call.Arguments[1]
		ok := has && e.equals(prop, want)
		got := "undefined"
		if has {
			got = inspect(prop)
		}
		e.assert(ok,
			fmt.Sprintf("expected %s to have property '%s' of %s, but got %s", inspect(e.val), name, inspect(want), got),
			fmt.Sprintf("expected %s to not have property '%s' of %s", inspect(e.val), name, inspect(want)))
	} else {
		e.assert(has,
			fmt.Sprintf("expected %s to have property '%s'", inspect(e.val), name),
			fmt.Sprintf("expected %s to not have property '%s'", inspect(e.val), name))
	}
	if e.negate || !has {
		return e.obj
	}
	return newExpectation(e.vm, prop).obj
}

func (e *expectation) length() (int64, bool) {
	if isNullish(e.val) {
		return 0, false
	}
	l := e.val.ToObject(e.vm).Get("length")
	if l == nil || goja.IsUndefined(l) {
		return 0, false
	}
	return l.ToInteger(), true
}

func (e *expectation) lengthOf(call goja.FunctionCall) goja.Value {
	want := call.Argument(0).ToInteger()
	got, ok := e.length()
	if !ok {
		panic(assertionError(e.vm, "expected "+inspect(e.val)+" to have property 'length'"))
	}
	e.assert(got == want,
		fmt.Sprintf("expected %s to have a length of %d but got %d", inspect(e.val), want, got),
		fmt.Sprintf("expected %s to not have a length of %d", inspect(e.val), want))
	return e.obj
}

// lengthChain backs `.length`, callable as `.length(n)` and chainable as
// `.length.above(n)`.
func (e *expectation) lengthChain() goja.Value {
	fn := e.vm.ToValue(e.lengthOf).(*goja.Object)
	cmp := func(op, words string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			want := call.Argument(0).ToFloat()
			got, ok := e.length()
			if !ok {
				panic(assertionError(e.vm, "expected "+inspect(e.val)+" to have property 'length'"))
			}
			e.assert(compareFloat(op, float64(got), want),
				fmt.Sprintf("expected %s to have a length %s %s but got %d", inspect(e.val), words, formatNumber(want), got),
				fmt.Sprintf("expected %s to not have a length %s %s", inspect(e.val), words, formatNumber(want)))
			return e.obj
		}
	}
	for _, n := range []string{"above", "gt", "greaterThan"} {
		_ = fn.Set(n, cmp(">", "above"))
	}
	for _, n := range []string{"least", "gte"} {
		_ = fn.Set(n, cmp(">=", "at least"))
	}
	for _, n := range []string{"below", "lt", "lessThan"} {
		_ = fn.Set(n, cmp("<", "below"))
	}
	for _, n := range []string{"most", "lte"} {
		_ = fn.Set(n, cmp("<=", "at most"))
	}
	for _, n := range []string{"equal", "eq", "equals"} {
		_ = fn.Set(n, cmp("==", "of"))
	}
	for _, n := range chainWords {
		_ = fn.Set(n, fn)
	}
	_ = fn.Set("within", func(call goja.FunctionCall) goja.Value {
		lo, hi := call.Argument(0).ToFloat(), call.Argument(1).ToFloat()
		got, _ := e.length()
		e.assert(float64(got) >= lo && float64(got) <= hi,
			fmt.Sprintf("expected %s to have a length within %s..%s", inspect(e.val), formatNumber(lo), formatNumber(hi)),
			fmt.Sprintf("expected %s to not have a length within %s..%s", inspect(e.val), formatNumber(lo), formatNumber(hi)))
		return e.obj
	})
	return fn
}

func (e *expectation) match(call goja.FunctionCall) goja.Value {
	re := call.Argument(0)
	subject := e.val.String()
	matched := false
	if obj, ok := re.(*goja.Object); ok && obj.ClassName() == "RegExp" {
		test, ok := goja.AssertFunction(obj.Get("test"))
		if !ok {
			panic(assertionError(e.vm, "invalid regular expression"))
		}
		res, err := test(obj, e.vm.ToValue(subject))
		if err != nil {
			panic(err)
		}
		matched = res.ToBoolean()
	} else {
		compiled, err := regexp.Compile(re.String())
		if err != nil {
			panic(assertionError(e.vm, "invalid regular expression: "+err.Error()))
		}
		matched = compiled.MatchString(subject)
	}
	e.assert(matched,
		fmt.Sprintf("expected %s to match %s", inspect(e.val), re.String()),
		fmt.Sprintf("expected %s not to match %s", inspect(e.val), re.String()))
	return e.obj
}

func (e *expectation) string(call goja.FunctionCall) goja.Value {
	sub := call.Argument(0).String()
	e.assert(strings.Contains(e.val.String(), sub),
		fmt.Sprintf("expected %s to contain %s", inspect(e.val), inspect(call.Argument(0))),
		fmt.Sprintf("expected %s to not contain %s", inspect(e.val), inspect(call.Argument(0))))
	return e.obj
}

func (e *expectation) oneOf(call goja.FunctionCall) goja.Value {
	list := call.Argument(0)
	found := false
	for _, item := range arrayItems(e.vm, list) {
		if e.equals(e.val, item) {
			found = true
			break
		}
	}
	e.assert(found,
		fmt.Sprintf("expected %s to be one of %s", inspect(e.val), inspect(list)),
		fmt.Sprintf("expected %s to not be one of %s", inspect(e.val), inspect(list)))
	return e.obj
}

func (e *expectation) typeAssert(call goja.FunctionCall) goja.Value {
	want := strings.ToLower(call.Argument(0).String())
	article := "a "
	if strings.ContainsAny(want[:min(1, len(want))], "aeiou") {
		article = "an "
	}
	e.assert(typeOf(e.val) == want,
		fmt.Sprintf("expected %s to be %s%s", inspect(e.val), article, want),
		fmt.Sprintf("expected %s not to be %s%s", inspect(e.val), article, want))
	return e.obj
}

func (e *expectation) instanceOf(call goja.FunctionCall) goja.Value {
	ctor, ok := call.Argument(0).(*goja.Object)
	if !ok {
		panic(assertionError(e.vm, "the instanceof assertion needs a constructor but "+typeOf(call.Argument(0))+" was given"))
	}
	name := ctor.Get("name")
	label := "constructor"
	if name != nil {
		label = name.String()
	}
	e.assert(e.vm.InstanceOf(e.val, ctor),
		fmt.Sprintf("expected %s to be an instance of %s", inspect(e.val), label),
		fmt.Sprintf("expected %s to not be an instance of %s", inspect(e.val), label))
	return e.obj
}

func (e *expectation) keys(call goja.FunctionCall) goja.Value {
	var want []string
	if len(call.Arguments) == 1 && isArray(call.Arguments[0]) {
		for _, k := range arrayItems(e.vm, call.Arguments[0]) {
			want = append(want, k.String())
		}
	} else {
		for _, a := range call.Arguments {
			want = append(want, a.String())
		}
	}
	obj, ok := e.val.(*goja.Object)
	if !ok {
		panic(assertionError(e.vm, "expected "+inspect(e.val)+" to be an object"))
	}
	have := obj.Keys()
	present := 0
	for _, k := range want {
		for _, h := range have {
			if h == k {
				present++
				break
			}
		}
	}
	var matched bool
	switch {
	case e.any:
		matched = present > 0
	case e.contains:
		matched = present == len(want)
	default:
		matched = present == len(want) && len(have) == len(want)
	}
	list := "'" + strings.Join(want, "', '") + "'"
	e.assert(matched,
		fmt.Sprintf("expected %s to have keys %s", inspect(e.val), list),
		fmt.Sprintf("expected %s to not have keys %s", inspect(e.val), list))
	return e.obj
}

func (e *expectation) members(call goja.FunctionCall) goja.Value {
	want := arrayItems(e.vm, call.Argument(0))
	have := arrayItems(e.vm, e.val)
	contains := func(list []goja.Value, v goja.Value) bool {
		for _, item := range list {
			if e.equals(item, v) {
				return true
			}
		}
		return false
	}
	ok := true
	for _, w := range want {
		if !contains(have, w) {
			ok = false
			break
		}
	}
	if ok && !e.contains {
		ok = len(have) == len(want)
	}
	verb := "have the same members as"
	if e.contains {
		verb = "be a superset of"
	}
	e.assert(ok,
		fmt.Sprintf("expected %s to %s %s", inspect(e.val), verb, inspect(call.Argument(0))),
		fmt.Sprintf("expected %s to not %s %s", inspect(e.val), verb, inspect(call.Argument(0))))
	return e.obj
}

func (e *expectation) satisfy(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(assertionError(e.vm, "satisfy expects a function"))
	}
	res, err := fn(goja.Undefined(), e.val)
	if err != nil {
		panic(err)
	}
	e.assert(res.ToBoolean(),
		fmt.Sprintf("expected %s to satisfy %s", inspect(e.val), call.Argument(0).String()),
		fmt.Sprintf("expected %s to not satisfy %s", inspect(e.val), call.Argument(0).String()))
	return e.obj
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func isString(v goja.Value) bool {
	if isNullish(v) {
		return false
	}
	_, ok := v.Export().(string)
	return ok && !isObject(v)
}

func isObject(v goja.Value) bool {
	_, ok := v.(*goja.Object)
	return ok
}

func isArray(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	return ok && obj.ClassName() == "Array"
}

func arrayItems(vm *goja.Runtime, v goja.Value) []goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil
	}
	n := obj.Get("length").ToInteger()
	out := make([]goja.Value, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, obj.Get(strconv.FormatInt(i, 10)))
	}
	return out
}

func isEmpty(vm *goja.Runtime, v goja.Value) bool {
	switch {
	case isNullish(v):
		return false
	case isString(v):
		return v.String() == ""
	case isArray(v):
		return len(arrayItems(vm, v)) == 0
	case isObject(v):
		return len(v.(*goja.Object).Keys()) == 0
	}
	return false
}

// typeOf follows chai's type-detect names.
func typeOf(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, fn := goja.AssertFunction(obj); fn {
			return "function"
		}
		switch obj.ClassName() {
		case "Array":
			return "array"
		case "RegExp":
			return "regexp"
		case "Date":
			return "date"
		case "Error":
			return "error"
		}
		return "object"
	}
	switch v.Export().(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64, int:
		return "number"
	}
	return strings.ToLower(reflect.TypeOf(v.Export()).String())
}

// deepEqual compares exported values through their JSON encoding so that
// integer and float representations of the same number match.
func deepEqual(a, b goja.Value) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b) && goja.IsNull(a) == goja.IsNull(b)
	}
	ja, errA := json.Marshal(a.Export())
	jb, errB := json.Marshal(b.Export())
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a.Export(), b.Export())
	}
	return string(ja) == string(jb)
}

// inspect renders a value the way chai prints it in messages.
func inspect(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, fn := goja.AssertFunction(obj); fn {
			return "[Function]"
		}
		if obj.ClassName() == "RegExp" {
			return v.String()
		}
		if b, err := json.Marshal(obj.Export()); err == nil {
			return string(b)
		}
		return v.String()
	}
	switch x := v.Export().(type) {
	case string:
		return "'" + x + "'"
	case float64:
		return formatNumber(x)
	}
	return v.String()
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
