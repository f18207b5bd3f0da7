package promise

import (
	"reflect"
	"sync"
)

// SettledResult is one entry of AllSettled's output: exactly one of Value
// or Reason is meaningful, distinguished by Fulfilled.
type SettledResult struct {
	Fulfilled bool
	Value     Result
	Reason    Result
}

// All returns a promise that fulfills with a []Result in input order once
// every input has fulfilled, or rejects with the first rejection reason
// observed. Later rejections are ignored, and because All attaches to every
// input, no input is reported as an unhandled rejection. Mirrors
// Promise.all.
func All(promises ...*Promise) *Promise {
	flow := ControlFlowActive()
	result := newPromise(flow)
	if len(promises) == 0 {
		result.resolve([]Result{})
		return result
	}
	values := make([]Result, len(promises))
	remaining := len(promises)
	var mu sync.Mutex
	for i, p := range promises {
		i := i
		p.subscribe(func(state PromiseState, value Result) {
			mu.Lock()
			defer mu.Unlock()
			if result.isSettled() {
				return
			}
			if state == StateRejected {
				result.reject(value)
				return
			}
			values[i] = value
			remaining--
			if remaining == 0 {
				result.resolve(values)
			}
		})
	}
	return result
}

// Race returns a promise that settles the same way as whichever input
// settles first.
func Race(promises ...*Promise) *Promise {
	flow := ControlFlowActive()
	result := newPromise(flow)
	for _, p := range promises {
		p.subscribe(func(state PromiseState, value Result) {
			if result.isSettled() {
				return
			}
			if state == StateRejected {
				result.reject(value)
			} else {
				result.resolve(value)
			}
		})
	}
	return result
}

// AllSettled returns a promise that always fulfills, once every input has
// settled, with one SettledResult per input in order.
func AllSettled(promises ...*Promise) *Promise {
	flow := ControlFlowActive()
	result := newPromise(flow)
	if len(promises) == 0 {
		result.resolve([]SettledResult{})
		return result
	}
	out := make([]SettledResult, len(promises))
	remaining := len(promises)
	var mu sync.Mutex
	for i, p := range promises {
		i := i
		p.subscribe(func(state PromiseState, value Result) {
			mu.Lock()
			defer mu.Unlock()
			if state == StateRejected {
				out[i] = SettledResult{Fulfilled: false, Reason: value}
			} else {
				out[i] = SettledResult{Fulfilled: true, Value: value}
			}
			remaining--
			if remaining == 0 {
				result.resolve(out)
			}
		})
	}
	return result
}

// Any returns a promise that fulfills with the first fulfillment observed
// among its inputs, or rejects with an *AggregateError once every input
// has rejected.
func Any(promises ...*Promise) *Promise {
	flow := ControlFlowActive()
	result := newPromise(flow)
	if len(promises) == 0 {
		result.reject(&AggregateError{})
		return result
	}
	reasons := make([]error, len(promises))
	remaining := len(promises)
	var mu sync.Mutex
	for i, p := range promises {
		i := i
		p.subscribe(func(state PromiseState, value Result) {
			mu.Lock()
			defer mu.Unlock()
			if result.isSettled() {
				return
			}
			if state == StateFulfilled {
				result.resolve(value)
				return
			}
			reasons[i] = asThrow(value)
			remaining--
			if remaining == 0 {
				result.reject(&AggregateError{Errors: reasons})
			}
		})
	}
	return result
}

// fullyResolved recursively waits for v itself, and for every thenable
// reachable inside it through a slice, array, map, or exported struct
// field, to settle — returning a promise that fulfills with the
// fully-resolved structure (same concrete type as v, with thenables
// replaced by their settled values) or rejects with the first rejection
// encountered anywhere in the walk. Supplements the spec with the
// host-side convenience WebDriver clients lean on heavily when assembling
// composite command results out of arbitrary nested value trees, not just
// bare []Result/map[string]Result.
func fullyResolved(v Result) *Promise {
	flow := ControlFlowActive()
	if thenable := asThenable(v); thenable != nil {
		bridge := newPromise(flow)
		thenable.subscribe(func(state PromiseState, value Result) {
			if state == StateRejected {
				bridge.reject(value)
				return
			}
			fullyResolved(value).subscribe(func(s PromiseState, v Result) {
				if s == StateRejected {
					bridge.reject(v)
				} else {
					bridge.resolve(v)
				}
			})
		})
		return bridge
	}
	if v == nil {
		p := newPromise(flow)
		p.resolve(v)
		return p
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return fullyResolveSequence(flow, rv)
	case reflect.Map:
		return fullyResolveMap(flow, rv)
	case reflect.Struct:
		return fullyResolveStruct(flow, rv)
	default:
		p := newPromise(flow)
		p.resolve(v)
		return p
	}
}

// fullyResolveSequence walks a slice or array, assimilating each element
// (recursively) and rebuilding a value of rv's own concrete type once
// every element has settled. Grounded on the teacher's AllSettled
// aggregation pattern: one promise per element, joined with All.
func fullyResolveSequence(flow *ControlFlow, rv reflect.Value) *Promise {
	p := newPromise(flow)
	n := rv.Len()
	if n == 0 {
		p.resolve(rv.Interface())
		return p
	}
	elemType := rv.Type().Elem()
	elems := make([]*Promise, n)
	for i := 0; i < n; i++ {
		elems[i] = fullyResolved(rv.Index(i).Interface())
	}
	All(elems...).subscribe(func(state PromiseState, value Result) {
		if state == StateRejected {
			p.reject(value)
			return
		}
		resolved := value.([]Result)
		var out reflect.Value
		if rv.Kind() == reflect.Array {
			out = reflect.New(rv.Type()).Elem()
		} else {
			out = reflect.MakeSlice(rv.Type(), n, n)
		}
		for i, r := range resolved {
			setReflectValue(out.Index(i), elemType, r)
		}
		p.resolve(out.Interface())
	})
	return p
}

// fullyResolveMap walks a map's values (keys pass through unchanged),
// rebuilding a map of rv's own concrete type.
func fullyResolveMap(flow *ControlFlow, rv reflect.Value) *Promise {
	p := newPromise(flow)
	keys := rv.MapKeys()
	if len(keys) == 0 {
		p.resolve(rv.Interface())
		return p
	}
	elemType := rv.Type().Elem()
	elems := make([]*Promise, len(keys))
	for i, k := range keys {
		elems[i] = fullyResolved(rv.MapIndex(k).Interface())
	}
	All(elems...).subscribe(func(state PromiseState, value Result) {
		if state == StateRejected {
			p.reject(value)
			return
		}
		resolved := value.([]Result)
		out := reflect.MakeMapWithSize(rv.Type(), len(keys))
		for i, k := range keys {
			ev := reflect.New(elemType).Elem()
			setReflectValue(ev, elemType, resolved[i])
			out.SetMapIndex(k, ev)
		}
		p.resolve(out.Interface())
	})
	return p
}

// fullyResolveStruct walks a struct's exported fields, leaving unexported
// fields copied through verbatim (rebuilding via a whole-value Set, which
// reflect permits even though individual unexported fields can't be set).
func fullyResolveStruct(flow *ControlFlow, rv reflect.Value) *Promise {
	p := newPromise(flow)
	t := rv.Type()
	var fieldIdx []int
	var elems []*Promise
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).PkgPath != "" {
			continue
		}
		fieldIdx = append(fieldIdx, i)
		elems = append(elems, fullyResolved(rv.Field(i).Interface()))
	}
	if len(elems) == 0 {
		p.resolve(rv.Interface())
		return p
	}
	All(elems...).subscribe(func(state PromiseState, value Result) {
		if state == StateRejected {
			p.reject(value)
			return
		}
		resolved := value.([]Result)
		out := reflect.New(t).Elem()
		out.Set(rv)
		for i, fi := range fieldIdx {
			field := out.Field(fi)
			setReflectValue(field, field.Type(), resolved[i])
		}
		p.resolve(out.Interface())
	})
	return p
}

// setReflectValue assigns v into dst (of type dstType), zeroing dst for a
// nil v and converting when v's concrete type isn't directly assignable
// (e.g. a resolved element handed back as Result/any into a concretely
// typed slice).
func setReflectValue(dst reflect.Value, dstType reflect.Type, v Result) {
	if v == nil {
		dst.Set(reflect.Zero(dstType))
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(dstType) {
		dst.Set(rv)
		return
	}
	if rv.Type().ConvertibleTo(dstType) {
		dst.Set(rv.Convert(dstType))
	}
}

// FullyResolved is the exported entry point for fullyResolved.
func FullyResolved(v Result) *Promise { return fullyResolved(v) }
