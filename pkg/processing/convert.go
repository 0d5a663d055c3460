package processing

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/dop251/goja"
)

// toValue moves a Go value into vm. Data crosses the boundary as JSON so the
// snippet sees plain objects and arrays it can mutate; functions are bound
// directly.
func toValue(vm *goja.Runtime, v interface{}) (goja.Value, error) {
	if v == nil {
		return goja.Null(), nil
	}
	if value, ok := v.(goja.Value); ok {
		return value, nil
	}
	if reflect.ValueOf(v).Kind() == reflect.Func {
		return vm.ToValue(v), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sandbox value: %w", err)
	}

	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not available")
	}
	return parse(goja.Undefined(), vm.ToValue(string(data)))
}

// exportValue converts a runtime value to plain Go data. JSON shaped values
// are normalised so numbers surface as float64 and objects as maps.
func exportValue(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return normalize(v.Export())
}

func normalize(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// thrownError converts a thrown or rejected value.
func thrownError(val goja.Value) *ThrownError {
	if obj, ok := val.(*goja.Object); ok && obj.ClassName() == "Error" {
		return &ThrownError{
			Name:    valueString(obj.Get("name")),
			Message: valueString(obj.Get("message")),
			Stack:   valueString(obj.Get("stack")),
		}
	}

	exported := exportValue(val)
	message := "undefined"
	if val != nil {
		message = val.String()
	}
	if _, isObject := val.(*goja.Object); isObject {
		if data, err := json.Marshal(exported); err == nil {
			message = string(data)
		}
	}
	return &ThrownError{Message: message, Value: exported}
}

// runError maps errors returned by goja into the package error kinds.
func runError(err error) error {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return thrownError(exception.Value())
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return ErrScriptTimeout
	}
	return err
}

func valueString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
