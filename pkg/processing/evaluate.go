package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"github.com/api3dao/commons-go/pkg/logger"
)

// Globals are bound into the runtime before a snippet runs.
type Globals map[string]interface{}

// Executor runs processing snippets in a fresh runtime per invocation. It is
// safe for concurrent use.
type Executor struct {
	logger *logger.Logger
}

// NewExecutor creates an executor. Snippet console output goes to log.
func NewExecutor(log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{logger: log}
}

// EvaluateSync runs code that assigns its result to a top level binding named
// output. The runtime is interrupted after timeout or when ctx is done.
func (e *Executor) EvaluateSync(ctx context.Context, code string, globals Globals, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	program, err := compile(code + "\n;deferredOutput = output;")
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	if err := e.prepare(ctx, vm, globals); err != nil {
		return nil, err
	}
	if err := vm.Set("deferredOutput", goja.Undefined()); err != nil {
		return nil, err
	}

	release := interruptOn(ctx, vm, timeout)
	_, err = vm.RunProgram(program)
	release()
	if err != nil {
		return nil, runError(err)
	}
	return exportValue(vm.Get("deferredOutput")), nil
}

// EvaluateAsync runs code that signals completion by calling resolve(value)
// or reject(err). Timers are available. If neither is called within timeout
// the call fails with ErrTimeout.
func (e *Executor) EvaluateAsync(ctx context.Context, code string, globals Globals, timeout time.Duration) (interface{}, error) {
	return e.runAsync(ctx, code, globals, timeout, asyncMode{
		resolveName: "resolve",
		rejectName:  "reject",
		deadlineErr: ErrTimeout,
	})
}

// EvaluateAsyncV2 runs code that evaluates to a single, possibly async,
// function. The function is called with payload and its settled value is the
// result. Failing to settle within timeout yields ErrFullTimeout.
func (e *Executor) EvaluateAsyncV2(ctx context.Context, code string, payload interface{}, timeout time.Duration) (interface{}, error) {
	globals := Globals{"__payload": payload}
	return e.runAsync(ctx, wrapFunction(code), globals, timeout, asyncMode{
		resolveName: "__resolve",
		rejectName:  "__reject",
		deadlineErr: ErrFullTimeout,
	})
}

// wrapFunction turns a function expression into a script that invokes it
// with the payload and forwards the outcome to the completion callbacks.
// A lone expression statement is bound as written, so trailing semicolons
// and comments are allowed. Anything else is parenthesised, which accepts
// only a single expression.
func wrapFunction(code string) string {
	var binding string
	if singleExpression(code) {
		binding = "const __processingFunction = " + code + "\n;\n"
	} else {
		fn := strings.TrimSpace(code)
		fn = strings.TrimSpace(strings.TrimRight(fn, ";"))
		binding = "const __processingFunction = (\n" + fn + "\n);\n"
	}
	return "(async () => {\n" +
		binding +
		"return await __processingFunction(__payload);\n" +
		"})().then(__resolve, __reject);"
}

// singleExpression reports whether code parses to exactly one expression
// statement, ignoring empty statements. Sequence expressions are excluded
// because a declaration would split them.
func singleExpression(code string) bool {
	program, err := parser.ParseFile(nil, "", code, 0)
	if err != nil {
		return false
	}

	var expr ast.Expression
	for _, stmt := range program.Body {
		switch s := stmt.(type) {
		case *ast.EmptyStatement:
		case *ast.ExpressionStatement:
			if expr != nil {
				return false
			}
			expr = s.Expression
		default:
			return false
		}
	}
	if expr == nil {
		return false
	}
	_, sequence := expr.(*ast.SequenceExpression)
	return !sequence
}

type asyncMode struct {
	resolveName string
	rejectName  string
	deadlineErr error
}

type outcome struct {
	value interface{}
	err   error
}

// settler accepts only the first outcome. Settling releases every timer.
type settler struct {
	once   sync.Once
	guard  *TimerGuard
	result chan outcome
}

func (s *settler) settle(o outcome) {
	s.once.Do(func() {
		s.guard.Release()
		s.result <- o
	})
}

func (e *Executor) runAsync(ctx context.Context, code string, globals Globals, timeout time.Duration, mode asyncMode) (interface{}, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	program, err := compile(code)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	loop := newEventLoop(vm)
	guard := NewTimerGuard(loop.enqueue)
	s := &settler{guard: guard, result: make(chan outcome, 1)}
	fail := func(err error) { s.settle(outcome{err: err}) }
	loop.onPanic = fail

	if err := e.prepare(ctx, vm, globals); err != nil {
		return nil, err
	}
	if err := installTimers(vm, guard, func(err error) { fail(runError(err)) }); err != nil {
		return nil, err
	}
	resolve := func(call goja.FunctionCall) goja.Value {
		s.settle(outcome{value: exportValue(call.Argument(0))})
		return goja.Undefined()
	}
	reject := func(call goja.FunctionCall) goja.Value {
		fail(thrownError(call.Argument(0)))
		return goja.Undefined()
	}
	if err := vm.Set(mode.resolveName, resolve); err != nil {
		return nil, err
	}
	if err := vm.Set(mode.rejectName, reject); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	loop.start(func() {
		ceiling := time.AfterFunc(timeout, func() { vm.Interrupt(ErrScriptTimeout) })
		_, err := vm.RunProgram(program)
		if !ceiling.Stop() && err == nil {
			vm.ClearInterrupt()
		}
		if err != nil {
			fail(runError(err))
		}
	})

	var o outcome
	select {
	case o = <-s.result:
	case <-deadline.C:
		fail(mode.deadlineErr)
		o = <-s.result
	case <-ctx.Done():
		fail(context.Cause(ctx))
		o = <-s.result
	}

	loop.stop()
	loop.wait()
	return o.value, o.err
}

// prepare installs built-ins and globals. Values are converted on the
// calling goroutine before the loop starts.
func (e *Executor) prepare(ctx context.Context, vm *goja.Runtime, globals Globals) error {
	if err := e.installBuiltins(ctx, vm); err != nil {
		return err
	}
	for name, value := range globals {
		jsValue, err := toValue(vm, value)
		if err != nil {
			return fmt.Errorf("global %q: %w", name, err)
		}
		if err := vm.Set(name, jsValue); err != nil {
			return fmt.Errorf("global %q: %w", name, err)
		}
	}
	return nil
}

func installTimers(vm *goja.Runtime, guard *TimerGuard, onError func(error)) error {
	callback := func(call goja.FunctionCall) (func(), error) {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return nil, errors.New("callback must be a function")
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = call.Arguments[2:]
		}
		return func() {
			if _, err := fn(goja.Undefined(), args...); err != nil {
				onError(err)
			}
		}, nil
	}
	delay := func(call goja.FunctionCall) time.Duration {
		return time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	}

	timers := map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout": func(call goja.FunctionCall) goja.Value {
			fn, err := callback(call)
			if err != nil {
				panic(vm.NewTypeError(err.Error()))
			}
			return vm.ToValue(guard.SetTimeout(fn, delay(call)))
		},
		"setInterval": func(call goja.FunctionCall) goja.Value {
			fn, err := callback(call)
			if err != nil {
				panic(vm.NewTypeError(err.Error()))
			}
			return vm.ToValue(guard.SetInterval(fn, delay(call)))
		},
		"clearTimeout": func(call goja.FunctionCall) goja.Value {
			guard.ClearTimeout(call.Argument(0).ToInteger())
			return goja.Undefined()
		},
		"clearInterval": func(call goja.FunctionCall) goja.Value {
			guard.ClearInterval(call.Argument(0).ToInteger())
			return goja.Undefined()
		},
	}
	for name, fn := range timers {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// interruptOn interrupts vm after timeout or when ctx is done. The returned
// func disarms both.
func interruptOn(ctx context.Context, vm *goja.Runtime, timeout time.Duration) func() {
	timer := time.AfterFunc(timeout, func() { vm.Interrupt(ErrScriptTimeout) })
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(context.Cause(ctx))
		case <-done:
		}
	}()
	return func() {
		timer.Stop()
		close(done)
	}
}

func compile(code string) (*goja.Program, error) {
	program, err := goja.Compile("processing.js", code, false)
	if err != nil {
		return nil, &SyntaxError{Err: err}
	}
	return program, nil
}
