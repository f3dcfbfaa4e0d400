package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// Timeout bounds for user code.
const (
	DefaultTimeout = 5000 * time.Millisecond
	MinTimeout     = 100 * time.Millisecond
	MaxTimeout     = 30000 * time.Millisecond
)

const (
	maxCallStack   = 1024
	maxExportDepth = 64
	maxLogLines    = 1000
)

// AllowedGlobals is every global binding user code may see besides data and
// console. All other globals are removed from the runtime before the code runs.
var AllowedGlobals = []string{
	"Array", "Object", "String", "Number", "Boolean", "Date", "Math", "JSON",
	"parseInt", "parseFloat", "isNaN", "isFinite",
	"encodeURIComponent", "decodeURIComponent",
	"undefined", "NaN", "Infinity",
}

// EntryPoints are the function names looked up, in order, after the code runs.
var EntryPoints = []string{"process", "main"}

// Request is a single script invocation.
type Request struct {
	Code    string
	Input   any // JSON-encodable; exposed to the script as `data`
	Timeout time.Duration
	Console bool
}

// Output is what a script produced.
type Output struct {
	// Value is the exported return value; nil when no entry point exists.
	Value      any
	EntryPoint string
	Logs       []string
	Duration   time.Duration
}

// Called reports whether an entry point was found and invoked.
func (o *Output) Called() bool {
	return o.EntryPoint != ""
}

var errTimeout = errors.New("script timeout")

// ValidateTimeout checks a timeout against the allowed range.
func ValidateTimeout(d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"timeout must be between %dms and %dms, got %dms",
			MinTimeout.Milliseconds(), MaxTimeout.Milliseconds(), d.Milliseconds())
	}
	return nil
}

// Run screens and executes code in a fresh interpreter. The call returns when
// the script finishes, the timeout fires, or ctx is cancelled.
func Run(ctx context.Context, req Request) (*Output, error) {
	if err := Screen(req.Code); err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if err := ValidateTimeout(timeout); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeCancelled, "script cancelled before start").WithCause(err)
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStack)
	if err := restrictGlobals(vm); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "prepare sandbox").WithCause(err)
	}

	out := &Output{}
	var logMu sync.Mutex
	if err := bindData(vm, req.Input); err != nil {
		return nil, err
	}
	if req.Console {
		bindConsole(vm, func(line string) {
			logMu.Lock()
			defer logMu.Unlock()
			if len(out.Logs) < maxLogLines {
				out.Logs = append(out.Logs, line)
			}
		})
	}

	timer := time.AfterFunc(timeout, func() { vm.Interrupt(errTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	start := time.Now()
	_, err := vm.RunString(req.Code)
	if err == nil {
		for _, name := range EntryPoints {
			fn, ok := goja.AssertFunction(vm.Get(name))
			if !ok {
				continue
			}
			out.EntryPoint = name
			var ret goja.Value
			ret, err = fn(goja.Undefined(), vm.Get("data"))
			if err == nil {
				out.Value = export(ret, 0)
			}
			break
		}
	}
	out.Duration = time.Since(start)
	if err != nil {
		return nil, classify(err, timeout)
	}
	return out, nil
}

// restrictGlobals deletes every global not in AllowedGlobals.
func restrictGlobals(vm *goja.Runtime) error {
	allowed := make(map[string]bool, len(AllowedGlobals))
	for _, name := range AllowedGlobals {
		allowed[name] = true
	}
	global := vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if allowed[name] {
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("remove global %s: %w", name, err)
		}
	}
	return nil
}

// bindData exposes the input as a plain JS value built by JSON.parse, so the
// script sees ordinary objects and arrays rather than wrapped Go values.
func bindData(vm *goja.Runtime, input any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "encode script input").WithCause(err)
	}
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return schema.NewError(schema.ErrCodeExecution, "JSON.parse unavailable")
	}
	data, err := parse(goja.Undefined(), vm.ToValue(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "decode script input").WithCause(err)
	}
	return vm.Set("data", data)
}

func bindConsole(vm *goja.Runtime, sink func(string)) {
	stringify, _ := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		prefix := ""
		if level != "log" {
			prefix = "[" + level + "] "
		}
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = formatArg(arg, stringify)
			}
			sink(prefix + strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	_ = vm.Set("console", console)
}

func formatArg(v goja.Value, stringify goja.Callable) string {
	if obj, ok := v.(*goja.Object); ok && stringify != nil && obj.ClassName() != "Function" {
		if s, err := stringify(goja.Undefined(), v); err == nil && !goja.IsUndefined(s) {
			return s.String()
		}
	}
	return v.String()
}

// export converts a JS value to Go, keeping object key order through
// dataset.Object. Numbers become float64 and Dates become time.Time.
func export(v goja.Value, depth int) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) || depth > maxExportDepth {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		switch x := v.Export().(type) {
		case int64:
			return float64(x)
		case float64, string, bool:
			return x
		default:
			return v.String()
		}
	}

	switch obj.ClassName() {
	case "Array":
		n := int(obj.Get("length").ToInteger())
		arr := make([]any, n)
		for i := 0; i < n; i++ {
			arr[i] = export(obj.Get(strconv.Itoa(i)), depth+1)
		}
		return arr
	case "Date":
		if t, ok := obj.Export().(time.Time); ok {
			return t.UTC()
		}
		return nil
	case "Function":
		return nil
	}

	out := dataset.NewObject()
	for _, key := range obj.Keys() {
		out.Set(key, export(obj.Get(key), depth+1))
	}
	return out
}

func classify(err error, timeout time.Duration) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok && errors.Is(cause, errTimeout) {
			return schema.NewErrorf(schema.ErrCodeTimeout,
				"script exceeded timeout of %dms", timeout.Milliseconds()).
				WithDetails(map[string]any{"timeout_ms": timeout.Milliseconds()})
		}
		return schema.NewError(schema.ErrCodeCancelled, "script cancelled").WithCause(err)
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return schema.NewErrorf(schema.ErrCodeExecution, "script error: %s", exception.Error()).
			WithCause(err)
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return schema.NewErrorf(schema.ErrCodeExecution, "script syntax error: %s", syntax.Error()).
			WithCause(err)
	}

	return schema.NewErrorf(schema.ErrCodeExecution, "script failed: %v", err).WithCause(err)
}
