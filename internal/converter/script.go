package converter

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/record"
	"cdc-rowstream/internal/types"
)

// ScriptFactory runs raw column values through a user JavaScript function
// before the next factory's converter canonicalizes them. The script must
// evaluate to a function, or define a function named convert, taking
// (column, sourceType, value) and returning the new value.
type ScriptFactory struct {
	next    Factory
	columns map[string]struct{}
	logger  *logrus.Logger

	// goja.Runtime is not safe for concurrent use
	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

// NewScriptFactory compiles script. Only the listed columns go through the
// script; an empty list sends every column through it.
func NewScriptFactory(script string, columns []string, next Factory, logger *logrus.Logger) (*ScriptFactory, error) {
	vm := goja.New()
	if logger != nil {
		if err := setupConsole(vm, logger); err != nil {
			return nil, err
		}
	}
	fn, err := loadScriptFunction(vm, script)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return &ScriptFactory{next: next, columns: set, logger: logger, vm: vm, fn: fn}, nil
}

// LoadScriptFactory reads the script from path and creates a ScriptFactory
func LoadScriptFactory(path string, columns []string, next Factory, logger *logrus.Logger) (*ScriptFactory, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read converter script: %w", err)
	}
	f, err := NewScriptFactory(string(content), columns, next, logger)
	if err != nil {
		return nil, err
	}
	logger.Infof("Loaded JavaScript converter script: %s", path)
	return f, nil
}

// setupConsole routes console.log and friends to the logger
func setupConsole(vm *goja.Runtime, logger *logrus.Logger) error {
	console := vm.NewObject()
	levels := map[string]logrus.Level{
		"log":   logrus.InfoLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"debug": logrus.DebugLevel,
	}
	for name, level := range levels {
		level := level
		fn := func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			logger.Log(level, fmt.Sprint(args...))
			return goja.Undefined()
		}
		if err := console.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}
	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

func loadScriptFunction(vm *goja.Runtime, script string) (goja.Callable, error) {
	result, err := vm.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("failed to execute converter script: %w", err)
	}
	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if fn, ok := goja.AssertFunction(result); ok {
			return fn, nil
		}
	}
	named := vm.Get("convert")
	if named != nil && !goja.IsUndefined(named) && !goja.IsNull(named) {
		if fn, ok := goja.AssertFunction(named); ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("converter script must evaluate to a function or define a function named 'convert'")
}

// Create implements Factory
func (f *ScriptFactory) Create(column types.Field) (ValueConverter, error) {
	next, err := f.next.Create(column)
	if err != nil {
		return nil, err
	}
	if len(f.columns) > 0 {
		if _, ok := f.columns[column.Name]; !ok {
			return next, nil
		}
	}
	return ValueConverterFunc(func(rec record.Record, value interface{}, field record.Field) (interface{}, error) {
		out, err := f.call(field, value)
		if err != nil {
			return nil, fmt.Errorf("%w: script failed for %s: %v", ErrDecode, field.Name, err)
		}
		if out == nil {
			return nil, nil
		}
		return next.Convert(rec, out, field)
	}), nil
}

func (f *ScriptFactory) call(field record.Field, value interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result, err := f.fn(goja.Undefined(), f.vm.ToValue(field.Name), f.vm.ToValue(field.Type), f.vm.ToValue(scriptValue(value)))
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	out := result.Export()
	if f.logger != nil {
		f.logger.Debugf("Converter script mapped %s: %v -> %v", field.Name, value, out)
	}
	return out, nil
}

// scriptValue turns values goja cannot represent natively into plain ones
func scriptValue(value interface{}) interface{} {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if fl, err := v.Float64(); err == nil {
			return fl
		}
		return v.String()
	case []byte:
		return string(v)
	}
	return value
}
