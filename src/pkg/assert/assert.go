package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Assert panics with the formatted message when condition does not hold.
// The first optional argument is a format string, the rest are its operands.
// It is meant for invariants whose violation is a programming error and can
// never be recovered from at runtime.
func Assert(condition bool, args ...any) bool {
	if condition {
		return true
	}

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
		line = 0
	}
	filename := filepath.Base(file)

	if len(args) > 0 {
		format, isFormat := args[0].(string)
		if !isFormat {
			format = fmt.Sprint(args[0])
		}
		message := fmt.Sprintf(format, args[1:]...)
		panic(fmt.Sprintf("Assertion failed: %s at %s:%d\n", message, filename, line))
	}

	panic(fmt.Sprintf("Assertion failed at %s:%d\n", filename, line))
}

func NoError(err error) {
	Assert(err == nil, "expected no error, got: %v", err)
}

// Cast attempts to cast the provided value 'data' to the specified
// type 'T'. If the cast is not possible, it triggers an assertion failure.
//
// Example usage:
//
//	value := Cast[int](someAnyValue)
func Cast[T any](data any) T {
	castedData, ok := data.(T)
	Assert(ok, "couldn't cast %T to %T", data, *new(T))
	return castedData
}
