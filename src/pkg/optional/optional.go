package optional

import (
	"github.com/Blackdeer1524/GraphTxn/src/pkg/assert"
)

type optionalTagT int

const (
	optionalNoneTag optionalTagT = iota
	optionalSomeTag
)

// Optional is a value that may be absent. The zero value is None.
type Optional[T any] struct {
	tag   optionalTagT
	value T
}

func Some[T any](value T) Optional[T] {
	return Optional[T]{
		tag:   optionalSomeTag,
		value: value,
	}
}

func None[T any]() Optional[T] {
	return Optional[T]{
		tag:   optionalNoneTag,
		value: *new(T),
	}
}

func (opt *Optional[T]) Emplace(value T) {
	opt.tag = optionalSomeTag
	opt.value = value
}

func (opt *Optional[T]) Clear() {
	opt.tag = optionalNoneTag
	opt.value = *new(T) // for deep equality
}

func (opt Optional[T]) Expect(msg string) T {
	assert.Assert(opt.tag != optionalNoneTag, msg)
	return opt.value
}

func (opt Optional[T]) Unwrap() T {
	assert.Assert(opt.tag != optionalNoneTag, "unwrapping an empty optional")
	return opt.value
}

// Get returns the value and whether it is present, in the comma-ok style.
func (opt Optional[T]) Get() (T, bool) {
	return opt.value, opt.tag == optionalSomeTag
}

func (opt Optional[T]) UnwrapOr(fallback T) T {
	if opt.tag == optionalNoneTag {
		return fallback
	}
	return opt.value
}

func (opt Optional[T]) IsNone() bool {
	return opt.tag == optionalNoneTag
}

func (opt Optional[T]) IsSome() bool {
	return opt.tag != optionalNoneTag
}
