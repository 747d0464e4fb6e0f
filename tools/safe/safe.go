package safe

import (
	"fmt"
	"reflect"

	"PPLive/logger"
)

// MustNotNil panics if the given value is nil.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(f func()) {
	go func() {
		defer Recover("SafeGo")
		f()
	}()
}

// Recover logs a recovered panic under the given tag. Use it with defer.
func Recover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("[%s] panic recovered: %v", tag, r)
	}
}
