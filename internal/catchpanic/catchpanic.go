package catchpanic

import (
	"fmt"
	"runtime"

	"fknsrs.biz/p/ytfeeds/internal/stackutil"
)

// PanicError is a recovered panic. Stack starts at the frame that panicked.
type PanicError struct {
	Value interface{}
	Stack []runtime.Frame
}

func (e *PanicError) Error() string {
	if len(e.Stack) > 0 {
		return fmt.Sprintf("catchpanic: %v (at %s)", e.Value, stackutil.FormatStackFrame(e.Stack[0]))
	}

	return fmt.Sprintf("catchpanic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}

	return nil
}

func Catch(fn func()) (err error) {
	defer func() {
		if ex := recover(); ex != nil {
			err = &PanicError{
				Value: ex,
				Stack: stackutil.TrimLeading(stackutil.GetStack(32, 1), []string{"runtime"}),
			}
		}
	}()

	fn()

	return
}

func CatchErr1[T any](fn func() (T, error)) (T, error) {
	var res T
	var err error

	if err1 := Catch(func() { res, err = fn() }); err1 != nil {
		var zero T
		return zero, err1
	}

	return res, err
}
