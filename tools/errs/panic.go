package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

func ErrPanic(r any) error {
	return ErrPanicMsg(r, ServerInternalError, "panic error")
}

func ErrPanicMsg(r any, code int, msg string) error {
	if r == nil {
		return nil
	}
	err := CodeError{
		Code:   code,
		Msg:    msg,
		Detail: fmt.Sprint(r),
	}
	return errors.WithStack(err)
}

func toStr(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	default:
		return fmt.Sprint(v)
	}
}
