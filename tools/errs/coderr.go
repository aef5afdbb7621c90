package errs

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	ServerInternalError = 500
)

var (
	ErrArgs         = NewCodeError(BadRequest, "Invalid request.")
	ErrEmptyMessage = NewCodeError(BadRequest, "Type a message to send.")
	ErrTokenMissing = NewCodeError(Unauthorized, "Authentication token is missing.")
	ErrTokenInvalid = NewCodeError(Unauthorized, "Invalid or expired token.")
	ErrUserNotFound = NewCodeError(NotFound, "User Not Found.")
	ErrChatNotFound = NewCodeError(NotFound, "Chat Not Found.")
	ErrNoGroupChat  = NewCodeError(NotFound, "Group Chat Not Found.")
	ErrNoSender     = NewCodeError(NotFound, "Sender not found.")
	ErrNotMember    = NewCodeError(Forbidden, "You are not a member of this group.")
	ErrInternal     = NewCodeError(ServerInternalError, "Internal Server Error.")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

// New 构造一个不带业务码的普通错误（带调用栈）
func New(msg string, kv ...any) error {
	return errors.New(toString(msg, kv))
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	if e.Detail != "" {
		detail = e.Detail + ", " + detail
	}
	return CodeError{Code: e.Code, Msg: e.Msg, Detail: detail}
}

func (e CodeError) Wrap() error {
	return errors.WithStack(e)
}

func (e CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e
	if msg != "" || len(kv) > 0 {
		ret = e.WithDetail(toString(msg, kv))
	}
	return errors.WithStack(ret)
}

// Is 按业务码比较，Detail 不参与
func (e CodeError) Is(target error) bool {
	var other CodeError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code && e.Msg == other.Msg
}

func (e CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// HTTPStatus 业务码本身就是 HTTP 状态码，非法值归为 500
func (e CodeError) HTTPStatus() int {
	if e.Code < 400 || e.Code > 599 {
		return http.StatusInternalServerError
	}
	return e.Code
}

// AsCode 取出链上的 CodeError；找不到时返回 ErrInternal
func AsCode(err error) (CodeError, bool) {
	var ce CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return ErrInternal, false
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(toStr(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(toStr(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
