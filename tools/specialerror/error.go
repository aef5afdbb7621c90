package specialerror

import (
	"net/http"

	"SocialChat/logger"
	"SocialChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrHandler 把非 CodeError 的错误映射成业务错误，ok=false 表示不认识
type ErrHandler func(err error) (errs.CodeError, bool)

var handlers []ErrHandler

// AddErrHandler 启动时注册，运行期不再修改
func AddErrHandler(h ErrHandler) error {
	if h == nil {
		return errs.New("nil handler")
	}
	handlers = append(handlers, h)
	return nil
}

// Resolve 链上有 CodeError 直接用；否则依次询问已注册的 handler；都不认识按 500 处理
func Resolve(err error) errs.CodeError {
	if ce, ok := errs.AsCode(err); ok {
		return ce
	}
	for _, h := range handlers {
		if ce, ok := h(err); ok {
			return ce
		}
	}
	return errs.ErrInternal
}

// Abort 统一的错误响应：{"error": msg}
func Abort(c *gin.Context, err error) {
	ce := Resolve(err)
	status := ce.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.L().Error("[http] request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": ce.Msg})
}
