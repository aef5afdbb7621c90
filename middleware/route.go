package middleware

import (
	"SocialChat/tools/errs"
	"SocialChat/tools/specialerror"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// Routes 统一挂鉴权中间件；auth 为空时需要鉴权的路由一律 401
type Routes struct {
	auth gin.HandlerFunc
}

func NewRoutes(auth gin.HandlerFunc) *Routes {
	if auth == nil {
		auth = func(c *gin.Context) { specialerror.Abort(c, errs.ErrTokenMissing.Wrap()) }
	}
	return &Routes{auth: auth}
}

func (rt *Routes) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth {
		return []gin.HandlerFunc{rt.auth, handler}
	}
	return []gin.HandlerFunc{handler}
}

// 封装 POST
func (rt *Routes) POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, rt.chain(handler, opt)...)
}

// 封装 GET
func (rt *Routes) GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, rt.chain(handler, opt)...)
}
