package user

import (
	"context"
	"net/http"

	"SocialChat/middleware"
	usermodel "SocialChat/module/user/model"
	"SocialChat/tools/specialerror"

	"github.com/gin-gonic/gin"
)

type LastActiveReader interface {
	LastActive(ctx context.Context, userID string) (*usermodel.LastActiveView, error)
}

// OnlineLister 进程内在线快照
type OnlineLister interface {
	OnlineUsers() []string
}

type Handler struct {
	users  LastActiveReader
	online OnlineLister
}

func NewHandler(users LastActiveReader, online OnlineLister) *Handler {
	return &Handler{users: users, online: online}
}

// Register 挂在 /api/users 下
func (h *Handler) Register(g *gin.RouterGroup, rt *middleware.Routes) {
	auth := middleware.RouteOpt{IsAuth: true}
	rt.GET(g, "/last-active/:id", h.LastActive, auth)
	rt.GET(g, "/online", h.Online, auth)
}

func (h *Handler) LastActive(c *gin.Context) {
	v, err := h.users.LastActive(c.Request.Context(), c.Param("id"))
	if err != nil {
		specialerror.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) Online(c *gin.Context) {
	c.JSON(http.StatusOK, h.online.OnlineUsers())
}
