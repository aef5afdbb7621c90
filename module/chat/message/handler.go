package message

import (
	"net/http"

	"SocialChat/middleware"
	"SocialChat/middleware/security"
	"SocialChat/tools/errs"
	"SocialChat/tools/specialerror"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register 挂在 /api/messages 下，全部需要登录
func (h *Handler) Register(g *gin.RouterGroup, rt *middleware.Routes) {
	auth := middleware.RouteOpt{IsAuth: true}
	rt.GET(g, "/:id", h.DirectHistory, auth)
	rt.GET(g, "/groups/:id", h.GroupHistory, auth)
	rt.GET(g, "/images/sent", h.ImagesSent, auth)
	rt.POST(g, "", h.SendDirect, auth)
	rt.POST(g, "/groups/:id/send", h.SendGroup, auth)
}

type sendDirectReq struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	SendInput
}

func (h *Handler) SendDirect(c *gin.Context) {
	var req sendDirectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		specialerror.Abort(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	m, err := h.svc.SendDirect(c.Request.Context(), security.UserID(c), req.ReceiverID, req.SendInput)
	if err != nil {
		specialerror.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) SendGroup(c *gin.Context) {
	var in SendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		specialerror.Abort(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	pm, err := h.svc.SendGroup(c.Request.Context(), security.UserID(c), c.Param("id"), in)
	if err != nil {
		specialerror.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, pm)
}

func (h *Handler) DirectHistory(c *gin.Context) {
	list, err := h.svc.DirectHistory(c.Request.Context(), security.UserID(c), c.Param("id"))
	if err != nil {
		specialerror.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GroupHistory(c *gin.Context) {
	list, err := h.svc.GroupHistory(c.Request.Context(), security.UserID(c), c.Param("id"))
	if err != nil {
		specialerror.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) ImagesSent(c *gin.Context) {
	list, err := h.svc.ImagesSent(c.Request.Context(), security.UserID(c))
	if err != nil {
		specialerror.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
