package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/accesso/services"
	"github.com/cppla/accesso/utils"
)

// LinkController exposes the URL shortener.
type LinkController struct {
	svc *services.LinkService
}

// NewLinkController creates a new LinkController instance.
func NewLinkController(svc *services.LinkService) *LinkController {
	return &LinkController{svc: svc}
}

// Create shortens a URL.
func (c *LinkController) Create(ctx *gin.Context) {
	var req struct {
		URL         string      `json:"url"`
		CustomAlias string      `json:"customAlias"`
		Title       string      `json:"title"`
		ExpiresIn   interface{} `json:"expiresIn"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}

	res, err := c.svc.Create(ctx.Request.Context(), services.LinkRequest{
		URL:         req.URL,
		CustomAlias: req.CustomAlias,
		Title:       req.Title,
		ExpiresIn:   utils.ParseExpiresIn(req.ExpiresIn),
		IP:          utils.ClientIP(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// Stats reports a link without counting a click.
func (c *LinkController) Stats(ctx *gin.Context) {
	res, err := c.svc.Stats(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// Redirect follows a short link. Failures send the browser to the front page with an error flag.
func (c *LinkController) Redirect(ctx *gin.Context) {
	target, err := c.svc.Resolve(ctx.Request.Context(), ctx.Param("code"), services.ClickInfo{
		IP:        utils.ClientIP(ctx),
		UserAgent: ctx.Request.UserAgent(),
		Referrer:  ctx.Request.Referer(),
	})
	switch {
	case err == nil:
		ctx.Redirect(http.StatusFound, target)
	case errors.Is(err, services.ErrDisabled), errors.Is(err, services.ErrNotFound):
		ctx.Redirect(http.StatusFound, "/?error=invalid-link")
	case errors.Is(err, services.ErrExpired):
		ctx.Redirect(http.StatusFound, "/?error=expired-link")
	default:
		utils.Sugar.Errorw("resolve short link", "code", ctx.Param("code"), "error", err)
		ctx.Redirect(http.StatusFound, "/?error=invalid-link")
	}
}
