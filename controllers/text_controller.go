package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/accesso/services"
	"github.com/cppla/accesso/utils"
)

// TextController exposes text tunnels.
type TextController struct {
	svc *services.TextService
}

// NewTextController creates a new TextController instance.
func NewTextController(svc *services.TextService) *TextController {
	return &TextController{svc: svc}
}

// Create opens a tunnel, appends to one, or creates one with its first entry,
// depending on which fields the body carries.
func (c *TextController) Create(ctx *gin.Context) {
	var req struct {
		Title        string      `json:"title"`
		Content      string      `json:"content"`
		Language     string      `json:"language"`
		Password     string      `json:"password"`
		ExpiresIn    interface{} `json:"expiresIn"`
		Code         string      `json:"code"`
		ExistingCode string      `json:"existingCode"`
		CustomCode   string      `json:"customCode"`
		CreateEmpty  bool        `json:"createEmpty"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}

	tunnel := services.TunnelRequest{
		Code:      req.CustomCode,
		Password:  req.Password,
		ExpiresIn: utils.ParseExpiresIn(req.ExpiresIn),
		IP:        utils.ClientIP(ctx),
	}
	entry := services.EntryInput{Title: req.Title, Content: req.Content, Language: req.Language}

	if req.CreateEmpty {
		res, err := c.svc.CreateEmpty(ctx.Request.Context(), tunnel)
		if err != nil {
			respondError(ctx, err)
			return
		}
		utils.Success(ctx, res)
		return
	}

	existing := strings.TrimSpace(req.Code)
	if existing == "" {
		existing = strings.TrimSpace(req.ExistingCode)
	}
	if existing != "" {
		res, err := c.svc.AppendEntry(ctx.Request.Context(), existing, entry)
		if err != nil {
			respondError(ctx, err)
			return
		}
		utils.Success(ctx, res)
		return
	}

	res, err := c.svc.CreateWithEntry(ctx.Request.Context(), tunnel, entry)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// Get returns the entries of a tunnel.
func (c *TextController) Get(ctx *gin.Context) {
	view, err := c.svc.Read(ctx.Request.Context(), ctx.Param("code"), ctx.GetHeader("x-text-password"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, view)
}
