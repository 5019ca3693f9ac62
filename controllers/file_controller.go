package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cppla/accesso/services"
	"github.com/cppla/accesso/utils"
)

// FileController exposes file tunnels.
type FileController struct {
	svc *services.FileService
}

// NewFileController creates a new FileController instance.
func NewFileController(svc *services.FileService) *FileController {
	return &FileController{svc: svc}
}

// CreateTunnel opens a file tunnel before any upload.
func (c *FileController) CreateTunnel(ctx *gin.Context) {
	var req struct {
		Code      string      `json:"code"`
		Password  string      `json:"password"`
		ExpiresIn interface{} `json:"expiresIn"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx)
		return
	}

	res, err := c.svc.CreateTunnel(ctx.Request.Context(), services.TunnelRequest{
		Code:      req.Code,
		Password:  req.Password,
		ExpiresIn: utils.ParseExpiresIn(req.ExpiresIn),
		IP:        utils.ClientIP(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// multipartOverhead leaves room for the form fields and part headers around the file.
const multipartOverhead = 1 << 20

// Upload stores one multipart file in a tunnel.
func (c *FileController) Upload(ctx *gin.Context) {
	limit := c.svc.MaxFileSize() + multipartOverhead
	if ctx.Request.ContentLength > limit {
		c.tooLarge(ctx)
		return
	}
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit)

	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.tooLarge(ctx)
			return
		}
		utils.Error(ctx, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	res, err := c.svc.UploadFile(ctx.Request.Context(), services.TunnelRequest{
		Code:      ctx.PostForm("code"),
		Password:  ctx.PostForm("password"),
		ExpiresIn: utils.ParseExpiresIn(ctx.PostForm("expiresIn")),
		IP:        utils.ClientIP(ctx),
	}, services.UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

func (c *FileController) tooLarge(ctx *gin.Context) {
	utils.Error(ctx, http.StatusBadRequest, fmt.Sprintf("File size exceeds %dMB limit", c.svc.MaxFileSize()/(1024*1024)))
}

// List returns the live files of a tunnel.
func (c *FileController) List(ctx *gin.Context) {
	res, err := c.svc.List(ctx.Request.Context(), ctx.Param("code"), ctx.GetHeader("x-file-password"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// Download redirects to the stored file after checking the tunnel password or a signed token.
func (c *FileController) Download(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, "File not found")
		return
	}
	target, err := c.svc.Download(ctx.Request.Context(), ctx.Param("code"), uint(id),
		ctx.GetHeader("x-file-password"), ctx.Query("token"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Redirect(http.StatusFound, target)
}
