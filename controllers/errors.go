package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/accesso/services"
	"github.com/cppla/accesso/utils"
)

// respondError maps a service error onto the HTTP response.
func respondError(ctx *gin.Context, err error) {
	msg := services.PublicMessage(err)
	switch {
	case errors.Is(err, services.ErrPasswordRequired), errors.Is(err, services.ErrIncorrectPassword):
		utils.PasswordError(ctx, msg)
	case errors.Is(err, services.ErrValidation):
		utils.Error(ctx, http.StatusBadRequest, msg)
	case errors.Is(err, services.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, msg)
	case errors.Is(err, services.ErrExpired):
		utils.Error(ctx, http.StatusGone, msg)
	case errors.Is(err, services.ErrConflict):
		utils.Error(ctx, http.StatusConflict, msg)
	default:
		utils.Sugar.Errorw("request failed", "path", ctx.FullPath(), "error", err)
		utils.Error(ctx, http.StatusInternalServerError, msg)
	}
}

func badRequest(ctx *gin.Context) {
	utils.Error(ctx, http.StatusBadRequest, "Invalid request body")
}
