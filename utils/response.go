package utils

import "github.com/gin-gonic/gin"

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error           string `json:"error"`
	RequirePassword bool   `json:"requirePassword,omitempty"`
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(200, data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, message string) {
	ctx.JSON(status, ErrorResponse{Error: message})
}

// PasswordError answers a failed password gate and tells the client to prompt for one.
func PasswordError(ctx *gin.Context, message string) {
	ctx.JSON(401, ErrorResponse{Error: message, RequirePassword: true})
}
