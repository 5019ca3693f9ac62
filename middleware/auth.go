package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/accesso/utils"
)

// CronSecretRequired guards scheduler-facing endpoints. The secret may arrive
// as a Bearer token or a ?secret= query parameter. An empty secret leaves the
// route open.
func CronSecretRequired(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if secret == "" {
			ctx.Next()
			return
		}

		provided := ctx.Query("secret")
		if provided == "" {
			parts := strings.SplitN(ctx.GetHeader("Authorization"), " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				provided = strings.TrimSpace(parts[1])
			}
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			utils.Error(ctx, http.StatusUnauthorized, "Unauthorized")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
