package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/accesso/services"
	"github.com/cppla/accesso/utils"
)

const sweepTimeout = 10 * time.Minute

// CleanupController runs the expiry sweep on demand, typically from an external cron.
type CleanupController struct {
	sweeper *services.Sweeper
}

// NewCleanupController creates a new CleanupController instance.
func NewCleanupController(sweeper *services.Sweeper) *CleanupController {
	return &CleanupController{sweeper: sweeper}
}

type cleanupResponse struct {
	Success   bool      `json:"success"`
	CleanedAt time.Time `json:"cleaned_at"`
	*services.SweepReport
}

// Run sweeps expired content. Step failures are reported in the body; only a panic yields 500.
func (c *CleanupController) Run(ctx *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			utils.Sugar.Errorf("cleanup panicked: %v", r)
			utils.Error(ctx, http.StatusInternalServerError, "Cleanup failed")
		}
	}()

	// A disconnecting cron client must not abort the sweep half way.
	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx.Request.Context()), sweepTimeout)
	defer cancel()

	now := time.Now().UTC()
	report := c.sweeper.Sweep(sweepCtx, now)
	utils.Success(ctx, cleanupResponse{Success: true, CleanedAt: now, SweepReport: report})
}
