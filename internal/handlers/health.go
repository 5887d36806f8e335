package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/radiolink/internal/monitoring"
)

// Evaluator reports dependency readiness.
type Evaluator interface {
	Evaluate(ctx context.Context) monitoring.Report
}

// Health writes the readiness report. Only a critical dependency being down
// makes the service unhealthy; a lost gateway link shows as degraded.
func Health(checker Evaluator) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := checker.Evaluate(c.Request.Context())
		status := http.StatusOK
		if !report.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"success":    report.Ready,
			"status":     report.Status,
			"checks":     report.Checks,
			"checked_at": report.CheckedAt,
		})
	}
}

// Live reports that the process is serving requests.
func Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": monitoring.StatusUp})
}
