package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (d Deps) health(c *gin.Context) {
	stats := d.Stats()
	status := "ok"
	if stats.MemoryPercent >= 1.0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"totals": stats,
	})
}

func (d Deps) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, d.Stats())
}
