package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (d Deps) listProcesses(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	procs, err := d.Driver.ListProcesses(c.Request.Context(), udid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, procs)
}

func (d Deps) clearLogs(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	if err := d.Driver.ClearLogs(c.Request.Context(), udid); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
