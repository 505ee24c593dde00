package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (d Deps) startRecording(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	if err := d.Recorder.Start(c.Request.Context(), c.Param("id"), udid); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (d Deps) stopRecording(c *gin.Context) {
	data, err := d.Recorder.Stop(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "video/mp4", data)
}

func (d Deps) recordingStatus(c *gin.Context) {
	rec := d.Recorder.Status(c.Param("id"))
	resp := gin.H{"state": rec.State}
	if !rec.StartedAt.IsZero() {
		resp["started_at"] = rec.StartedAt
	}
	c.JSON(http.StatusOK, resp)
}
