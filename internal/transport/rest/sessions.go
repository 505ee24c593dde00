package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func registerSessionRoutes(api *gin.RouterGroup, d Deps) {
	sessions := api.Group("/sessions")

	sessions.GET("/configurations", d.listConfigurations)
	sessions.POST("/create", d.createSession)
	sessions.GET("/", d.listSessions)
	sessions.GET("/refresh", d.refreshSessions)
	sessions.DELETE("/", d.deleteAllSessions)
	sessions.POST("/recover-orphaned", d.recoverOrphaned)
	sessions.POST("/cleanup-recordings", d.cleanupRecordings)

	sessions.GET("/:id", d.getSession)
	sessions.DELETE("/:id", d.deleteSession)

	sessions.POST("/:id/apps/install", d.installApp)
	sessions.GET("/:id/apps", d.listApps)
	sessions.POST("/:id/apps/:bundle/launch", d.launchApp)
	sessions.POST("/:id/apps/:bundle/terminate", d.terminateApp)
	sessions.DELETE("/:id/apps/:bundle", d.uninstallApp)

	sessions.POST("/:id/screenshot", d.screenshot)
	sessions.POST("/:id/orientation", d.setOrientation)
	sessions.POST("/:id/url/open", d.openURL)
	sessions.POST("/:id/location/set", d.setLocation)
	sessions.POST("/:id/location/clear", d.clearLocation)
	sessions.GET("/:id/location/presets", d.locationPresets)

	sessions.POST("/:id/media/photos/add", d.addPhotos)
	sessions.POST("/:id/media/videos/add", d.addVideos)

	sessions.POST("/:id/files/push", d.pushFile)
	sessions.POST("/:id/files/pull", d.pullFile)

	sessions.GET("/:id/logs/processes", d.listProcesses)
	sessions.POST("/:id/logs/clear", d.clearLogs)

	sessions.POST("/:id/recording/start", d.startRecording)
	sessions.POST("/:id/recording/stop", d.stopRecording)
	sessions.GET("/:id/recording/status", d.recordingStatus)
}

func (d Deps) listConfigurations(c *gin.Context) {
	cfg, err := d.Sessions.ListConfigurations(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (d Deps) createSession(c *gin.Context) {
	var req struct {
		DeviceType string `json:"device_type" binding:"required"`
		OSVersion  string `json:"os_version" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := d.Sessions.Create(c.Request.Context(), req.DeviceType, req.OSVersion)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (d Deps) listSessions(c *gin.Context) {
	list, err := d.Sessions.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (d Deps) refreshSessions(c *gin.Context) {
	list, err := d.Sessions.Refresh(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (d Deps) getSession(c *gin.Context) {
	sess, err := d.Sessions.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (d Deps) deleteSession(c *gin.Context) {
	if err := d.Sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (d Deps) deleteAllSessions(c *gin.Context) {
	n, err := d.Sessions.DeleteAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (d Deps) recoverOrphaned(c *gin.Context) {
	recovered, err := d.Sessions.RecoverOrphaned(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recovered)
}

func (d Deps) cleanupRecordings(c *gin.Context) {
	removed, err := d.Recorder.CleanupAll()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// udidOrFail resolves a session id to its device UDID, writing an error
// response and returning ok=false if the session doesn't exist.
func (d Deps) udidOrFail(c *gin.Context) (string, bool) {
	udid, err := d.Sessions.UDIDFor(c.Param("id"))
	if err != nil {
		fail(c, err)
		return "", false
	}
	return udid, true
}
