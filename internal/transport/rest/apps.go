package rest

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

func (d Deps) installApp(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}

	header, err := c.FormFile("archive")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive file is required"})
		return
	}

	dest := filepath.Join(d.UploadDir, header.Filename)
	if err := c.SaveUploadedFile(header, dest); err != nil {
		fail(c, apperr.Wrap(apperr.KindIO, "failed to save uploaded archive", err))
		return
	}
	defer os.Remove(dest)

	bundleID, err := d.Driver.InstallApp(c.Request.Context(), udid, dest)
	if err != nil {
		fail(c, err)
		return
	}

	_ = d.Sessions.MarkAppInstalled(c.Param("id"), model.InstalledApp{
		BundleID:    bundleID,
		InstalledAt: time.Now(),
	})
	c.JSON(http.StatusOK, gin.H{"bundle_id": bundleID})
}

func (d Deps) listApps(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	apps, err := d.Driver.ListApps(c.Request.Context(), udid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}

func (d Deps) launchApp(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	pid, err := d.Driver.LaunchApp(c.Request.Context(), udid, c.Param("bundle"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": pid})
}

func (d Deps) terminateApp(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	if err := d.Driver.TerminateApp(c.Request.Context(), udid, c.Param("bundle")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (d Deps) uninstallApp(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	bundleID := c.Param("bundle")
	if err := d.Driver.UninstallApp(c.Request.Context(), udid, bundleID); err != nil {
		fail(c, err)
		return
	}
	_ = d.Sessions.MarkAppRemoved(c.Param("id"), bundleID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
