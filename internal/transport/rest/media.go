package rest

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

func (d Deps) addPhotos(c *gin.Context) { d.addMedia(c) }
func (d Deps) addVideos(c *gin.Context) { d.addMedia(c) }

func (d Deps) addMedia(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files field is required"})
		return
	}

	var paths []string
	for _, header := range form.File["files"] {
		dest := filepath.Join(d.UploadDir, header.Filename)
		if err := c.SaveUploadedFile(header, dest); err != nil {
			fail(c, apperr.Wrap(apperr.KindIO, "failed to save uploaded media", err))
			return
		}
		defer os.Remove(dest)
		paths = append(paths, dest)
	}

	count, err := d.Driver.AddMedia(c.Request.Context(), udid, paths)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (d Deps) pushFile(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}

	devicePath := c.PostForm("device_path")
	if devicePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_path is required"})
		return
	}
	bundleID := c.PostForm("bundle_id")

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	localPath := filepath.Join(d.UploadDir, header.Filename)
	if err := c.SaveUploadedFile(header, localPath); err != nil {
		fail(c, apperr.Wrap(apperr.KindIO, "failed to save uploaded file", err))
		return
	}
	defer os.Remove(localPath)

	if err := d.Driver.PushFile(c.Request.Context(), udid, localPath, devicePath, bundleID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filename": header.Filename})
}

func (d Deps) pullFile(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}

	var req struct {
		DevicePath string `json:"device_path" binding:"required"`
		BundleID   string `json:"bundle_id"`
		Filename   string `json:"filename"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := d.Driver.PullFile(c.Request.Context(), udid, req.DevicePath, req.BundleID)
	if err != nil {
		fail(c, err)
		return
	}

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.DevicePath)
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/octet-stream", data)
}
