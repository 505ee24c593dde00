package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (d Deps) screenshot(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	data, err := d.Driver.Screenshot(c.Request.Context(), udid, "png")
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func (d Deps) setOrientation(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	var req struct {
		Orientation string `json:"orientation" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := d.Driver.Orientation(c.Request.Context(), udid, req.Orientation); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (d Deps) openURL(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := d.Driver.OpenURL(c.Request.Context(), udid, req.URL); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (d Deps) setLocation(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	var req struct {
		Latitude  float64 `json:"latitude" binding:"required"`
		Longitude float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := d.Driver.SetLocation(c.Request.Context(), udid, req.Latitude, req.Longitude); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (d Deps) clearLocation(c *gin.Context) {
	udid, ok := d.udidOrFail(c)
	if !ok {
		return
	}
	if err := d.Driver.ClearLocation(c.Request.Context(), udid); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// locationPreset is a named coordinate pair offered as a shortcut, the way
// simulator tooling commonly ships a handful of well-known cities.
type locationPreset struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

var wellKnownLocations = []locationPreset{
	{Name: "San Francisco", Latitude: 37.7749, Longitude: -122.4194},
	{Name: "New York", Latitude: 40.7128, Longitude: -74.0060},
	{Name: "London", Latitude: 51.5074, Longitude: -0.1278},
	{Name: "Tokyo", Latitude: 35.6895, Longitude: 139.6917},
	{Name: "Sydney", Latitude: -33.8688, Longitude: 151.2093},
}

func (d Deps) locationPresets(c *gin.Context) {
	if _, ok := d.udidOrFail(c); !ok {
		return
	}
	c.JSON(http.StatusOK, wellKnownLocations)
}
