// Package rest implements the REST surface (spec.md §6) as a gin router:
// session lifecycle, app management, device interaction, media, files,
// logs and recording control.
package rest

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/auth"
	"github.com/AutoFlowLabs/ios-bridge/internal/config"
	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// SessionManager is the subset of sessionmgr.Manager the REST surface
// needs.
type SessionManager interface {
	ListConfigurations(ctx context.Context) (hostdriver.Configurations, error)
	Create(ctx context.Context, deviceType, osVersion string) (*model.Session, error)
	Get(id string) (*model.Session, error)
	List(ctx context.Context) ([]*model.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int, error)
	RecoverOrphaned(ctx context.Context) ([]*model.Session, error)
	Refresh(ctx context.Context) ([]*model.Session, error)
	MarkAppInstalled(id string, app model.InstalledApp) error
	MarkAppRemoved(id, bundleID string) error
	UDIDFor(id string) (string, error)
}

// HostDriver is the subset of hostdriver.Driver the REST surface needs for
// device interaction endpoints that don't go through a capture service.
type HostDriver interface {
	Screenshot(ctx context.Context, udid, format string) ([]byte, error)
	Orientation(ctx context.Context, udid, orientation string) error
	OpenURL(ctx context.Context, udid, rawURL string) error
	SetLocation(ctx context.Context, udid string, lat, lon float64) error
	ClearLocation(ctx context.Context, udid string) error
	InstallApp(ctx context.Context, udid, archivePath string) (string, error)
	ListApps(ctx context.Context, udid string) ([]model.InstalledApp, error)
	LaunchApp(ctx context.Context, udid, bundleID string) (int, error)
	TerminateApp(ctx context.Context, udid, bundleID string) error
	UninstallApp(ctx context.Context, udid, bundleID string) error
	PushFile(ctx context.Context, udid, localPath, devicePath, bundleID string) error
	PullFile(ctx context.Context, udid, devicePath, bundleID string) ([]byte, error)
	AddMedia(ctx context.Context, udid string, paths []string) (int, error)
	ListProcesses(ctx context.Context, udid string) ([]hostdriver.ProcessInfo, error)
	ClearLogs(ctx context.Context, udid string) error
}

// Recorder is the subset of recording.Recorder the REST surface needs.
type Recorder interface {
	Start(ctx context.Context, sessionID, udid string) error
	Stop(sessionID string) ([]byte, error)
	Status(sessionID string) model.Recording
	CleanupAll() (int, error)
}

// Stats is the combined health/statistics payload (spec.md §4.9).
type Stats struct {
	SessionCount   int     `json:"session_count"`
	ServiceCount   int     `json:"capture_service_count"`
	ClientCount    int     `json:"capture_client_count"`
	TotalDrops     uint64  `json:"capture_total_drops"`
	MemoryPercent  float64 `json:"memory_percent"`
	Connections    int     `json:"connections_total"`
	EventBusHealthy bool   `json:"event_bus_healthy"`
}

// Deps bundles every collaborator the REST handlers call into.
type Deps struct {
	Sessions  SessionManager
	Driver    HostDriver
	Recorder  Recorder
	Stats     func() Stats
	Auth      *auth.Validator
	AuthCfg   config.AuthConfig
	UploadDir string
	Log       *logrus.Entry
}

// NewRouter builds the gin.Engine with every route from spec.md §6
// registered.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(requestLogger(d.Log))

	r.GET("/health", d.health)
	r.GET("/stats", d.statsHandler)

	api := r.Group("/api")
	api.Use(auth.RequireBearer(d.Auth, d.AuthCfg.Enabled))
	registerSessionRoutes(api, d)
	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if log != nil {
			log.WithFields(logrus.Fields{
				"method":   c.Request.Method,
				"path":     c.Request.URL.Path,
				"status":   c.Writer.Status(),
				"duration": time.Since(start),
			}).Debug("request handled")
		}
	}
}
