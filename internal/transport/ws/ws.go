package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/auth"
	"github.com/AutoFlowLabs/ios-bridge/internal/capture"
	"github.com/AutoFlowLabs/ios-bridge/internal/config"
	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
	"github.com/AutoFlowLabs/ios-bridge/internal/resourcemgr"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionResolver is the subset of sessionmgr.Manager every endpoint needs
// to turn a session id into a device UDID and, for the streaming
// endpoints, the session's known point/pixel dimensions.
type SessionResolver interface {
	UDIDFor(id string) (string, error)
	Get(id string) (*model.Session, error)
}

// HostDriver is the subset of hostdriver.Driver the control, screenshot and
// logs endpoints need.
type HostDriver interface {
	Tap(ctx context.Context, udid string, x, y float64) error
	Swipe(ctx context.Context, udid string, startX, startY, endX, endY float64, duration time.Duration) error
	Button(ctx context.Context, udid string, button hostdriver.HardwareButton) error
	Key(ctx context.Context, udid, key string, duration time.Duration) error
	Text(ctx context.Context, udid, text string) error
	Screenshot(ctx context.Context, udid, format string) ([]byte, error)
	Logs(ctx context.Context, udid string, follow bool) (<-chan hostdriver.LogEntry, error)
}

// Deps bundles every collaborator the WebSocket handlers call into.
type Deps struct {
	Sessions        SessionResolver
	Driver          HostDriver
	Resources       *resourcemgr.Manager
	Connections     *connmgr.Manager
	Auth            *auth.Validator
	AuthCfg         config.AuthConfig
	WSCfg           config.WebSocketConfig
	FramePopTimeout time.Duration
	UltraPopTimeout time.Duration
	Log             *logrus.Entry
}

// RegisterRoutes mounts all six endpoints (spec.md §4.7) onto r at
// /ws/:session/<endpoint>.
func RegisterRoutes(r *gin.Engine, d Deps) {
	group := r.Group("/ws/:session")
	group.GET("/control", func(c *gin.Context) { d.handleControl(c.Writer, c.Request, c.Param("session")) })
	group.GET("/video", func(c *gin.Context) {
		d.handleVideo(c.Writer, c.Request, c.Param("session"), capture.KindFramePush, connmgr.KindVideo)
	})
	group.GET("/ultra-low-latency", func(c *gin.Context) {
		d.handleVideo(c.Writer, c.Request, c.Param("session"), capture.KindUltraLowLatency, connmgr.KindUltraLow)
	})
	group.GET("/webrtc", func(c *gin.Context) { d.handleWebRTC(c.Writer, c.Request, c.Param("session")) })
	group.GET("/screenshot", func(c *gin.Context) { d.handleScreenshot(c.Writer, c.Request, c.Param("session")) })
	group.GET("/logs", func(c *gin.Context) { d.handleLogs(c.Writer, c.Request, c.Param("session")) })
}

// authenticate checks the token query parameter when auth is enabled,
// mirroring the teacher's handshake authentication.
func (d Deps) authenticate(r *http.Request) bool {
	if !d.AuthCfg.Enabled {
		return true
	}
	token := r.URL.Query().Get(d.AuthCfg.TokenQueryParam)
	if token == "" {
		return false
	}
	_, err := d.Auth.ValidateToken(r.Context(), token)
	return err == nil
}

// resolveAndRegister validates sessionID, resolves its UDID, and acquires a
// connection slot of kind. On failure it returns the specific apperr.Kind
// connmgr.Manager.TryRegister reported (session-invalid, rate-limited, or
// cap-exceeded) so the caller can apply spec.md §7's close policy: only
// session-invalid closes with the distinct 4004 code, the others get an
// error frame.
func (d Deps) resolveAndRegister(ctx context.Context, sessionID, sourceAddr string, kind connmgr.Kind, handle *connmgr.Handle) (udid string, release func(), err error) {
	udid, uderr := d.Sessions.UDIDFor(sessionID)
	valid := uderr == nil

	// ScopedRegister itself returns KindSessionInvalid when valid is false
	// (connmgr.Manager.TryRegister), so its error already carries the right
	// kind whether the session lookup or the rate/cap check is what failed.
	release, err = d.Connections.ScopedRegister(ctx, sessionID, sourceAddr, kind, handle, valid)
	if err != nil {
		return "", nil, err
	}
	return udid, release, nil
}

// rejectRegistration reports a resolveAndRegister failure on conn per its
// apperr.Kind: session-invalid closes with the distinct 4004 code (spec.md
// §7); every other kind gets an {error, reason} frame, whose error field
// carries the kind, and then a normal close, since the endpoint has no
// connection slot to keep the socket open against.
func rejectRegistration(conn *websocket.Conn, err error) {
	if apperr.KindOf(err) == apperr.KindSessionInvalid {
		closeSessionInvalid(conn)
		return
	}
	_ = conn.WriteJSON(map[string]string{"error": string(apperr.KindOf(err)), "reason": err.Error()})
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "registration failed"), deadline)
	_ = conn.Close()
}

func newClientID() string {
	return uuid.New().String()
}
