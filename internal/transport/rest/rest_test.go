package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

type fakeSessions struct {
	sessions map[string]*model.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessions) ListConfigurations(ctx context.Context) (hostdriver.Configurations, error) {
	return hostdriver.Configurations{DeviceTypes: []string{"iPhone 15"}, OSVersions: []string{"17.0"}}, nil
}

func (f *fakeSessions) Create(ctx context.Context, deviceType, osVersion string) (*model.Session, error) {
	sess := &model.Session{ID: "sess-1", UDID: "udid-1", DeviceType: deviceType, OSVersion: osVersion, InstalledApps: map[string]model.InstalledApp{}}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessions) Get(id string) (*model.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "session not found")
	}
	return sess, nil
}

func (f *fakeSessions) List(ctx context.Context) ([]*model.Session, error) {
	var out []*model.Session
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSessions) Delete(ctx context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return apperr.New(apperr.KindNotFound, "session not found")
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessions) DeleteAll(ctx context.Context) (int, error) {
	n := len(f.sessions)
	f.sessions = make(map[string]*model.Session)
	return n, nil
}

func (f *fakeSessions) RecoverOrphaned(ctx context.Context) ([]*model.Session, error) { return nil, nil }
func (f *fakeSessions) Refresh(ctx context.Context) ([]*model.Session, error)         { return f.List(ctx) }
func (f *fakeSessions) MarkAppInstalled(id string, app model.InstalledApp) error      { return nil }
func (f *fakeSessions) MarkAppRemoved(id, bundleID string) error                      { return nil }

func (f *fakeSessions) UDIDFor(id string) (string, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return "", apperr.New(apperr.KindNotFound, "session not found")
	}
	return sess.UDID, nil
}

type fakeDriver struct{}

func (fakeDriver) Screenshot(ctx context.Context, udid, format string) ([]byte, error) {
	return []byte("png-bytes"), nil
}
func (fakeDriver) Orientation(ctx context.Context, udid, orientation string) error { return nil }
func (fakeDriver) OpenURL(ctx context.Context, udid, rawURL string) error          { return nil }
func (fakeDriver) SetLocation(ctx context.Context, udid string, lat, lon float64) error {
	return nil
}
func (fakeDriver) ClearLocation(ctx context.Context, udid string) error { return nil }
func (fakeDriver) InstallApp(ctx context.Context, udid, archivePath string) (string, error) {
	return "com.example.app", nil
}
func (fakeDriver) ListApps(ctx context.Context, udid string) ([]model.InstalledApp, error) {
	return nil, nil
}
func (fakeDriver) LaunchApp(ctx context.Context, udid, bundleID string) (int, error) { return 42, nil }
func (fakeDriver) TerminateApp(ctx context.Context, udid, bundleID string) error     { return nil }
func (fakeDriver) UninstallApp(ctx context.Context, udid, bundleID string) error     { return nil }
func (fakeDriver) PushFile(ctx context.Context, udid, localPath, devicePath, bundleID string) error {
	return nil
}
func (fakeDriver) PullFile(ctx context.Context, udid, devicePath, bundleID string) ([]byte, error) {
	return []byte("pulled"), nil
}
func (fakeDriver) AddMedia(ctx context.Context, udid string, paths []string) (int, error) {
	return len(paths), nil
}
func (fakeDriver) ListProcesses(ctx context.Context, udid string) ([]hostdriver.ProcessInfo, error) {
	return []hostdriver.ProcessInfo{{Process: "SpringBoard", PID: 1}}, nil
}
func (fakeDriver) ClearLogs(ctx context.Context, udid string) error { return nil }

type fakeRecorder struct {
	started bool
}

func (f *fakeRecorder) Start(ctx context.Context, sessionID, udid string) error {
	if f.started {
		return apperr.New(apperr.KindBadState, "already-recording")
	}
	f.started = true
	return nil
}

func (f *fakeRecorder) Stop(sessionID string) ([]byte, error) {
	if !f.started {
		return nil, apperr.New(apperr.KindBadState, "not-recording")
	}
	f.started = false
	return []byte("mp4-bytes"), nil
}

func (f *fakeRecorder) Status(sessionID string) model.Recording {
	if f.started {
		return model.Recording{SessionID: sessionID, State: model.RecordingActive}
	}
	return model.Recording{SessionID: sessionID, State: model.RecordingIdle}
}

func (f *fakeRecorder) CleanupAll() (int, error) { return 0, nil }

func testRouter() (*gin.Engine, *fakeSessions, *fakeRecorder) {
	gin.SetMode(gin.TestMode)
	sessions := newFakeSessions()
	recorder := &fakeRecorder{}
	r := NewRouter(Deps{
		Sessions: sessions,
		Driver:   fakeDriver{},
		Recorder: recorder,
		Stats:    func() Stats { return Stats{SessionCount: len(sessions.sessions)} },
	})
	return r, sessions, recorder
}

func doRequest(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSessionThenGet(t *testing.T) {
	r, _, _ := testRouter()

	w := doRequest(r, http.MethodPost, "/api/sessions/create", []byte(`{"device_type":"iPhone 15","os_version":"17.0"}`))
	require.Equal(t, http.StatusOK, w.Code)

	var sess model.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "sess-1", sess.ID)

	w = doRequest(r, http.MethodGet, "/api/sessions/sess-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetMissingSessionReturns404(t *testing.T) {
	r, _, _ := testRouter()

	w := doRequest(r, http.MethodGet, "/api/sessions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScreenshotReturnsPNGBytes(t *testing.T) {
	r, sessions, _ := testRouter()
	sessions.sessions["sess-1"] = &model.Session{ID: "sess-1", UDID: "udid-1"}

	w := doRequest(r, http.MethodPost, "/api/sessions/sess-1/screenshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestRecordingLifecycle(t *testing.T) {
	r, sessions, _ := testRouter()
	sessions.sessions["sess-1"] = &model.Session{ID: "sess-1", UDID: "udid-1"}

	w := doRequest(r, http.MethodPost, "/api/sessions/sess-1/recording/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/api/sessions/sess-1/recording/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodGet, "/api/sessions/sess-1/recording/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "recording", status["state"])

	w = doRequest(r, http.MethodPost, "/api/sessions/sess-1/recording/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mp4-bytes", w.Body.String())

	w = doRequest(r, http.MethodPost, "/api/sessions/sess-1/recording/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthReportsStats(t *testing.T) {
	r, _, _ := testRouter()

	w := doRequest(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
