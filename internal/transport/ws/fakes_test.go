package ws

import (
	"context"
	"sync"
	"time"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

type fakeSessionResolver struct {
	udids map[string]string
	dims  map[string]model.Session
}

func (f *fakeSessionResolver) UDIDFor(id string) (string, error) {
	udid, ok := f.udids[id]
	if !ok {
		return "", apperr.New(apperr.KindNotFound, "unknown session")
	}
	return udid, nil
}

func (f *fakeSessionResolver) Get(id string) (*model.Session, error) {
	udid, ok := f.udids[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "unknown session")
	}
	if sess, ok := f.dims[id]; ok {
		return &sess, nil
	}
	return &model.Session{ID: id, UDID: udid}, nil
}

type tapCall struct {
	udid string
	x, y float64
}

type fakeHostDriver struct {
	mu   sync.Mutex
	taps []tapCall

	screenshotBytes []byte
	screenshotErr   error

	logEntries []hostdriver.LogEntry
}

func (f *fakeHostDriver) Tap(ctx context.Context, udid string, x, y float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taps = append(f.taps, tapCall{udid, x, y})
	return nil
}

func (f *fakeHostDriver) Swipe(ctx context.Context, udid string, startX, startY, endX, endY float64, duration time.Duration) error {
	return nil
}

func (f *fakeHostDriver) Button(ctx context.Context, udid string, button hostdriver.HardwareButton) error {
	return nil
}

func (f *fakeHostDriver) Key(ctx context.Context, udid, key string, duration time.Duration) error {
	return nil
}

func (f *fakeHostDriver) Text(ctx context.Context, udid, text string) error {
	return nil
}

func (f *fakeHostDriver) Screenshot(ctx context.Context, udid, format string) ([]byte, error) {
	if f.screenshotErr != nil {
		return nil, f.screenshotErr
	}
	return f.screenshotBytes, nil
}

func (f *fakeHostDriver) Logs(ctx context.Context, udid string, follow bool) (<-chan hostdriver.LogEntry, error) {
	out := make(chan hostdriver.LogEntry, len(f.logEntries))
	for _, e := range f.logEntries {
		out <- e
	}
	close(out)
	return out, nil
}

func (f *fakeHostDriver) tapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.taps)
}

func (f *fakeHostDriver) lastTap() tapCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taps[len(f.taps)-1]
}
