package recording

import (
	"context"
	"time"

	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
)

// driverAdapter adapts *hostdriver.Driver's concretely-typed video methods
// to the HostDriver interface declared in recorder.go, so this package doesn't need to name
// hostdriver.VideoHandle directly.
type driverAdapter struct {
	driver *hostdriver.Driver
}

// WrapDriver returns a HostDriver backed by a concrete hostdriver.Driver.
func WrapDriver(d *hostdriver.Driver) HostDriver {
	return driverAdapter{driver: d}
}

func (a driverAdapter) StartVideo(ctx context.Context, udid, sinkPath string) (VideoHandle, error) {
	return a.driver.StartVideo(ctx, udid, sinkPath)
}

func (a driverAdapter) StopVideo(h VideoHandle, grace time.Duration) error {
	handle, _ := h.(*hostdriver.VideoHandle)
	return a.driver.StopVideo(handle, grace)
}
