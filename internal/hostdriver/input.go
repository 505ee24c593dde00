package hostdriver

import (
	"context"
	"fmt"
	"time"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

// HardwareButton is a closed set of simulated hardware buttons (spec.md §4.7.1).
type HardwareButton string

const (
	ButtonHome       HardwareButton = "home"
	ButtonLock       HardwareButton = "lock"
	ButtonSiri       HardwareButton = "siri"
	ButtonSideButton HardwareButton = "side-button"
	ButtonApplePay   HardwareButton = "apple-pay"
	ButtonVolumeUp   HardwareButton = "volume-up"
	ButtonVolumeDown HardwareButton = "volume-down"
	ButtonShake      HardwareButton = "shake"
)

var validButtons = map[HardwareButton]bool{
	ButtonHome: true, ButtonLock: true, ButtonSiri: true, ButtonSideButton: true,
	ButtonApplePay: true, ButtonVolumeUp: true, ButtonVolumeDown: true, ButtonShake: true,
}

// Tap performs a tap at the given logical point coordinates.
func (d *Driver) Tap(ctx context.Context, udid string, x, y float64) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "ui", udid, "tap", fmt.Sprintf("%.2f", x), fmt.Sprintf("%.2f", y))
		return err
	})
}

// Swipe performs a swipe gesture between two logical points over duration.
func (d *Driver) Swipe(ctx context.Context, udid string, startX, startY, endX, endY float64, duration time.Duration) error {
	if duration <= 0 {
		duration = 300 * time.Millisecond
	}
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "ui", udid, "swipe",
			fmt.Sprintf("%.2f", startX), fmt.Sprintf("%.2f", startY),
			fmt.Sprintf("%.2f", endX), fmt.Sprintf("%.2f", endY),
			duration.String())
		return err
	})
}

// Button presses a hardware button.
func (d *Driver) Button(ctx context.Context, udid string, button HardwareButton) error {
	if !validButtons[button] {
		return apperr.New(apperr.KindProtocol, fmt.Sprintf("unknown button %q", button))
	}
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "ui", udid, "button", string(button))
		return err
	})
}

// Key sends a single HID usage code key press held for duration.
func (d *Driver) Key(ctx context.Context, udid, key string, duration time.Duration) error {
	if key == "" {
		return apperr.New(apperr.KindProtocol, "key must not be empty")
	}
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "ui", udid, "key", key, duration.String())
		return err
	})
}

// Text types a string into the currently focused field.
func (d *Driver) Text(ctx context.Context, udid, text string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "ui", udid, "text", text)
		return err
	})
}

// Screenshot captures a single frame in the given format ("png" or "jpeg").
func (d *Driver) Screenshot(ctx context.Context, udid, format string) ([]byte, error) {
	if format == "" {
		format = "png"
	}
	res, err := d.run(ctx, defaultActionTimeout, "io", udid, "screenshot", "--type="+format, "-")
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// Orientation rotates the device to the named orientation.
func (d *Driver) Orientation(ctx context.Context, udid, orientation string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "ui", udid, "orientation", orientation)
		return err
	})
}

// OpenURL opens rawURL in the device's default handler.
func (d *Driver) OpenURL(ctx context.Context, udid, rawURL string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "openurl", udid, rawURL)
		return err
	})
}

// SetLocation simulates a GPS fix at (lat, lon).
func (d *Driver) SetLocation(ctx context.Context, udid string, lat, lon float64) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "location", udid, "set", fmt.Sprintf("%f,%f", lat, lon))
		return err
	})
}

// ClearLocation stops GPS simulation.
func (d *Driver) ClearLocation(ctx context.Context, udid string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "location", udid, "clear")
		return err
	})
}
