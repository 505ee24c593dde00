package hostdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// simctlDeviceList mirrors the JSON shape of `simctl list devices -j`.
type simctlDeviceList struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	UDID            string `json:"udid"`
	Name            string `json:"name"`
	State           string `json:"state"`
	IsAvailable     bool   `json:"isAvailable"`
	ProcessIdentifier int  `json:"processIdentifier"`
}

// ListDevices enumerates every simulator device known to the host,
// regardless of whether the control plane has a session for it.
func (d *Driver) ListDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	res, err := d.run(ctx, defaultActionTimeout, "simctl", "list", "devices", "-j")
	if err != nil {
		return nil, err
	}

	var parsed simctlDeviceList
	if err := json.Unmarshal(res.Stdout, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindHostDriver, "malformed simctl device list", err)
	}

	var out []model.DeviceRecord
	for runtime, devices := range parsed.Devices {
		for _, dev := range devices {
			out = append(out, model.DeviceRecord{
				UDID:    dev.UDID,
				Name:    dev.Name,
				Runtime: runtime,
				State:   mapState(dev.State),
				PID:     dev.ProcessIdentifier,
			})
		}
	}
	return out, nil
}

func mapState(s string) model.DeviceState {
	switch strings.ToLower(s) {
	case "shutdown":
		return model.DeviceShutdown
	case "booting":
		return model.DeviceBooting
	case "booted":
		return model.DeviceBooted
	case "shutting-down":
		return model.DeviceShuttingDown
	default:
		return model.DeviceUnknown
	}
}

// GetDevice finds a single device by UDID.
func (d *Driver) GetDevice(ctx context.Context, udid string) (*model.DeviceRecord, error) {
	devices, err := d.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].UDID == udid {
			return &devices[i], nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("device %s not found", udid))
}

// CreateDevice allocates a new simulator of the given device type and OS
// runtime and returns its UDID.
func (d *Driver) CreateDevice(ctx context.Context, deviceType, runtime string) (string, error) {
	res, err := d.run(ctx, defaultCreationTimeout, "simctl", "create", deviceType, deviceType, runtime)
	if err != nil {
		return "", err
	}
	udid := strings.TrimSpace(string(res.Stdout))
	if udid == "" {
		return "", apperr.New(apperr.KindConfiguration, "device creation returned no udid; check device type and os version")
	}
	return udid, nil
}

// Boot boots a device and blocks until it reports booted.
func (d *Driver) Boot(ctx context.Context, udid string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultCreationTimeout, "simctl", "boot", udid)
		return err
	})
}

// Shutdown shuts a device down.
func (d *Driver) Shutdown(ctx context.Context, udid string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "simctl", "shutdown", udid)
		return err
	})
}

// Erase wipes a device's contents and settings. The device must be shut
// down first.
func (d *Driver) Erase(ctx context.Context, udid string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "simctl", "erase", udid)
		return err
	})
}

// Delete permanently removes a device from the host.
func (d *Driver) Delete(ctx context.Context, udid string) error {
	_, err := d.run(ctx, defaultActionTimeout, "simctl", "delete", udid)
	return err
}
