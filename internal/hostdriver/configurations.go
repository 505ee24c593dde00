package hostdriver

import (
	"context"
	"encoding/json"
)

// Configurations enumerates the device types and OS runtimes available on
// the host, used by the session manager's list-configurations operation.
type Configurations struct {
	DeviceTypes []string `json:"device_types"`
	OSVersions  []string `json:"os_versions"`
}

type simctlDeviceTypeList struct {
	DeviceTypes []struct {
		Name string `json:"name"`
	} `json:"devicetypes"`
}

type simctlRuntimeList struct {
	Runtimes []struct {
		Name      string `json:"name"`
		Available bool   `json:"isAvailable"`
	} `json:"runtimes"`
}

// ListConfigurations queries simctl for the device types and OS runtimes it
// currently knows about.
func (d *Driver) ListConfigurations(ctx context.Context) (Configurations, error) {
	var cfg Configurations

	dtRes, err := d.run(ctx, defaultActionTimeout, "simctl", "list", "devicetypes", "-j")
	if err != nil {
		return cfg, err
	}
	var dt simctlDeviceTypeList
	if err := json.Unmarshal(dtRes.Stdout, &dt); err == nil {
		for _, t := range dt.DeviceTypes {
			cfg.DeviceTypes = append(cfg.DeviceTypes, t.Name)
		}
	}

	rtRes, err := d.run(ctx, defaultActionTimeout, "simctl", "list", "runtimes", "-j")
	if err != nil {
		return cfg, err
	}
	var rt simctlRuntimeList
	if err := json.Unmarshal(rtRes.Stdout, &rt); err == nil {
		for _, r := range rt.Runtimes {
			if r.Available {
				cfg.OSVersions = append(cfg.OSVersions, r.Name)
			}
		}
	}

	return cfg, nil
}
