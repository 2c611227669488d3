package config

import (
	"errors"
	"fmt"
	"regexp"
)

var identifierRegexp = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Validate checks the config for problems that would otherwise only surface at runtime. All problems are
// reported together.
func Validate(c *Config) error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errors.New("host: broker host is required"))
	}
	if !validPort(c.Port) {
		errs = append(errs, fmt.Errorf("port: %d is out of range", c.Port))
	}
	if c.GlobalTxTimeoutMs < 0 {
		errs = append(errs, errors.New("globalTxTimeoutMs: must not be negative"))
	}
	for group, ms := range c.Groups {
		if ms < 0 {
			errs = append(errs, fmt.Errorf("groups: delay for %q must not be negative", group))
		}
	}

	// identifiers become part of topics, so they need to be unique across covers and telemetry devices
	seen := make(map[string]string)
	checkDevice := func(owner string, dev DeviceConfig) {
		if !identifierRegexp.MatchString(dev.Identifier) {
			errs = append(errs, fmt.Errorf("%s: identifier %q must match [a-zA-Z0-9_]+", owner, dev.Identifier))
			return
		}
		if prev, exists := seen[dev.Identifier]; exists {
			errs = append(errs, fmt.Errorf("%s: identifier %q is already used by %s", owner, dev.Identifier, prev))
			return
		}
		seen[dev.Identifier] = owner
	}

	for i, cover := range c.Covers {
		owner := fmt.Sprintf("covers[%d] (%s)", i, cover.Name)
		checkDevice(owner, cover.Device)

		if cover.Chip == "" {
			errs = append(errs, fmt.Errorf("%s: chip is required", owner))
		}
		pins := []int{cover.UpPin, cover.DownPin, cover.StopPin}
		for _, pin := range pins {
			if pin < 0 {
				errs = append(errs, fmt.Errorf("%s: pin %d must not be negative", owner, pin))
			}
		}
		if pins[0] == pins[1] || pins[0] == pins[2] || pins[1] == pins[2] {
			errs = append(errs, fmt.Errorf("%s: up, down and stop pins must be distinct", owner))
		}
		if cover.TxTimeoutMs < 0 || cover.PulseMs < 0 {
			errs = append(errs, fmt.Errorf("%s: delays must not be negative", owner))
		}
	}

	for i, dev := range c.SunspecDevices {
		owner := fmt.Sprintf("sunspecDevices[%d] (%s)", i, dev.Name)
		checkDevice(owner, dev.Device)

		if dev.Emulated {
			continue
		}
		if dev.Host == "" {
			errs = append(errs, fmt.Errorf("%s: host is required", owner))
		}
		if !validPort(dev.Port) {
			errs = append(errs, fmt.Errorf("%s: port %d is out of range", owner, dev.Port))
		}
		if dev.Driver != "simonvetter" && dev.Driver != "gridx" {
			errs = append(errs, fmt.Errorf("%s: unknown driver %q", owner, dev.Driver))
		}
	}

	if dp := c.DataPlatform; dp != nil {
		if dp.Supabase.Url == "" {
			errs = append(errs, errors.New("dataPlatform: supabase url is required"))
		}
		if dp.UploadIntervalSecs < 0 {
			errs = append(errs, errors.New("dataPlatform: uploadIntervalSecs must not be negative"))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
