// Package config holds the host's runtime settings. The schema matches
// the /api/config endpoint so the same JSON can be used for startup
// configuration and for inspecting the running values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings represents the root configuration for the host. All fields
// are optional in the JSON; the Get* methods provide fallback defaults
// for anything not specified.
type Settings struct {
	// Lock engine params
	LockRequiredCount  *int  `json:"lock_required_count,omitempty"`
	LockEnabled        *bool `json:"lock_enabled,omitempty"`
	MaxValidDistanceMm *int  `json:"max_valid_distance_mm,omitempty"`
	ManualSampleCount  *int  `json:"manual_sample_count,omitempty"`

	// Device cadence, used by the simulator and lock window estimates
	HardwareSendIntervalMs *int `json:"hardware_send_interval_ms,omitempty"`

	// Collection timeouts, duration strings like "5s"
	CollectTimeoutSerial *string `json:"collect_timeout_serial,omitempty"`
	CollectTimeoutBridge *string `json:"collect_timeout_bridge,omitempty"`

	// Transport params
	PreferredPort *string `json:"preferred_port,omitempty"`
	BridgeAddr    *string `json:"bridge_addr,omitempty"`
	ProbeTimeout  *string `json:"probe_timeout,omitempty"` // duration string like "15s"
	RetryDelay    *string `json:"retry_delay,omitempty"`   // duration string like "5s"

	// Service params
	ListenAddr    *string `json:"listen_addr,omitempty"`
	DBPath        *string `json:"db_path,omitempty"`
	UplinkURL     *string `json:"uplink_url,omitempty"`
	DiscoveryPort *int    `json:"discovery_port,omitempty"`
}

// Helper functions to create pointers
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptySettings returns a Settings with all fields set to nil, so every
// Get* method reports its default.
func EmptySettings() *Settings {
	return &Settings{}
}

// LoadSettings loads Settings from a JSON file. The file is validated to
// ensure it has a .json extension and is under the max file size. Fields
// omitted from the JSON file retain their default values, so partial
// configs are safe.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySettings()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Settings) Validate() error {
	if c.LockRequiredCount != nil && *c.LockRequiredCount < 1 {
		return fmt.Errorf("lock_required_count must be at least 1, got %d", *c.LockRequiredCount)
	}

	if c.MaxValidDistanceMm != nil {
		if *c.MaxValidDistanceMm < 1 || *c.MaxValidDistanceMm > 5000 {
			return fmt.Errorf("max_valid_distance_mm must be between 1 and 5000, got %d", *c.MaxValidDistanceMm)
		}
	}

	if c.ManualSampleCount != nil && *c.ManualSampleCount < 1 {
		return fmt.Errorf("manual_sample_count must be at least 1, got %d", *c.ManualSampleCount)
	}

	if c.HardwareSendIntervalMs != nil && *c.HardwareSendIntervalMs < 1 {
		return fmt.Errorf("hardware_send_interval_ms must be positive, got %d", *c.HardwareSendIntervalMs)
	}

	if c.DiscoveryPort != nil {
		if *c.DiscoveryPort < 1 || *c.DiscoveryPort > 65535 {
			return fmt.Errorf("discovery_port must be a valid port, got %d", *c.DiscoveryPort)
		}
	}

	for name, v := range map[string]*string{
		"collect_timeout_serial": c.CollectTimeoutSerial,
		"collect_timeout_bridge": c.CollectTimeoutBridge,
		"probe_timeout":          c.ProbeTimeout,
		"retry_delay":            c.RetryDelay,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

// GetLockRequiredCount returns the lock_required_count value or the default.
func (c *Settings) GetLockRequiredCount() int {
	if c.LockRequiredCount == nil {
		return 10 // default
	}
	return *c.LockRequiredCount
}

// GetLockEnabled returns the lock_enabled value or the default.
func (c *Settings) GetLockEnabled() bool {
	if c.LockEnabled == nil {
		return true // default: auto-lock on
	}
	return *c.LockEnabled
}

// GetMaxValidDistanceMm returns the max_valid_distance_mm value or the default.
func (c *Settings) GetMaxValidDistanceMm() int {
	if c.MaxValidDistanceMm == nil {
		return 2000 // default
	}
	return *c.MaxValidDistanceMm
}

// GetManualSampleCount returns the manual_sample_count value or the default.
func (c *Settings) GetManualSampleCount() int {
	if c.ManualSampleCount == nil {
		return 3 // default
	}
	return *c.ManualSampleCount
}

// GetHardwareSendInterval returns the device send cadence as a time.Duration.
func (c *Settings) GetHardwareSendInterval() time.Duration {
	if c.HardwareSendIntervalMs == nil {
		return 300 * time.Millisecond // default
	}
	return time.Duration(*c.HardwareSendIntervalMs) * time.Millisecond
}

// GetCollectTimeoutSerial parses and returns the serial collection timeout.
func (c *Settings) GetCollectTimeoutSerial() time.Duration {
	return c.duration(c.CollectTimeoutSerial, 5*time.Second)
}

// GetCollectTimeoutBridge parses and returns the bridge collection timeout.
func (c *Settings) GetCollectTimeoutBridge() time.Duration {
	return c.duration(c.CollectTimeoutBridge, 15*time.Second)
}

// GetProbeTimeout parses and returns the per-candidate probe timeout.
func (c *Settings) GetProbeTimeout() time.Duration {
	return c.duration(c.ProbeTimeout, 15*time.Second)
}

// GetRetryDelay parses and returns the delay between reconnection sweeps.
func (c *Settings) GetRetryDelay() time.Duration {
	return c.duration(c.RetryDelay, 5*time.Second)
}

func (c *Settings) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPreferredPort returns the preferred_port value or the default.
func (c *Settings) GetPreferredPort() string {
	if c.PreferredPort == nil {
		return "" // default: no preference
	}
	return *c.PreferredPort
}

// GetBridgeAddr returns the bridge_addr value or the default.
func (c *Settings) GetBridgeAddr() string {
	if c.BridgeAddr == nil {
		return "" // default: no bridge candidate
	}
	return *c.BridgeAddr
}

// GetListenAddr returns the listen_addr value or the default.
func (c *Settings) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8090" // default
	}
	return *c.ListenAddr
}

// GetDBPath returns the db_path value or the default.
func (c *Settings) GetDBPath() string {
	if c.DBPath == nil {
		return "sebt.db" // default
	}
	return *c.DBPath
}

// GetUplinkURL returns the uplink_url value or the default.
func (c *Settings) GetUplinkURL() string {
	if c.UplinkURL == nil {
		return "" // default: uplink disabled
	}
	return *c.UplinkURL
}

// GetDiscoveryPort returns the discovery_port value or the default.
func (c *Settings) GetDiscoveryPort() int {
	if c.DiscoveryPort == nil {
		return 18830 // default
	}
	return *c.DiscoveryPort
}
