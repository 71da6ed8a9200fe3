// Package config loads the heap, layout, device and logging settings of a
// kernelheap context from a file and KERNELHEAP_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/device/occadev"
	"github.com/notargets/kernelheap/device/wasmdev"
	"github.com/notargets/kernelheap/memory"
)

// Backend names
const (
	BackendAuto = "auto"
	BackendWasm = "wasm"
	BackendOCCA = "occa"
)

// Config represents the context configuration
type Config struct {
	Heap    HeapConfig    `mapstructure:"heap"`
	Frame   FrameConfig   `mapstructure:"frame"`
	Layout  LayoutConfig  `mapstructure:"layout"`
	Device  DeviceConfig  `mapstructure:"device"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type HeapConfig struct {
	RegionBytes    int64 `mapstructure:"region_bytes"`
	CallStackLimit int64 `mapstructure:"call_stack_limit"`
	Alignment      int64 `mapstructure:"alignment"`
}

type FrameConfig struct {
	ReservedSlots int   `mapstructure:"reserved_slots"`
	SlotWidth     int64 `mapstructure:"slot_width"`
	Alignment     int64 `mapstructure:"alignment"`
}

type LayoutConfig struct {
	ArrayHeaderSize   int64 `mapstructure:"array_header_size"`
	ArrayLengthOffset int64 `mapstructure:"array_length_offset"`
	ObjectHeaderSize  int64 `mapstructure:"object_header_size"`
	HubOffset         int64 `mapstructure:"hub_offset"`
	RelativeAddresses bool  `mapstructure:"relative_addresses"`
}

type DeviceConfig struct {
	Backend string `mapstructure:"backend"`
	// Modes are the OCCA modes tried in order, e.g. OpenMP, CUDA, Serial
	Modes    []string `mapstructure:"modes"`
	DeviceID int      `mapstructure:"device_id"`
	MaxPages uint32   `mapstructure:"max_pages"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	mem := memory.DefaultConfig()
	return &Config{
		Heap: HeapConfig{
			RegionBytes:    64 << 20,
			CallStackLimit: mem.CallStackLimit,
			Alignment:      mem.Alignment,
		},
		Frame: FrameConfig{
			ReservedSlots: mem.ReservedSlots,
			SlotWidth:     mem.SlotWidth,
			Alignment:     mem.FrameAlignment,
		},
		Layout: LayoutConfig{
			ArrayHeaderSize:   mem.ArrayHeaderSize,
			ArrayLengthOffset: mem.ArrayLengthOffset,
			ObjectHeaderSize:  mem.ObjectHeaderSize,
			HubOffset:         mem.HubOffset,
			RelativeAddresses: mem.RelativeAddresses,
		},
		Device: DeviceConfig{
			Backend: BackendAuto,
			Modes:   []string{"OpenMP", "CUDA", "Serial"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load loads configuration from file, environment, and defaults. An empty
// cfgFile looks for kernelheap.yaml in the working directory.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("kernelheap")
	}

	v.SetEnvPrefix("KERNELHEAP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Memory returns the allocator layout constants
func (c *Config) Memory() memory.Config {
	return memory.Config{
		CallStackLimit:    c.Heap.CallStackLimit,
		ReservedSlots:     c.Frame.ReservedSlots,
		SlotWidth:         c.Frame.SlotWidth,
		FrameAlignment:    c.Frame.Alignment,
		Alignment:         c.Heap.Alignment,
		ArrayHeaderSize:   c.Layout.ArrayHeaderSize,
		ArrayLengthOffset: c.Layout.ArrayLengthOffset,
		ObjectHeaderSize:  c.Layout.ObjectHeaderSize,
		HubOffset:         c.Layout.HubOffset,
		RelativeAddresses: c.Layout.RelativeAddresses,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Heap.RegionBytes <= c.Heap.CallStackLimit {
		return errors.New("heap.region_bytes must exceed heap.call_stack_limit")
	}

	validBackends := []string{BackendAuto, BackendWasm, BackendOCCA}
	if !contains(validBackends, c.Device.Backend) {
		return fmt.Errorf("device.backend must be one of: %v", validBackends)
	}
	if c.Device.Backend == BackendOCCA && len(c.Device.Modes) == 0 {
		return errors.New("device.modes must name at least one OCCA mode")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return c.Memory().Validate()
}

// OpenDevice creates the configured device. The auto backend tries each OCCA
// mode and falls back to the wasm device.
func (c *Config) OpenDevice(ctx context.Context) (device.Device, error) {
	switch c.Device.Backend {
	case BackendWasm:
		return c.openWasm(ctx)
	case BackendOCCA:
		return c.openOCCA()
	default:
		if d, err := c.openOCCA(); err == nil {
			return d, nil
		}
		return c.openWasm(ctx)
	}
}

func (c *Config) openWasm(ctx context.Context) (device.Device, error) {
	d, err := wasmdev.New(ctx, wasmdev.Options{MaxPages: c.Device.MaxPages})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *Config) openOCCA() (device.Device, error) {
	var errs []error
	for _, mode := range c.Device.Modes {
		d, err := occadev.New(occaProps(mode, c.Device.DeviceID))
		if err == nil {
			return d, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no OCCA mode available: %w", errors.Join(errs...))
}

func occaProps(mode string, deviceID int) string {
	if mode == "CUDA" || mode == "OpenCL" || mode == "HIP" {
		return fmt.Sprintf(`{"mode": "%s", "device_id": %d}`, mode, deviceID)
	}
	return fmt.Sprintf(`{"mode": "%s"}`, mode)
}

// NewLogger builds the zap logger described by the logging section
func (c *Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if c.Logging.Encoding != "" {
		zc.Encoding = c.Logging.Encoding
	}
	return zc.Build()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("heap.region_bytes", cfg.Heap.RegionBytes)
	v.SetDefault("heap.call_stack_limit", cfg.Heap.CallStackLimit)
	v.SetDefault("heap.alignment", cfg.Heap.Alignment)

	v.SetDefault("frame.reserved_slots", cfg.Frame.ReservedSlots)
	v.SetDefault("frame.slot_width", cfg.Frame.SlotWidth)
	v.SetDefault("frame.alignment", cfg.Frame.Alignment)

	v.SetDefault("layout.array_header_size", cfg.Layout.ArrayHeaderSize)
	v.SetDefault("layout.array_length_offset", cfg.Layout.ArrayLengthOffset)
	v.SetDefault("layout.object_header_size", cfg.Layout.ObjectHeaderSize)
	v.SetDefault("layout.hub_offset", cfg.Layout.HubOffset)
	v.SetDefault("layout.relative_addresses", cfg.Layout.RelativeAddresses)

	v.SetDefault("device.backend", cfg.Device.Backend)
	v.SetDefault("device.modes", cfg.Device.Modes)
	v.SetDefault("device.device_id", cfg.Device.DeviceID)
	v.SetDefault("device.max_pages", cfg.Device.MaxPages)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.development", cfg.Logging.Development)
	v.SetDefault("logging.encoding", cfg.Logging.Encoding)
}
