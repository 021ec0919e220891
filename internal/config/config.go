// Package config owns the flat capability-and-config surface of the player
// : every base key and the productinfo subtree, loadable from a YAML
// file with environment-variable overrides.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// PlayerConfig carries the full key set. Field names mirror the wire keys;
// defaults match the player engine's documented values.
type PlayerConfig struct {
	PbPosUnits           string        `yaml:"pbpos_units" env:"PBPOS_UNITS" env-default:"ms" validate:"oneof=ms sec samples"`
	PbPosIntervalMS      uint32        `yaml:"pbpos_interval" env:"PBPOS_INTERVAL" env-default:"1000" validate:"gt=0"`
	PbPosEnable          bool          `yaml:"pbpos_enable" env:"PBPOS_ENABLE" env-default:"false"`
	EndTimeCheckInterval uint32        `yaml:"endtimecheck_interval" env:"ENDTIMECHECK_INTERVAL" env-default:"1000" validate:"gt=0"`
	SeekToSyncPoint      bool          `yaml:"seektosyncpoint" env:"SEEKTOSYNCPOINT" env-default:"true"`
	SkipToRequestedPos   bool          `yaml:"skiptorequestedpos" env:"SKIPTOREQUESTEDPOS" env-default:"true"`
	RenderSkipped        bool          `yaml:"renderskipped" env:"RENDERSKIPPED" env-default:"false"`
	SyncPointSeekWindow  uint32        `yaml:"syncpointseekwindow" env:"SYNCPOINTSEEKWINDOW" env-default:"0"`
	SyncMarginVideo      SyncMargin    `yaml:"syncmargin_video"`
	SyncMarginAudio      SyncMargin    `yaml:"syncmargin_audio"`
	SyncMarginText       SyncMargin    `yaml:"syncmargin_text"`
	NodeCmdTimeoutMS     uint32        `yaml:"nodecmd_timeout" env:"NODECMD_TIMEOUT" env-default:"10000" validate:"gt=0"`
	NodeDataQueuingMS    uint32        `yaml:"nodedataqueuing_timeout" env:"NODEDATAQUEUING_TIMEOUT" env-default:"0"`
	ProductInfo          ProductInfo   `yaml:"productinfo"`
	Gateway              GatewayConfig `yaml:"gateway"`
}

// SyncMargin is the early/late render window for one media class, in
// milliseconds relative to the A/V clock. The sync algorithm consuming it
// lives in the sink nodes, not the engine.
type SyncMargin struct {
	EarlyMS int32 `yaml:"early" env-default:"-200"`
	LateMS  int32 `yaml:"late" env-default:"200"`
}

// ProductInfo is the productinfo subtree of the configuration surface.
type ProductInfo struct {
	ProductName      string `yaml:"productname" env:"PRODUCT_NAME" env-default:"pvplayer"`
	PartNumber       string `yaml:"partnumber" env:"PART_NUMBER"`
	HardwarePlatform string `yaml:"hardwareplatform" env:"HARDWARE_PLATFORM"`
	SoftwarePlatform string `yaml:"softwareplatform" env:"SOFTWARE_PLATFORM"`
	Device           string `yaml:"device" env:"DEVICE"`
}

// GatewayConfig configures the upward HTTP/websocket transport.
type GatewayConfig struct {
	Host string `yaml:"host" env:"HOST_ADDR" env-default:"0.0.0.0"`
	Port int    `yaml:"port" env:"HOST_PORT" env-default:"8080" validate:"gt=0,lt=65536"`
}

// LoadFromFile reads the YAML config at configPath, applies env overrides,
// and validates the result.
func (config *PlayerConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load player configuration - %w", err)
	}
	return config.Validate()
}

// LoadFromEnv populates the config from environment variables and defaults
// only, for deployments without a config file.
func (config *PlayerConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load player configuration from env - %w", err)
	}
	return config.Validate()
}

func (config *PlayerConfig) Validate() error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("player configuration is invalid - %w", err)
	}
	return nil
}
