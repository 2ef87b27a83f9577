package config

import (
	"fmt"
	"path/filepath"
	"regexp"
)

const (
	DefaultThreshold    = 0.5
	DefaultTileSize     = 320
	MinTileSize         = 160
	MaxTileSize         = 1024
	DefaultMaxInputSide = 1024
	DefaultLayoutSize   = 512
)

// Native backends
const (
	BackendAuto = "auto"
	BackendCGO  = "cgo"
	BackendSoft = "soft"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within 1..65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeoutS <= 0 {
		cfg.Server.ReadTimeoutS = 30
	}
	if cfg.Server.WriteTimeoutS <= 0 {
		cfg.Server.WriteTimeoutS = 60
	}
	if cfg.Server.BodyLimitMB <= 0 {
		cfg.Server.BodyLimitMB = 25
	}

	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(cfg.Storage.Root, "library.db")
	}

	if cfg.Inference.Command == "" {
		return fmt.Errorf("inference.command is required")
	}
	if cfg.Inference.TimeoutS <= 0 {
		cfg.Inference.TimeoutS = 30
	}
	if cfg.Inference.MaxRestarts < 0 {
		return fmt.Errorf("inference.max_restarts must be >= 0, got %d", cfg.Inference.MaxRestarts)
	}
	if cfg.Inference.MaxRestarts == 0 {
		cfg.Inference.MaxRestarts = 5
	}
	if cfg.Inference.RestartDelayMS <= 0 {
		cfg.Inference.RestartDelayMS = 1000
	}

	if t := cfg.Segmentation.Threshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("segmentation.threshold must be within [0,1], got %v", *t)
	}

	if cfg.Synthesis.TileSize == 0 {
		cfg.Synthesis.TileSize = DefaultTileSize
	}
	if cfg.Synthesis.TileSize < MinTileSize || cfg.Synthesis.TileSize > MaxTileSize {
		return fmt.Errorf("synthesis.tile_size must be within %d..%d, got %d",
			MinTileSize, MaxTileSize, cfg.Synthesis.TileSize)
	}
	if cfg.Synthesis.MaxInputSide <= 0 {
		cfg.Synthesis.MaxInputSide = DefaultMaxInputSide
	}
	if cfg.Synthesis.TimeoutS <= 0 {
		cfg.Synthesis.TimeoutS = 60
	}

	if cfg.Compositing.LayoutSize <= 0 {
		cfg.Compositing.LayoutSize = DefaultLayoutSize
	}
	if cfg.Compositing.TimeoutS <= 0 {
		cfg.Compositing.TimeoutS = 60
	}

	switch cfg.Native.Backend {
	case "":
		cfg.Native.Backend = BackendAuto
	case BackendAuto, BackendCGO, BackendSoft:
	default:
		return fmt.Errorf("native.backend: unknown backend '%s' (must be 'auto', 'cgo' or 'soft')", cfg.Native.Backend)
	}

	if cfg.Pipeline.MaxConcurrentRuns <= 0 {
		cfg.Pipeline.MaxConcurrentRuns = 2
	}

	if err := validateMQTT(cfg); err != nil {
		return fmt.Errorf("mqtt validation failed: %w", err)
	}

	return nil
}

func validateMQTT(cfg *Config) error {
	if !cfg.MQTT.Enabled() {
		return nil
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.InstanceID
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("wallpaper/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("wallpaper/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return nil
}
