package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete previewd configuration
type Config struct {
	InstanceID       string             `yaml:"instance_id"`
	ShutdownTimeoutS int                `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Server           ServerConfig       `yaml:"server"`
	Storage          StorageConfig      `yaml:"storage"`
	Inference        InferenceConfig    `yaml:"inference"`
	Segmentation     SegmentationConfig `yaml:"segmentation"`
	Synthesis        SynthesisConfig    `yaml:"synthesis"`
	Compositing      CompositingConfig  `yaml:"compositing"`
	Native           NativeConfig       `yaml:"native"`
	Pipeline         PipelineConfig     `yaml:"pipeline"`
	MQTT             MQTTConfig         `yaml:"mqtt"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Port          int `yaml:"port"`
	ReadTimeoutS  int `yaml:"read_timeout_s"`
	WriteTimeoutS int `yaml:"write_timeout_s"`
	BodyLimitMB   int `yaml:"body_limit_mb"` // max upload size
}

// StorageConfig locates photos, artifacts and the catalog database
type StorageConfig struct {
	Root   string `yaml:"root"`
	DBPath string `yaml:"db_path"` // defaults to <root>/library.db
}

// InferenceConfig describes the model worker process
type InferenceConfig struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args"`
	SegmentationModel string   `yaml:"segmentation_model"`
	LayoutModel       string   `yaml:"layout_model"`
	TimeoutS          int      `yaml:"timeout_s"`
	MaxRestarts       int      `yaml:"max_restarts"`     // consecutive failed respawns before giving up (default: 5)
	RestartDelayMS    int      `yaml:"restart_delay_ms"` // initial backoff, doubled per attempt (default: 1000)
}

// SegmentationConfig contains mask rendering settings
type SegmentationConfig struct {
	Threshold *float64 `yaml:"threshold"` // nil means default 0.5
}

// SynthesisConfig contains texture synthesis settings
type SynthesisConfig struct {
	TileSize     int `yaml:"tile_size"`
	MaxInputSide int `yaml:"max_input_side"`
	TimeoutS     int `yaml:"timeout_s"`
}

// CompositingConfig contains preview assembly settings
type CompositingConfig struct {
	LayoutSize int `yaml:"layout_size"` // model input side the layout coordinates refer to
	TimeoutS   int `yaml:"timeout_s"`
}

// NativeConfig selects the native library implementation
type NativeConfig struct {
	Backend string `yaml:"backend"` // auto, cgo, soft
}

// PipelineConfig contains run scheduling settings
type PipelineConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      byte       `yaml:"qos"`
}

// MQTTTopics contains topic prefixes
type MQTTTopics struct {
	Events  string `yaml:"events"`
	Control string `yaml:"control"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutS)
}

// InferenceRestartDelay returns the initial worker respawn backoff.
func (c *Config) InferenceRestartDelay() time.Duration {
	return time.Duration(c.Inference.RestartDelayMS) * time.Millisecond
}

// InferenceTimeout bounds one model call.
func (c *Config) InferenceTimeout() time.Duration { return seconds(c.Inference.TimeoutS) }

// SynthesisTimeout bounds one texture synthesis call.
func (c *Config) SynthesisTimeout() time.Duration { return seconds(c.Synthesis.TimeoutS) }

// CompositingTimeout bounds one preview generation call.
func (c *Config) CompositingTimeout() time.Duration { return seconds(c.Compositing.TimeoutS) }

// Threshold returns the mask threshold after defaults are applied.
func (c *Config) Threshold() float64 {
	if c.Segmentation.Threshold == nil {
		return DefaultThreshold
	}
	return *c.Segmentation.Threshold
}

func seconds(s int) time.Duration { return time.Duration(s) * time.Second }
