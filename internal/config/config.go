// Package config loads the daemon configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/visiona/modelbridge/internal/logging"
)

// Config is the complete daemon configuration.
type Config struct {
	InstanceID       string         `yaml:"instance_id" env:"INSTANCE_ID"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s" env:"SHUTDOWN_TIMEOUT_S"`
	Channel          string         `yaml:"channel" env:"CHANNEL"`
	Listen           ListenConfig   `yaml:"listen"`
	Metrics          MetricsConfig  `yaml:"metrics"`
	Loop             LoopConfig     `yaml:"loop"`
	MQTT             *MQTTConfig    `yaml:"mqtt,omitempty"`
	Log              logging.Config `yaml:"log"`
}

// ListenConfig holds the websocket endpoint settings.
type ListenConfig struct {
	Addr string `yaml:"addr" env:"LISTEN_ADDR"`
	Path string `yaml:"path" env:"LISTEN_PATH"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR"`
}

// LoopConfig tunes the inference loop.
type LoopConfig struct {
	RefreshIntervalMS int `yaml:"refresh_interval_ms" env:"REFRESH_INTERVAL_MS"`
}

// MQTTConfig holds optional broker settings. When present the daemon
// bridges over MQTT instead of accepting websocket attachments.
type MQTTConfig struct {
	Broker       string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID     string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	SendTopic    string `yaml:"send_topic" env:"MQTT_SEND_TOPIC"`
	ReceiveTopic string `yaml:"receive_topic" env:"MQTT_RECEIVE_TOPIC"`
	QoS          byte   `yaml:"qos" env:"MQTT_QOS"`
}

// Load reads the YAML file at path, applies MODELBRIDGE_* environment
// overrides and validates the result. An empty path skips the file and
// builds the configuration from environment and defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "MODELBRIDGE_"}); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
