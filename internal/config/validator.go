package config

import (
	"fmt"
	"regexp"

	"github.com/visiona/modelbridge/wire"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults.
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
	if cfg.Channel == "" {
		cfg.Channel = wire.DefaultChannel
	}

	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = ":8090"
	}
	if cfg.Listen.Path == "" {
		cfg.Listen.Path = "/bridge"
	}

	if cfg.Loop.RefreshIntervalMS < 0 {
		return fmt.Errorf("loop.refresh_interval_ms must be >= 0")
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is configured")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = fmt.Sprintf("modelbridge-%s", cfg.InstanceID)
		}
		if cfg.MQTT.SendTopic == "" {
			cfg.MQTT.SendTopic = fmt.Sprintf("modelbridge/%s/out", cfg.InstanceID)
		}
		if cfg.MQTT.ReceiveTopic == "" {
			cfg.MQTT.ReceiveTopic = fmt.Sprintf("modelbridge/%s/in", cfg.InstanceID)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	return nil
}
