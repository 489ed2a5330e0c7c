package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiona/modelbridge/wire"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "instance_id: kiosk-1\n"))
	require.NoError(t, err)

	assert.Equal(t, "kiosk-1", cfg.InstanceID)
	assert.Equal(t, 5, cfg.ShutdownTimeoutS)
	assert.Equal(t, wire.DefaultChannel, cfg.Channel)
	assert.Equal(t, ":8090", cfg.Listen.Addr)
	assert.Equal(t, "/bridge", cfg.Listen.Path)
	assert.Nil(t, cfg.MQTT)
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
instance_id: kiosk-2
shutdown_timeout_s: 10
channel: lab-channel
listen:
  addr: ":9000"
  path: /ws
metrics:
  addr: ":9102"
loop:
  refresh_interval_ms: 33
mqtt:
  broker: tcp://broker:1883
  qos: 1
log:
  level: debug
  development: true
`))
	require.NoError(t, err)

	assert.Equal(t, "lab-channel", cfg.Channel)
	assert.Equal(t, ":9000", cfg.Listen.Addr)
	assert.Equal(t, 33, cfg.Loop.RefreshIntervalMS)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, "modelbridge-kiosk-2", cfg.MQTT.ClientID)
	assert.Equal(t, "modelbridge/kiosk-2/out", cfg.MQTT.SendTopic)
	assert.Equal(t, "modelbridge/kiosk-2/in", cfg.MQTT.ReceiveTopic)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODELBRIDGE_CHANNEL", "override-channel")
	t.Setenv("MODELBRIDGE_LISTEN_ADDR", ":7777")

	cfg, err := Load(writeConfig(t, "instance_id: kiosk-3\nchannel: file-channel\n"))
	require.NoError(t, err)

	assert.Equal(t, "override-channel", cfg.Channel)
	assert.Equal(t, ":7777", cfg.Listen.Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing instance id", "channel: c\n"},
		{"bad instance id", "instance_id: Kiosk_1\n"},
		{"mqtt without broker", "instance_id: a\nmqtt:\n  qos: 1\n"},
		{"bad qos", "instance_id: a\nmqtt:\n  broker: tcp://b:1883\n  qos: 7\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
