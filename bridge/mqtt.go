package bridge

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttReceiveBuffer  = 64
)

// MQTTConfig configures an MQTT transport.
type MQTTConfig struct {
	// Broker is the host:port of the MQTT broker.
	Broker string
	// ClientID identifies this peer to the broker.
	ClientID string
	// SendTopic and ReceiveTopic carry outbound and inbound frames.
	// The two peers use mirrored topic pairs.
	SendTopic    string
	ReceiveTopic string
	// QoS for both directions. Frame loss only skips one tick, so the
	// default of 0 is the intended setting.
	QoS byte
}

// MQTTTransport carries frames over a pair of broker topics. In-order
// delivery within a topic at QoS 0 matches the channel contract.
type MQTTTransport struct {
	cfg    MQTTConfig
	client mqtt.Client
	log    *zap.Logger

	inMu     sync.Mutex
	in       chan []byte
	inClosed bool

	closeOnce sync.Once
	closed    chan struct{}
}

// DialMQTT connects to the broker and subscribes the receive topic.
func DialMQTT(cfg MQTTConfig, log *zap.Logger) (*MQTTTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := &MQTTTransport{
		cfg:    cfg,
		log:    log,
		in:     make(chan []byte, mqttReceiveBuffer),
		closed: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, auto-reconnecting", zap.Error(err))
	}

	t.client = mqtt.NewClient(opts)

	token := t.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	sub := t.client.Subscribe(cfg.ReceiveTopic, cfg.QoS, t.onMessage)
	if !sub.WaitTimeout(mqttConnectTimeout) {
		t.client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe timeout")
	}
	if err := sub.Error(); err != nil {
		t.client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe: %w", err)
	}

	log.Info("mqtt transport connected",
		zap.String("broker", cfg.Broker),
		zap.String("send_topic", cfg.SendTopic),
		zap.String("receive_topic", cfg.ReceiveTopic))

	return t, nil
}

// Send implements Transport.
func (t *MQTTTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	token := t.client.Publish(t.cfg.SendTopic, t.cfg.QoS, false, data)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish timeout")
	}
	return token.Error()
}

// Receive implements Transport.
func (t *MQTTTransport) Receive() <-chan []byte { return t.in }

// Close implements Transport.
func (t *MQTTTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.client.IsConnected() {
			t.client.Unsubscribe(t.cfg.ReceiveTopic).WaitTimeout(mqttPublishTimeout)
			t.client.Disconnect(250)
		}

		t.inMu.Lock()
		t.inClosed = true
		close(t.in)
		t.inMu.Unlock()
	})
	return nil
}

func (t *MQTTTransport) onMessage(_ mqtt.Client, msg mqtt.Message) {
	t.inMu.Lock()
	defer t.inMu.Unlock()

	if t.inClosed {
		return
	}
	select {
	case t.in <- msg.Payload():
	default:
		// Receiver backlogged: drop, never queue.
	}
}
