// modelbridged hosts model instances and exposes them to an embedding
// host over a websocket or MQTT bridge. It ships with the synthetic
// capture device and the static inference engine, which makes it a
// complete end-to-end rig for exercising the protocol without camera
// or model-graph dependencies.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/visiona/modelbridge/bridge"
	"github.com/visiona/modelbridge/capture"
	"github.com/visiona/modelbridge/control"
	"github.com/visiona/modelbridge/inference"
	"github.com/visiona/modelbridge/internal/config"
	"github.com/visiona/modelbridge/internal/logging"
	"github.com/visiona/modelbridge/internal/metrics"
	"github.com/visiona/modelbridge/model"
)

const defaultConfigPath = "config/modelbridge.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet.
		os.Stderr.WriteString("modelbridged: " + err.Error() + "\n")
		os.Exit(1)
	}

	logCfg := cfg.Log
	logCfg.ServiceName = "modelbridged"
	log, err := logging.New(logCfg)
	if err != nil {
		os.Stderr.WriteString("modelbridged: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting",
		zap.String("instance_id", cfg.InstanceID),
		zap.String("channel", cfg.Channel),
		zap.String("config", *configPath))

	b := bridge.New(bridge.Options{Channel: cfg.Channel, Logger: log})

	facade := control.New(control.Runtime{
		Engine:    inference.NewStaticEngine(http.DefaultClient, nil),
		Devices:   capture.NewSyntheticDevice(),
		Scheduler: model.NewRefreshScheduler(time.Duration(cfg.Loop.RefreshIntervalMS) * time.Millisecond),
		Emitter:   b,
		Logger:    log,
	})
	control.Publish(facade)
	detach := facade.AttachBridge(b)
	defer detach()

	if cfg.Metrics.Addr != "" {
		if err := metrics.RegisterBridge(nil, b); err != nil {
			log.Fatal("register bridge metrics", zap.Error(err))
		}
		if err := metrics.RegisterRegistry(nil, facade.Registry()); err != nil {
			log.Fatal("register registry metrics", zap.Error(err))
		}
		srv := metrics.NewServer(cfg.Metrics.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wsServer *http.Server
	if cfg.MQTT != nil {
		t, err := bridge.DialMQTT(bridge.MQTTConfig{
			Broker:       cfg.MQTT.Broker,
			ClientID:     cfg.MQTT.ClientID,
			SendTopic:    cfg.MQTT.SendTopic,
			ReceiveTopic: cfg.MQTT.ReceiveTopic,
			QoS:          cfg.MQTT.QoS,
		}, log)
		if err != nil {
			log.Fatal("mqtt connect failed", zap.Error(err))
		}
		if err := b.Attach(t); err != nil {
			log.Fatal("bridge attach failed", zap.Error(err))
		}
		log.Info("bridging over mqtt", zap.String("broker", cfg.MQTT.Broker))
	} else {
		wsServer = serveWebSocket(cfg.Listen, b, log)
		log.Info("bridging over websocket",
			zap.String("addr", cfg.Listen.Addr),
			zap.String("path", cfg.Listen.Path))
	}

	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutS)*time.Second)
	defer shutdownCancel()

	if err := facade.Registry().StopAll(); err != nil {
		log.Warn("stop sweep had failures", zap.Error(err))
	}
	b.Detach()
	if wsServer != nil {
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("websocket server shutdown", zap.Error(err))
		}
	}
	control.Publish(nil)

	log.Info("stopped")
}

// serveWebSocket accepts host attachments. The bridge holds one
// transport at a time; a new attachment displaces the previous one,
// which matches a host page reloading.
func serveWebSocket(listen config.ListenConfig, b *bridge.Bridge, log *zap.Logger) *http.Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The channel filter is the trust boundary, not the Origin
		// header.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(listen.Path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		t := bridge.NewWebSocketTransport(conn, log)
		if err := b.Attach(t); err != nil {
			log.Warn("bridge attach failed", zap.Error(err))
			t.Close()
			return
		}
		log.Info("host attached", zap.String("remote", r.RemoteAddr))
	})

	srv := &http.Server{
		Addr:              listen.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("websocket server failed", zap.Error(err))
		}
	}()
	return srv
}
