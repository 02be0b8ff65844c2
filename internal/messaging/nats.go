package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/fleet-etl/pkg/config"
)

// NATSClient publishes sync lifecycle events for downstream consumers
// (dashboards, alerting) on the SYNC JetStream stream
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	cfg    *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.RWMutex
}

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	nc := &NATSClient{
		conn:   conn,
		js:     js,
		logger: logger.WithField("component", "nats"),
		cfg:    cfg,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := nc.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return nc, nil
}

// Close closes the NATS connection
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

// initializeStreams creates the SYNC JetStream stream
func (nc *NATSClient) initializeStreams() error {
	_, err := nc.js.AddStream(&nats.StreamConfig{
		Name:     "SYNC",
		Subjects: []string{"etl.sync.>"},
		Storage:  nats.MemoryStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create SYNC stream: %w", err)
	}
	return nil
}

// Sync operations

// PublishSyncProgress publishes a per-page progress update during a sync
func (nc *NATSClient) PublishSyncProgress(source string, processed, pages int) error {
	subject := fmt.Sprintf("etl.sync.progress.%s", source)
	data, err := json.Marshal(map[string]interface{}{
		"source":    source,
		"processed": processed,
		"pages":     pages,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sync progress: %w", err)
	}

	if _, err := nc.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish sync progress: %w", err)
	}
	return nil
}

// PublishSyncComplete publishes a sync completion notification
func (nc *NATSClient) PublishSyncComplete(source string, processed int, from time.Time, to *time.Time) error {
	subject := fmt.Sprintf("etl.sync.complete.%s", source)
	data, err := json.Marshal(map[string]interface{}{
		"source":    source,
		"processed": processed,
		"fromDate":  from,
		"toDate":    to,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sync complete: %w", err)
	}

	if _, err := nc.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish sync complete: %w", err)
	}
	return nil
}

// PublishSyncError publishes a sync failure notification
func (nc *NATSClient) PublishSyncError(source, message string) error {
	subject := fmt.Sprintf("etl.sync.error.%s", source)
	data, err := json.Marshal(map[string]interface{}{
		"source":    source,
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sync error: %w", err)
	}

	if _, err := nc.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish sync error: %w", err)
	}
	return nil
}

// SubscribeSyncUpdates subscribes to per-page progress updates
func (nc *NATSClient) SubscribeSyncUpdates(handler func(source string, processed, pages int)) error {
	subject := "etl.sync.progress.*"

	sub, err := nc.conn.Subscribe(subject, func(msg *nats.Msg) {
		var data struct {
			Source    string `json:"source"`
			Processed int    `json:"processed"`
			Pages     int    `json:"pages"`
		}
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			nc.logger.WithError(err).Error("Failed to unmarshal sync progress")
			return
		}
		handler(data.Source, data.Processed, data.Pages)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to sync updates: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	return nil
}

// SubscribeSyncErrors subscribes to sync failure notifications
func (nc *NATSClient) SubscribeSyncErrors(handler func(source, message string)) error {
	subject := "etl.sync.error.*"

	sub, err := nc.conn.Subscribe(subject, func(msg *nats.Msg) {
		var data struct {
			Source string `json:"source"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			nc.logger.WithError(err).Error("Failed to unmarshal sync error")
			return
		}
		handler(data.Source, data.Error)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to sync errors: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	return nil
}

// Drain drains the connection (graceful shutdown)
func (nc *NATSClient) Drain() error {
	return nc.conn.Drain()
}
