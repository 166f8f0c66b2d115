package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "auction",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSSink publishes entries on <prefix>.rooms.<room id>.events for observers
// outside the process.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

func ConnectNATS(cfg NATSConfig, log *zap.Logger) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("minionsbid"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSSink{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

func (n *NATSSink) Record(_ context.Context, e Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	if err := n.nc.Publish(Subject(n.prefix, e), data); err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}

func (n *NATSSink) Close() error {
	return n.nc.Drain()
}

func Subject(prefix string, e Entry) string {
	return fmt.Sprintf("%s.rooms.%s.events", prefix, e.RoomID)
}

func encodeEntry(e Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}
	return data, nil
}
