package nats

import (
	"fmt"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/pkg/config"
)

// Connect opens a connection with reconnect handling and logging wired in
func Connect(logger *zap.Logger, cfg *config.NATSConfig) (*natsgo.Conn, error) {
	opts := []natsgo.Option{
		natsgo.Name(cfg.Name),
		natsgo.Timeout(cfg.ConnectionTimeout),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", zap.Error(err))
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, _ *natsgo.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// ensureStream creates the stream, or updates its limits while keeping the
// subjects an operator may have added
func ensureStream(logger *zap.Logger, js natsgo.JetStreamContext, sc *natsgo.StreamConfig) error {
	info, err := js.StreamInfo(sc.Name)
	if err == natsgo.ErrStreamNotFound {
		if _, err := js.AddStream(sc); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", sc.Name, err)
		}
		logger.Info("Created JetStream stream",
			zap.String("name", sc.Name),
			zap.Strings("subjects", sc.Subjects))
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	sc.Subjects = mergeSubjects(info.Config.Subjects, sc.Subjects)
	if _, err := js.UpdateStream(sc); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", sc.Name, err)
	}
	return nil
}

func mergeSubjects(existing, wanted []string) []string {
	out := append([]string(nil), existing...)
	for _, w := range wanted {
		found := false
		for _, e := range existing {
			if e == w {
				found = true
				break
			}
		}
		if !found {
			out = append(out, w)
		}
	}
	return out
}

func streamConfig(name string, subjects []string, cfg *config.NATSConfig) *natsgo.StreamConfig {
	return &natsgo.StreamConfig{
		Name:       name,
		Subjects:   subjects,
		Storage:    natsgo.FileStorage,
		Retention:  natsgo.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		Duplicates: cfg.DuplicateWindow,
		Replicas:   cfg.Replicas,
	}
}
