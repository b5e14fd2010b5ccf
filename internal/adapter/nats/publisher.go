// Package nats publishes enriched propagation paths to a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	natsgo "github.com/nats-io/nats.go"
)

// Publisher implements enricher.Publisher over a core NATS connection.
type Publisher struct {
	conn    *natsgo.Conn
	subject string
	logger  *slog.Logger
}

// Connect dials the server at url. The connection reconnects on its own after
// the initial dial succeeds.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	conn, err := natsgo.Connect(url,
		natsgo.Name("sota-rbn-matcher"),
		natsgo.Timeout(5*time.Second),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends one message per path, then flushes so delivery errors surface
// within ctx.
func (p *Publisher) Publish(ctx context.Context, paths []domain.PropagationPath) error {
	if len(paths) == 0 {
		return nil
	}
	for i := range paths {
		msg, err := newMsg(p.subject, paths[i])
		if err != nil {
			return err
		}
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish match %d: %w", paths[i].MatchID, err)
		}
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	p.logger.Debug("paths published", "sink", "nats", "subject", p.subject, "count", len(paths))
	return nil
}

// Close drains buffered messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// newMsg uses the match id as Nats-Msg-Id so JetStream-backed subjects can
// deduplicate redelivered paths.
func newMsg(subject string, path domain.PropagationPath) (*natsgo.Msg, error) {
	data, err := json.Marshal(path)
	if err != nil {
		return nil, fmt.Errorf("serialize propagation path %d: %w", path.MatchID, err)
	}
	msg := natsgo.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(natsgo.MsgIdHdr, strconv.FormatInt(path.MatchID, 10))
	msg.Header.Set("Summit-Ref", path.SummitRef)
	msg.Header.Set("Activator", path.Activator)
	return msg, nil
}
