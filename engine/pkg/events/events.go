// Package events publishes the events of committed transactions to the outside world.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/malbeclabs/gameledger/engine/pkg/host"
)

// Publisher delivers the events of one committed transaction. Publishing happens after commit;
// a failure never undoes the transaction.
type Publisher interface {
	Publish(ctx context.Context, events []host.Event) error
}

// LogPublisher writes every event to a structured logger.
type LogPublisher struct {
	log   *slog.Logger
	level slog.Level
}

func NewLogPublisher(log *slog.Logger, level slog.Level) *LogPublisher {
	return &LogPublisher{log: log, level: level}
}

func (p *LogPublisher) Publish(ctx context.Context, events []host.Event) error {
	for _, ev := range events {
		p.log.Log(ctx, p.level, "events: "+ev.Module+"."+ev.Name,
			"tx_id", ev.TxID,
			"seq", ev.Seq,
			"attrs", ev.Attrs,
		)
	}
	return nil
}

// Multi fans out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events []host.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, []host.Event) error { return nil }
