package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/segmentio/kafka-go"

	"example.com/diary/internal/observability"
)

// Reader exposes the minimal kafka.Reader interface needed by the listener.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Option configures optional behaviour for the Listener.
type Option func(*Listener)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// Listener pulls notices from Kafka and dispatches them to the registry.
type Listener struct {
	reader   Reader
	registry *Registry
	logger   *log.Logger
}

// NewListener constructs a Listener over the provided reader and registry.
func NewListener(reader Reader, registry *Registry, opts ...Option) *Listener {
	l := &Listener{
		reader:   reader,
		registry: registry,
		logger:   log.New(log.Writer(), "[feed] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run starts a blocking loop that dispatches notices until the context is
// cancelled. Malformed messages are committed and skipped so a poison pill
// cannot wedge the feed.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			l.logger.Printf("fetch error: %v", err)
			continue
		}

		var notice Notice
		if err := json.Unmarshal(msg.Value, &notice); err != nil {
			l.skipMessage(ctx, msg, "decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
			continue
		}
		if notice.DiaryKey == "" {
			l.skipMessage(ctx, msg, "notice missing diary key (topic=%s, partition=%d, offset=%d)", msg.Topic, msg.Partition, msg.Offset)
			continue
		}

		l.registry.Dispatch(notice.DiaryKey)

		if commitErr := l.reader.CommitMessages(ctx, msg); commitErr != nil {
			l.logger.Printf("commit error: %v", commitErr)
		}
	}
}

// skipMessage logs a message the feed cannot use, counts it and commits it so
// the poison pill does not wedge the loop.
func (l *Listener) skipMessage(ctx context.Context, msg kafka.Message, format string, args ...interface{}) {
	l.logger.Printf(format, args...)
	observability.RecordFeedDecodeError()
	if commitErr := l.reader.CommitMessages(ctx, msg); commitErr != nil {
		l.logger.Printf("commit error after skipping message: %v", commitErr)
	}
}
