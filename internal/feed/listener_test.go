package feed

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.commitCalls += len(msgs)
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func notice(key string) kafka.Message {
	return kafka.Message{
		Topic: "diary_snapshots",
		Key:   []byte(key),
		Value: []byte(`{"diaryKey":"` + key + `","updatedAt":"2024-01-10T09:00:00Z"}`),
		Time:  time.Now().UTC(),
	}
}

func TestListenerDispatchesAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{notice("alice")},
		after:    contextCanceled,
	}
	registry := NewRegistry()

	calls := 0
	cancelSub := registry.Subscribe("alice", func() { calls++ })
	defer cancelSub()

	listener := NewListener(reader, registry, WithLogger(log.New(testWriter{t}, "", 0)))

	err := listener.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, reader.commitCalls)
}

func TestListenerCommitsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			{Topic: "diary_snapshots", Value: []byte("not json")},
			{Topic: "diary_snapshots", Value: []byte(`{"updatedAt":"2024-01-10T09:00:00Z"}`)},
		},
		after: contextCanceled,
	}
	registry := NewRegistry()

	calls := 0
	cancelSub := registry.Subscribe("alice", func() { calls++ })
	defer cancelSub()

	listener := NewListener(reader, registry, WithLogger(log.New(testWriter{t}, "", 0)))

	err := listener.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, calls)
	require.Equal(t, 2, reader.commitCalls)
}

func TestListenerReportsMissingDiaryKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			{Topic: "diary_snapshots", Value: []byte(`{"updatedAt":"2024-01-10T09:00:00Z"}`)},
		},
		after: contextCanceled,
	}

	var logged bytes.Buffer
	listener := NewListener(reader, NewRegistry(), WithLogger(log.New(&logged, "", 0)))

	err := listener.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, reader.commitCalls)
	require.Contains(t, logged.String(), "missing diary key")
	require.NotContains(t, logged.String(), "decode error")
}

func TestListenerIgnoresOtherKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{notice("bob")},
		after:    contextCanceled,
	}
	registry := NewRegistry()

	calls := 0
	cancelSub := registry.Subscribe("alice", func() { calls++ })
	defer cancelSub()

	listener := NewListener(reader, registry, WithLogger(log.New(testWriter{t}, "", 0)))

	err := listener.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, calls)
	require.Equal(t, 1, reader.commitCalls)
}

func TestRegistrySubscribeCancel(t *testing.T) {
	registry := NewRegistry()

	first, second := 0, 0
	cancelFirst := registry.Subscribe("alice", func() { first++ })
	cancelSecond := registry.Subscribe("alice", func() { second++ })
	defer cancelSecond()

	registry.Dispatch("alice")
	require.Equal(t, 1, first)
	require.Equal(t, 1, second)

	cancelFirst()
	registry.Dispatch("alice")
	require.Equal(t, 1, first)
	require.Equal(t, 2, second)
}

func TestFeedNotifyPublishesNotice(t *testing.T) {
	writer := &capturingWriter{}
	feed := &Feed{producer: writer, registry: NewRegistry()}

	require.NoError(t, feed.Notify(context.Background(), "alice"))
	require.Len(t, writer.messages, 1)
	require.Equal(t, "alice", string(writer.messages[0].Key))
	require.Contains(t, string(writer.messages[0].Value), `"diaryKey":"alice"`)
}

type capturingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *capturingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}
