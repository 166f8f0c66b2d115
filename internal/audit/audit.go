// Package audit delivers one human-readable line per room transition. Delivery
// is fire-and-forget and never part of a room commit.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tuosm9390/minionsbid/internal/engine"
	"github.com/tuosm9390/minionsbid/internal/store"
)

type Entry struct {
	RoomID  uuid.UUID        `json:"room_id"`
	Version int64            `json:"version"`
	Type    engine.EventType `json:"type"`
	Line    string           `json:"line"`
	At      time.Time        `json:"at"`
}

// Entries renders the audit entries for events committed at version.
func Entries(roomID uuid.UUID, version int64, events []engine.Event) []Entry {
	out := make([]Entry, 0, len(events))
	for _, e := range events {
		out = append(out, Entry{RoomID: roomID, Version: version, Type: e.Type, Line: e.AuditLine(), At: e.At})
	}
	return out
}

type Sink interface {
	Record(ctx context.Context, e Entry) error
}

type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

type zapSink struct{ log *zap.Logger }

func NewZapSink(log *zap.Logger) Sink { return zapSink{log: log.Named("audit")} }

func (z zapSink) Record(_ context.Context, e Entry) error {
	z.log.Info(e.Line,
		zap.Stringer("room_id", e.RoomID),
		zap.Int64("version", e.Version),
		zap.String("type", string(e.Type)),
	)
	return nil
}

type storeSink struct{ st store.Store }

// NewStoreSink persists entries as room messages.
func NewStoreSink(st store.Store) Sink { return storeSink{st: st} }

func (s storeSink) Record(ctx context.Context, e Entry) error {
	return s.st.SaveMessage(ctx, store.Message{
		ID:        uuid.New(),
		RoomID:    e.RoomID,
		Kind:      "audit",
		Line:      e.Line,
		CreatedAt: e.At,
	})
}

// Multi records to every sink and combines their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Record(ctx, e))
	}
	return err
}

// Async queues entries for a background writer. Entries are dropped when the
// queue is full so a slow sink never stalls a room.
type Async struct {
	sink    Sink
	log     *zap.Logger
	ch      chan Entry
	timeout time.Duration
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewAsync(sink Sink, size int, log *zap.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	a := &Async{
		sink:    sink,
		log:     log,
		ch:      make(chan Entry, size),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Record(_ context.Context, e Entry) error {
	select {
	case a.ch <- e:
	default:
		a.dropped.Add(1)
		a.log.Warn("audit queue full, dropping entry", zap.Stringer("room_id", e.RoomID), zap.String("line", e.Line))
	}
	return nil
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) run() {
	defer close(a.done)
	for e := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Record(ctx, e); err != nil {
			a.log.Warn("audit sink failed", zap.Stringer("room_id", e.RoomID), zap.Error(err))
		}
		cancel()
	}
}

// Close flushes queued entries. Record must not be called afterwards.
func (a *Async) Close() {
	a.closeOnce.Do(func() { close(a.ch) })
	<-a.done
}
