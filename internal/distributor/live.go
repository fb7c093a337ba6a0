package distributor

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// Conn is a live subscriber connection that accepts encoded result frames.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

type liveSlot struct {
	conn Conn
}

// LiveChannel tracks at most one attached subscriber connection. Attachment
// is an atomic swap so a push sees either the old or the new connection,
// never a partially attached one.
type LiveChannel struct {
	slot   atomic.Pointer[liveSlot]
	logger *zap.Logger
}

// NewLiveChannel returns a channel with no connection attached.
func NewLiveChannel(logger *zap.Logger) *LiveChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveChannel{logger: logger}
}

// Attach makes conn the push target and closes the connection it replaces.
func (l *LiveChannel) Attach(conn Conn) {
	prev := l.slot.Swap(&liveSlot{conn: conn})
	l.logger.Info("live subscriber attached")
	if prev != nil && prev.conn != conn {
		if err := prev.conn.Close(); err != nil {
			l.logger.Debug("close superseded live connection", zap.Error(err))
		}
	}
}

// Detach clears the slot if conn is still the attached connection.
func (l *LiveChannel) Detach(conn Conn) bool {
	cur := l.slot.Load()
	if cur == nil || cur.conn != conn {
		return false
	}
	if !l.slot.CompareAndSwap(cur, nil) {
		return false
	}
	l.logger.Info("live subscriber detached")
	return true
}

// Connected reports whether a connection is attached.
func (l *LiveChannel) Connected() bool {
	return l.slot.Load() != nil
}

// Push sends the result to the attached connection and reports whether it
// was delivered. Failures are logged, not returned. A send that hits a
// connection closed by a concurrent Attach is retried once on the new one.
func (l *LiveChannel) Push(result moderation.AnalysisResult) bool {
	cur := l.slot.Load()
	if cur == nil {
		l.logger.Debug("no live subscriber", zap.String("content_id", result.ContentID))
		return false
	}
	payload, err := moderation.Encode(result)
	if err != nil {
		l.logger.Warn("encode live frame", zap.String("content_id", result.ContentID), zap.Error(err))
		return false
	}
	err = cur.conn.Send(payload)
	if errors.Is(err, ErrConnClosed) {
		if next := l.slot.Load(); next != nil && next != cur {
			err = next.conn.Send(payload)
		}
	}
	if err != nil {
		l.logger.Warn("live push failed",
			zap.String("stage", "push"),
			zap.String("content_id", result.ContentID),
			zap.Error(err))
		return false
	}
	return true
}

// Consume implements Sink.
func (l *LiveChannel) Consume(result moderation.AnalysisResult) error {
	l.Push(result)
	return nil
}

// Close detaches and closes the current connection, if any.
func (l *LiveChannel) Close() error {
	prev := l.slot.Swap(nil)
	if prev == nil {
		return nil
	}
	return prev.conn.Close()
}
