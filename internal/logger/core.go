package logger

import (
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// BufferCore is a zapcore.Core that captures entries into a Buffer and
// hands each one to an optional callback (used to stream logs to clients).
type BufferCore struct {
	zapcore.LevelEnabler
	buf    *Buffer
	fields []zapcore.Field
	// shared by every core derived through With
	sink *atomic.Pointer[func(Entry)]
}

// NewBufferCore creates a core recording entries at or above level.
func NewBufferCore(buf *Buffer, level zapcore.LevelEnabler, onEntry func(Entry)) *BufferCore {
	c := &BufferCore{LevelEnabler: level, buf: buf, sink: &atomic.Pointer[func(Entry)]{}}
	c.SetOnEntry(onEntry)
	return c
}

// SetOnEntry replaces the callback for this core and every core derived from it.
func (c *BufferCore) SetOnEntry(fn func(Entry)) {
	if fn == nil {
		c.sink.Store(nil)
		return
	}
	c.sink.Store(&fn)
}

func (c *BufferCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *BufferCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *BufferCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	entry := Entry{
		Timestamp: ent.Time,
		Level:     ent.Level.String(),
		Logger:    ent.LoggerName,
		Message:   ent.Message,
	}
	if len(enc.Fields) > 0 {
		entry.Fields = enc.Fields
	}

	err := c.buf.Add(entry)
	if fn := c.sink.Load(); fn != nil {
		(*fn)(entry)
	}
	return err
}

func (c *BufferCore) Sync() error {
	return c.buf.Flush()
}
