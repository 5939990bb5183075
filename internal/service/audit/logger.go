package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

const (
	DefaultBufferSize    = 10000
	DefaultRetentionDays = 30
	DefaultQueueSize     = 1024
	DefaultSinkTimeout   = 5 * time.Second
)

// Config holds configuration for the audit logger
type Config struct {
	// BufferSize bounds the in-memory ring used for ad-hoc queries
	BufferSize int `mapstructure:"buffer_size" validate:"gte=0"`

	// RetentionDays is how long entries are kept before purge
	RetentionDays int `mapstructure:"retention_days" validate:"gte=0"`

	// EmitStructured writes every entry as a JSON record to the process log
	// stream for an external collector
	EmitStructured bool `mapstructure:"emit_structured"`

	// QueueSize is the capacity of the asynchronous sink queue
	QueueSize int `mapstructure:"queue_size" validate:"gte=0"`

	// SinkTimeout bounds one sink write
	SinkTimeout time.Duration `mapstructure:"sink_timeout" validate:"gte=0"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:     DefaultBufferSize,
		RetentionDays:  DefaultRetentionDays,
		EmitStructured: true,
		QueueSize:      DefaultQueueSize,
		SinkTimeout:    DefaultSinkTimeout,
	}
}

// Sink durably persists audit entries outside the process
type Sink interface {
	Write(ctx context.Context, entry *model.AuditLog) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, entry *model.AuditLog) error

func (f SinkFunc) Write(ctx context.Context, entry *model.AuditLog) error {
	return f(ctx, entry)
}

type namedSink struct {
	name string
	sink Sink
}

// Logger is the process-wide append-only audit sink.
//
// Every entry is appended to the in-memory ring synchronously. Sink writes
// happen on a background goroutine; when its queue is full the entry is
// written synchronously instead of being dropped.
type Logger struct {
	config Config
	now    func() time.Time
	zl     zerolog.Logger
	m      *metrics.Metrics

	mu    sync.RWMutex
	ring  []*model.AuditLog
	head  int // index of the oldest entry
	count int

	sinks []namedSink
	queue chan *model.AuditLog

	sendMu   sync.RWMutex
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customises a Logger
type Option func(*Logger)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithZerolog sets the logger used for structured emission and diagnostics
func WithZerolog(zl zerolog.Logger) Option {
	return func(l *Logger) { l.zl = zl }
}

// WithMetrics attaches prometheus collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Logger) { l.m = m }
}

// WithSink registers a durable sink
func WithSink(name string, s Sink) Option {
	return func(l *Logger) {
		if s != nil {
			l.sinks = append(l.sinks, namedSink{name: name, sink: s})
		}
	}
}

// NewLogger creates a new audit logger and starts its sink writer
func NewLogger(config Config, opts ...Option) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = DefaultRetentionDays
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.SinkTimeout <= 0 {
		config.SinkTimeout = DefaultSinkTimeout
	}

	l := &Logger{
		config: config,
		now:    time.Now,
		zl:     log.Logger,
		ring:   make([]*model.AuditLog, config.BufferSize),
		queue:  make(chan *model.AuditLog, config.QueueSize),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.writer()

	return l
}

// Config returns the effective configuration
func (l *Logger) Config() Config {
	return l.config
}

// Log records entry. It never fails: the timestamp and id are stamped here
// and the entry always enters the in-memory buffer.
func (l *Logger) Log(ctx context.Context, entry model.AuditLog) {
	defer func() {
		if r := recover(); r != nil {
			l.zl.Error().Interface("panic", r).Str("action", entry.Action).Msg("audit log write panicked")
		}
	}()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = model.AuditStatusSuccess
	}
	if meta, ok := requestMetaFrom(ctx); ok {
		if entry.IPAddress == "" {
			entry.IPAddress = meta.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = meta.UserAgent
		}
		if meta.RequestID != "" {
			entry.Details = withDetail(entry.Details, "request_id", meta.RequestID)
		}
	}

	e := &entry
	l.append(e)

	if l.m != nil {
		l.m.AuditEvents.WithLabelValues(e.Action, string(e.Status)).Inc()
	}

	if l.config.EmitStructured {
		l.emit(e)
	}

	l.enqueue(e)
}

func (l *Logger) append(e *model.AuditLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// stamped under the lock so the ring stays ordered by time
	e.Timestamp = l.now()

	size := len(l.ring)
	if l.count < size {
		l.ring[(l.head+l.count)%size] = e
		l.count++
	} else {
		l.ring[l.head] = e
		l.head = (l.head + 1) % size
	}

	if l.m != nil {
		l.m.AuditBufferSize.Set(float64(l.count))
	}
}

func (l *Logger) emit(e *model.AuditLog) {
	data, err := json.Marshal(e)
	if err != nil {
		l.zl.Error().Err(err).Str("audit_id", e.ID).Msg("failed to marshal audit entry")
		return
	}
	l.zl.Info().
		Str("log_type", "audit").
		RawJSON("audit", data).
		Msg("audit event")
}

func (l *Logger) enqueue(e *model.AuditLog) {
	if len(l.sinks) == 0 {
		return
	}

	l.sendMu.RLock()
	if !l.closed {
		select {
		case l.queue <- e:
			l.sendMu.RUnlock()
			return
		default:
		}
	}
	l.sendMu.RUnlock()

	// queue full or logger closed: degrade to a synchronous write
	if l.m != nil {
		l.m.AuditSyncWrites.Inc()
	}
	l.writeSinks(e)
}

func (l *Logger) writer() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.queue:
					l.writeSinks(e)
				default:
					return
				}
			}
		case e := <-l.queue:
			l.writeSinks(e)
		}
	}
}

func (l *Logger) writeSinks(e *model.AuditLog) {
	for _, s := range l.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), l.config.SinkTimeout)
		err := s.sink.Write(ctx, e)
		cancel()
		if err != nil {
			if l.m != nil {
				l.m.AuditSinkErrors.WithLabelValues(s.name).Inc()
			}
			l.zl.Error().Err(err).
				Str("sink", s.name).
				Str("audit_id", e.ID).
				Msg("failed to write audit entry to sink")
		}
	}
}

// Close stops accepting asynchronous sink writes and flushes the queue
func (l *Logger) Close() error {
	l.sendMu.Lock()
	l.closed = true
	l.sendMu.Unlock()

	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
	return nil
}

func withDetail(details map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
