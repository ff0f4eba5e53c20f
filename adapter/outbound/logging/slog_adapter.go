package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/synapse-project/transport-core/domain/port/outbound"
)

var _ outbound.Logger = (*SlogAdapter)(nil)

// LogLevel mirrors slog's levels in the order the Manager's hot paths
// care about: Error is always emitted, Debug only when enabled.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// LogMessage is a single queued entry awaiting asynchronous processing.
type LogMessage struct {
	Level LogLevel
	Msg   string
	Args  []any
	Time  time.Time
}

// SlogAdapter implements outbound.Logger over log/slog with asynchronous
// processing: callers never block on I/O, since Send/breaker-transition
// hot paths cannot afford to wait on a writer.
type SlogAdapter struct {
	logger    *slog.Logger
	logChan   chan LogMessage
	ctx       context.Context
	cancel    context.CancelFunc
	slogLevel *slog.LevelVar
	minLevel  LogLevel
}

// NewSlogAdapter builds a SlogAdapter writing JSON lines to w at the
// given minimum level. channelSize bounds how many pending log entries
// may queue before new ones are dropped.
func NewSlogAdapter(w io.Writer, level string, channelSize int) *SlogAdapter {
	if w == nil {
		w = os.Stdout
	}
	if channelSize <= 0 {
		channelSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	levelVar := &slog.LevelVar{}
	levelVar.Set(parseSlogLevel(level))

	adapter := &SlogAdapter{
		logger:    slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})),
		logChan:   make(chan LogMessage, channelSize),
		ctx:       ctx,
		cancel:    cancel,
		slogLevel: levelVar,
		minLevel:  parseLevel(level),
	}

	go adapter.processLogs()
	return adapter
}

// UpdateLevel changes the minimum emitted level at runtime.
func (s *SlogAdapter) UpdateLevel(level string) {
	s.slogLevel.Set(parseSlogLevel(level))
	s.minLevel = parseLevel(level)
	s.Info("logger level updated", "new_level", strings.ToLower(level))
}

func (s *SlogAdapter) processLogs() {
	for {
		select {
		case msg := <-s.logChan:
			s.writeLog(msg)
		case <-s.ctx.Done():
			for len(s.logChan) > 0 {
				s.writeLog(<-s.logChan)
			}
			return
		}
	}
}

func parseSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (s *SlogAdapter) writeLog(msg LogMessage) {
	switch msg.Level {
	case LevelError:
		s.logger.Error(msg.Msg, msg.Args...)
	case LevelWarn:
		s.logger.Warn(msg.Msg, msg.Args...)
	case LevelInfo:
		s.logger.Info(msg.Msg, msg.Args...)
	case LevelDebug:
		s.logger.Debug(msg.Msg, msg.Args...)
	}
}

func (s *SlogAdapter) sendLog(level LogLevel, msg string, args ...any) {
	select {
	case s.logChan <- LogMessage{Level: level, Msg: msg, Args: args, Time: time.Now()}:
	default:
		// queue full; dropping a log line beats blocking a send hot path
	}
}

func (s *SlogAdapter) shouldLog(level LogLevel) bool { return level <= s.minLevel }

func (s *SlogAdapter) Error(msg string, args ...any) {
	if s.shouldLog(LevelError) {
		s.sendLog(LevelError, msg, args...)
	}
}

func (s *SlogAdapter) Warn(msg string, args ...any) {
	if s.shouldLog(LevelWarn) {
		s.sendLog(LevelWarn, msg, args...)
	}
}

func (s *SlogAdapter) Info(msg string, args ...any) {
	if s.shouldLog(LevelInfo) {
		s.sendLog(LevelInfo, msg, args...)
	}
}

func (s *SlogAdapter) Debug(msg string, args ...any) {
	if s.shouldLog(LevelDebug) {
		s.sendLog(LevelDebug, msg, args...)
	}
}

// Shutdown stops the background consumer after draining any queued logs.
func (s *SlogAdapter) Shutdown() {
	s.cancel()
}
