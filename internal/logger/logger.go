package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"

	c "github.com/life-stream-dev/life-stream-go-hub/internal/config"
)

const (
	LevelFatal slog.Level = 12
)

// sink is the single writer goroutine shared by a handler and every handler
// derived from it through WithAttrs/WithGroup.
type sink struct {
	ch     chan []byte
	writer io.Writer
	closer io.Closer
	wg     sync.WaitGroup
	once   sync.Once
}

func newSink(writer io.Writer, closer io.Closer) *sink {
	s := &sink{
		ch:     make(chan []byte, 1024),
		writer: writer,
		closer: closer,
	}
	s.wg.Add(1)
	go s.startWorker()
	return s
}

func (s *sink) startWorker() {
	defer s.wg.Done()
	for data := range s.ch {
		_, _ = s.writer.Write(data)
	}
}

func (s *sink) close() error {
	var err error
	s.once.Do(func() {
		close(s.ch)
		s.wg.Wait()
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

type AsyncHandler struct {
	sink     *sink
	attrs    []slog.Attr
	group    string
	logLevel slog.Level
}

// NewAsyncHandler writes to stdout and, when cfg names a directory, to a
// size-rotated file under it.
func NewAsyncHandler(cfg c.LogConfig, logLevel slog.Level) *AsyncHandler {
	var writer io.Writer = os.Stdout
	var closer io.Closer
	if cfg.Directory != "" {
		name := cfg.FileName
		if name == "" {
			name = "hub.log"
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Directory, name),
			MaxSize:    max(cfg.MaxSizeMB, 1),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writer = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}
	return newHandler(writer, closer, logLevel)
}

func newHandler(writer io.Writer, closer io.Closer, logLevel slog.Level) *AsyncHandler {
	return &AsyncHandler{
		sink:     newSink(writer, closer),
		logLevel: logLevel,
	}
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	case LevelFatal:
		level = color.HiRedString("FATAL")
	}

	var line strings.Builder
	fmt.Fprintf(&line, "%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString(r.Message),
	)

	prefix := ""
	if h.group != "" {
		prefix = h.group + "."
	}
	for _, attr := range h.attrs {
		line.WriteString(color.CyanString(" %s%s=%v", prefix, attr.Key, attr.Value))
	}
	r.Attrs(func(attr slog.Attr) bool {
		line.WriteString(color.CyanString(" %s%s=%v", prefix, attr.Key, attr.Value))
		return true
	})
	line.WriteByte('\n')

	h.Write([]byte(line.String()))
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)

	return &AsyncHandler{
		sink:     h.sink,
		attrs:    newAttrs,
		group:    h.group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &AsyncHandler{
		sink:     h.sink,
		attrs:    h.attrs,
		group:    group,
		logLevel: h.logLevel,
	}
}

// Write queues p for the worker. It copies p so callers may reuse it.
func (h *AsyncHandler) Write(p []byte) {
	pb := make([]byte, len(p))
	copy(pb, p)
	defer func() {
		// the sink was closed during shutdown; drop the line
		_ = recover()
	}()
	h.sink.ch <- pb
}

// Close drains pending lines and closes the log file.
func (h *AsyncHandler) Close() error {
	return h.sink.close()
}

type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(ctx context.Context) error {
	return lc.handler.Close()
}

// Init installs an AsyncHandler as the slog default.
func Init(debug bool, cfg c.LogConfig) *ShutdownCallback {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := NewAsyncHandler(cfg, level)
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Debug(msg string, v ...interface{}) {
	slog.Debug(msg, v...)
}

func DebugF(msg string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(msg, v...))
}

func Info(msg string, v ...interface{}) {
	slog.Info(msg, v...)
}

func InfoF(msg string, v ...interface{}) {
	slog.Info(fmt.Sprintf(msg, v...))
}

func Warn(msg string, v ...interface{}) {
	slog.Warn(msg, v...)
}

func WarnF(msg string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(msg, v...))
}

func Error(msg string, v ...interface{}) {
	slog.Error(msg, v...)
}

func ErrorF(msg string, v ...interface{}) {
	slog.Error(fmt.Sprintf(msg, v...))
}

func Fatal(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, msg, v...)
}

func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
