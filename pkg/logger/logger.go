package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

var defaultLogger *slog.Logger

// modulePackagePrefix identifies log callers that belong to this module
// (cmd/orchestrator, pkg/...) as opposed to a dependency. Dependencies log
// plenty of their own noise (HTTP client retries, SQL driver warnings) that
// is only useful once a human has already reached for DEBUG.
const modulePackagePrefix = "github.com/sobrief/orchestrator"

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", levelStr)
	}
}

// dependencyFilterHandler suppresses log lines emitted from outside this
// module's own packages unless the configured level is DEBUG, so a
// warn/error-level run isn't drowned in a vector store driver's or an LLM
// HTTP client's retry chatter.
type dependencyFilterHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *dependencyFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	// Below DEBUG the final say is in Handle, once the caller PC is known;
	// Enabled only has the level to go on.
	return h.handler.Enabled(ctx, level)
}

func (h *dependencyFilterHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if h.isModulePackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *dependencyFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dependencyFilterHandler{
		handler:  h.handler.WithAttrs(attrs),
		minLevel: h.minLevel,
	}
}

func (h *dependencyFilterHandler) WithGroup(name string) slog.Handler {
	return &dependencyFilterHandler{
		handler:  h.handler.WithGroup(name),
		minLevel: h.minLevel,
	}
}

// isModulePackage reports whether pc's call site belongs to this module
// rather than a dependency in $GOPATH/pkg/mod.
func (h *dependencyFilterHandler) isModulePackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	fullName := fn.Name()
	file, _ := fn.FileLine(pc)
	return strings.Contains(fullName, modulePackagePrefix) ||
		strings.Contains(file, "/orchestrator/pkg/") ||
		strings.Contains(file, "/orchestrator/cmd/")
}

// levelColor returns the ANSI color code used for a log level in terminal output.
func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m" // red
	case level >= slog.LevelWarn:
		return "\033[33m" // yellow
	case level >= slog.LevelInfo:
		return "\033[36m" // cyan
	default:
		return "\033[90m" // gray
	}
}

func isTerminal(file *os.File) bool {
	if fileInfo, err := file.Stat(); err == nil {
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// normalizeLevel maps slog's "WARNING" spelling to the "WARN" the rest of
// this package's formats use.
func normalizeLevel(level slog.Level) string {
	s := strings.ToUpper(level.String())
	if s == "WARNING" {
		return "WARN"
	}
	return s
}

func writeAttrs(buf *strings.Builder, record slog.Record) {
	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})
}

// coloredTextHandler renders level and message with ANSI color, for
// terminal output only (format "simple" or "verbose").
type coloredTextHandler struct {
	handler slog.Handler
	writer  io.Writer
	simple  bool // simple: level + message only. verbose: + timestamp.
}

func (h *coloredTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *coloredTextHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder
	if !h.simple && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}
	buf.WriteString(levelColor(record.Level))
	buf.WriteString(normalizeLevel(record.Level))
	buf.WriteString("\033[0m ")
	buf.WriteString(record.Message)
	writeAttrs(&buf, record)
	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *coloredTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &coloredTextHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer, simple: h.simple}
}

func (h *coloredTextHandler) WithGroup(name string) slog.Handler {
	return &coloredTextHandler{handler: h.handler.WithGroup(name), writer: h.writer, simple: h.simple}
}

// plainSimpleHandler renders level + message + attributes with no
// timestamp and no color, for non-terminal output (redirected to a file or
// piped to another process) in "simple" format.
type plainSimpleHandler struct {
	handler slog.Handler
	writer  io.Writer
}

func (h *plainSimpleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *plainSimpleHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder
	buf.WriteString(normalizeLevel(record.Level))
	buf.WriteString(" ")
	buf.WriteString(record.Message)
	writeAttrs(&buf, record)
	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *plainSimpleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &plainSimpleHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer}
}

func (h *plainSimpleHandler) WithGroup(name string) slog.Handler {
	return &plainSimpleHandler{handler: h.handler.WithGroup(name), writer: h.writer}
}

// Init initializes the package-level logger and installs it as slog's
// default, so any dependency that logs via the standard slog package (not
// just this module's own code) is captured by the same handler chain.
// format is "simple" (level + message), "verbose" (+ timestamp), or
// anything else, which falls back to slog's own TextHandler layout.
func Init(level slog.Level, output *os.File, format string) {
	useColor := isTerminal(output)
	simple := format == "simple" || format == ""
	verbose := format == "verbose"

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String("level", "WARN")
			}
			return a
		},
	}

	baseHandler := slog.NewTextHandler(output, opts)

	var handler slog.Handler = baseHandler
	switch {
	case useColor && (simple || verbose):
		handler = &coloredTextHandler{handler: baseHandler, writer: output, simple: simple}
	case !useColor && simple:
		handler = &plainSimpleHandler{handler: baseHandler, writer: output}
	}

	defaultLogger = slog.New(&dependencyFilterHandler{handler: handler, minLevel: level})
	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens or creates a log file at path for appending, returning
// the file handle and a cleanup func to close it.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

// GetLogger returns the package-level logger, initializing it with
// INFO/simple defaults on first use if Init was never called (e.g. in
// tests that exercise a component without going through cmd/orchestrator).
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}

// ForRun returns a logger pre-bound with the case/run identifiers every
// orchestrator log line keys off (case_id, run_id), the attribute pattern
// pkg/middleware.Logging and pkg/orchestrator use on every step transition.
func ForRun(caseID, runID string) *slog.Logger {
	return GetLogger().With("case_id", caseID, "run_id", runID)
}
