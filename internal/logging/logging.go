package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mode selects the record format used when constructing a logger.
type Mode int

const (
	// ModeCLI renders compact single-line records for terminal use.
	ModeCLI Mode = iota
	// ModeJSON renders records as JSON objects, one per line.
	ModeJSON
)

// New constructs a logger writing to w using the requested mode.
// A nil level defaults to slog.LevelInfo.
func New(mode Mode, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}

	if mode == ModeJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&cliHandler{writer: w, level: level})
}

// NewCLI constructs a logger that emits human-readable records.
func NewCLI(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeCLI, w, level)
}

// NewJSON constructs a logger that emits structured JSON records.
func NewJSON(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeJSON, w, level)
}

// Ensure returns logger, or the process default when logger is nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// cliHandler renders records as "HH:MM:SS LEVEL message key=value ...".
type cliHandler struct {
	writer io.Writer
	level  slog.Leveler

	mu     sync.Mutex
	attrs  []slog.Attr
	groups []string
}

var _ slog.Handler = (*cliHandler)(nil)

func (h *cliHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *cliHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var line strings.Builder
	line.WriteString(ts.Format("15:04:05"))
	line.WriteByte(' ')
	line.WriteString(levelLabel(record.Level))
	line.WriteByte(' ')
	line.WriteString(record.Message)

	for _, attr := range h.attrs {
		appendAttr(&line, h.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		appendAttr(&line, h.groups, attr)
		return true
	})
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := io.WriteString(h.writer, line.String())
	return err
}

func (h *cliHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	return &cliHandler{
		writer: h.writer,
		level:  h.level,
		attrs:  merged,
		groups: append([]string(nil), h.groups...),
	}
}

func (h *cliHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &cliHandler{
		writer: h.writer,
		level:  h.level,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append(append([]string(nil), h.groups...), name),
	}
}

// levelLabel pads labels so messages line up across levels.
func levelLabel(level slog.Level) string {
	label := strings.ToUpper(level.String())
	if len(label) < 5 {
		label += strings.Repeat(" ", 5-len(label))
	}
	return label
}

func appendAttr(line *strings.Builder, groups []string, attr slog.Attr) {
	value := resolveValue(attr.Value)
	if value.Kind() == slog.KindGroup {
		nested := append(groups, attr.Key)
		for _, member := range value.Group() {
			appendAttr(line, nested, member)
		}
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(append(append([]string(nil), groups...), key), ".")
	}

	line.WriteByte(' ')
	line.WriteString(key)
	line.WriteByte('=')
	line.WriteString(formatValue(value))
}

func formatValue(value slog.Value) string {
	switch value.Kind() {
	case slog.KindString:
		return quoteIfNeeded(value.String())
	case slog.KindInt64:
		return strconv.FormatInt(value.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(value.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(value.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(value.Bool())
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok && err != nil {
			return quoteIfNeeded(err.Error())
		}
		return quoteIfNeeded(fmt.Sprint(value.Any()))
	default:
		return quoteIfNeeded(value.String())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// resolveValue bounds LogValuer expansion so a misbehaving value cannot recurse forever.
func resolveValue(value slog.Value) slog.Value {
	for i := 0; i < 4; i++ {
		if value.Kind() != slog.KindLogValuer {
			return value
		}
		value = value.Resolve()
	}
	return value
}
