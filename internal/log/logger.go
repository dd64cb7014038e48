package log

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// ParseLevel переводит уровень из конфигурации в slog.Level. Неизвестные значения дают info.
func ParseLevel(level string) slog.Level {
	switch level {
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

// New создает логгер с маскировкой токенов, пишущий в out.
// Формат auto выбирает текст для терминала и JSON во всех остальных случаях.
func New(out *os.File, level, format string) *slog.Logger {
	return NewMaskedLogger(newHandler(out, isTerminal(out), level, format))
}

func newHandler(w io.Writer, terminal bool, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	switch format {
	case "text":
		return slog.NewTextHandler(w, opts)
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		if terminal {
			return slog.NewTextHandler(w, opts)
		}
		return slog.NewJSONHandler(w, opts)
	}
}

func isTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}
