// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать синхронизацию. Поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const asyncBufferSize = 8192

var (
	mu     sync.RWMutex
	base   zerolog.Logger
	prefix string
	once   sync.Once
)

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func initWorker() {
	var out io.Writer = os.Stderr
	if os.Getenv("LOG_FORMAT") != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true, TimeFormat: time.RFC3339}
	}
	// diode не блокирует вызывающего: при переполнении буфера строки теряются.
	w := diode.NewWriter(out, asyncBufferSize, 10*time.Millisecond, func(missed int) {
		fmt.Fprintf(os.Stderr, "logger: dropped %d messages\n", missed)
	})
	mu.Lock()
	base = zerolog.New(w).Level(parseLevel(os.Getenv("LOG_LEVEL"))).With().Timestamp().Logger()
	mu.Unlock()
}

func get() zerolog.Logger {
	once.Do(initWorker)
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return base
	}
	return base.With().Str("svc", prefix).Logger()
}

// SetPrefix задаёт префикс для всех последующих логов (например "syncd", "syncctl").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel переопределяет уровень, заданный LOG_LEVEL (значение из конфига).
func SetLevel(level string) {
	once.Do(initWorker)
	mu.Lock()
	base = base.Level(parseLevel(level))
	mu.Unlock()
}

func Debugf(format string, v ...any) {
	l := get()
	l.Debug().Msgf(format, v...)
}

// Info пишет сообщение уровня info (асинхронно).
func Info(v ...any) {
	l := get()
	l.Info().Msg(fmt.Sprint(v...))
}

// Infof форматирует и пишет сообщение уровня info (асинхронно).
func Infof(format string, v ...any) {
	l := get()
	l.Info().Msgf(format, v...)
}

func Warnf(format string, v ...any) {
	l := get()
	l.Warn().Msgf(format, v...)
}

// Error пишет ошибку (асинхронно).
func Error(v ...any) {
	l := get()
	l.Error().Msg(fmt.Sprint(v...))
}

// Errorf форматирует ошибку (асинхронно).
func Errorf(format string, v ...any) {
	l := get()
	l.Error().Msgf(format, v...)
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При уровне info логирует только вызовы дольше 100ms; при debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := get()
	if l.GetLevel() <= zerolog.DebugLevel || elapsed >= 100*time.Millisecond {
		l.Info().Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Send()
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("SyncMessages", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
