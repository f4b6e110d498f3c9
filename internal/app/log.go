package app

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

// MemoryLog keeps the most recent log lines for the api/log endpoint.
var MemoryLog = &lineBuffer{limit: 1000}

// GetLogger returns the root logger, optionally clamped to a module
// specific level from the `log:` config section.
func GetLogger(module string) zerolog.Logger {
	if s, ok := logCfg[module]; ok {
		lvl, err := zerolog.ParseLevel(s)
		if err == nil {
			return Logger.Level(lvl)
		}
		Logger.Warn().Err(err).Caller().Send()
	}

	return Logger
}

// log config keys besides per-module levels:
// - output: stderr, stdout, empty (memory only)
// - format: json, text, color, empty (color when tty)
// - time:   UNIXMS, UNIXMICRO, UNIXNANO, empty (no timestamp)
// - level:  trace, debug, info, warn, error, disabled
var logCfg = map[string]string{
	"format": "",
	"level":  "info",
	"output": "stdout",
	"time":   zerolog.TimeFormatUnixMs,
}

func initLogger() {
	var cfg struct {
		Mod map[string]string `yaml:"log"`
	}
	cfg.Mod = logCfg
	LoadConfig(&cfg)

	timeFormat := logCfg["time"]

	var out io.Writer
	switch logCfg["output"] {
	case "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	}

	if out != nil {
		if format := logCfg["format"]; format != "json" {
			console := &zerolog.ConsoleWriter{Out: out}
			switch format {
			case "text":
				console.NoColor = true
			case "color":
			default:
				console.NoColor = !isatty.IsTerminal(out.(*os.File).Fd())
			}
			if timeFormat != "" {
				console.TimeFormat = "15:04:05.000"
			} else {
				console.PartsOrder = []string{
					zerolog.LevelFieldName,
					zerolog.CallerFieldName,
					zerolog.MessageFieldName,
				}
			}
			out = console
		}
		out = zerolog.MultiLevelWriter(out, MemoryLog)
	} else {
		out = MemoryLog
	}

	lvl, _ := zerolog.ParseLevel(logCfg["level"])
	Logger = zerolog.New(out).Level(lvl)

	if timeFormat != "" {
		zerolog.TimeFieldFormat = timeFormat
		Logger = Logger.With().Timestamp().Logger()
	}
}

// lineBuffer is a bounded ring of complete log lines. zerolog calls
// Write once per event, so each write is one line.
type lineBuffer struct {
	mu    sync.Mutex
	lines [][]byte
	next  int
	limit int
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	line := append([]byte(nil), p...)

	b.mu.Lock()
	if len(b.lines) < b.limit {
		b.lines = append(b.lines, line)
	} else {
		b.lines[b.next] = line
		b.next = (b.next + 1) % b.limit
	}
	b.mu.Unlock()

	return len(p), nil
}

// WriteTo dumps the buffered lines, oldest first.
func (b *lineBuffer) WriteTo(w io.Writer) (n int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < len(b.lines); i++ {
		line := b.lines[(b.next+i)%len(b.lines)]
		nn, err := w.Write(line)
		n += int64(nn)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (b *lineBuffer) Reset() {
	b.mu.Lock()
	b.lines = b.lines[:0]
	b.next = 0
	b.mu.Unlock()
}
