package logging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Level is a logging level. Higher values indicate more verbosity.
type Level int

const (
	Error Level = iota - 2
	Warn
	Info
	Debug

	// MaxLevel is the most verbose numeric trace level this server accepts
	// for log_level / -log-level, e.g. for packet-by-packet RTP tracing.
	MaxLevel Level = 9
)

// ParseLevel parses a level name ("error", "warn", "info", "debug",
// "trace") or an explicit numeric level (-2 to 9), as accepted by the
// config file's log_level field and the -log-level flag.
func ParseLevel(s string) (level Level, err error) {
	// First check for well-known level names or abbreviations.
	switch strings.ToUpper(s) {
	case "E", "ERROR":
		return Error, nil
	case "W", "WARN":
		return Warn, nil
	case "I", "INFO":
		return Info, nil
	case "D", "DEBUG":
		return Debug, nil
	case "T", "TRACE":
		return MaxLevel, nil
	}

	// Otherwise expect an explicit numeric level.
	if n, ierr := strconv.Atoi(s); ierr != nil {
		err = errors.New("invalid logging level: " + s)
	} else {
		level = Level(n)
		if level < Error || level > MaxLevel {
			err = errors.New("numeric level out of range: " + s)
		}
	}
	return
}

var levelToName = map[Level]string{
	Error: "Error",
	Warn:  "Warn",
	Info:  "Info",
	Debug: "Debug",
}

func (l Level) String() string {
	if name, ok := levelToName[l]; ok {
		return name
	} else {
		return fmt.Sprintf("Trace(%d)", l)
	}
}

// Letter returns the single-character abbreviation shown in each log line,
// e.g. 'E' for Error or a digit for a numeric trace level above Debug.
func (l Level) Letter() byte {
	return l.letter()
}

func (l Level) letter() byte {
	if l <= Debug {
		return "EWID"[l-Error]
	} else {
		// Allow numeric values up to 9
		return byte('0' + l)
	}
}

// color returns the ANSI color escape used to highlight this level's
// letter/tag field in Logger.Log.
func (l Level) color() []byte {
	switch {
	case l == Error:
		return ansiBoldRed
	case l == Warn:
		return ansiYellow
	case l == Info:
		return ansiGreen
	default:
		return ansiCyan
	}
}
