package logging

import (
	"fmt"
	"os"
	"strings"
)

// envVar overrides per-tag log levels at startup, independently of the
// config file's log_level field or -log-level flag, e.g.
// RTSPCAM_LOGLEVEL=rtspserver=debug,rtsp=trace,warn (the last bare level
// with no "tag=" prefix sets the default for every other tag).
const envVar = "RTSPCAM_LOGLEVEL"

// defaultLevel is the level new loggers fall back to when their tag has no
// entry in tagLevels. RTSPCAM_LOGLEVEL's bare-level directive (or
// logging.DefaultLogger.Level being set directly, e.g. from the config
// file's log_level) can override it.
var defaultLevel = Info

var tagLevels []struct {
	tag   string
	level Level
}

func init() {
	// Parse environment variable into comma-separated "tag=level" directives.
	// If "tag=" is absent, use the level as the default.
	for _, d := range strings.Split(os.Getenv(envVar), ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		levelString := v[len(v)-1]
		if level, err := ParseLevel(levelString); err != nil {
			fmt.Fprintf(os.Stderr, "invalid %s directive %q: %s\n", envVar, d, err)
		} else {
			if len(v) == 1 {
				defaultLevel = level
			} else {
				tagLevels = append(tagLevels, struct {
					tag   string
					level Level
				}{v[0], level})
			}
		}
	}

	DefaultLogger.Level = defaultLevel
}

func determineLevel(tag string, fallback Level) Level {
	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level
		}
	}
	return fallback
}
