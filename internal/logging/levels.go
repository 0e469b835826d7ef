package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Coordinator attempts dump full payloads and
// verdicts at this level.
const TraceLevel = zapcore.Level(-2)

var levelNames = map[string]zapcore.Level{
	"trace":   TraceLevel,
	"debug":   zapcore.DebugLevel,
	"info":    zapcore.InfoLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"error":   zapcore.ErrorLevel,
}

// LevelFromString parses a level name, case-insensitively.
func LevelFromString(level string) (zapcore.Level, error) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		return zapcore.InfoLevel, fmt.Errorf("unknown level %q (want trace, debug, info, warn or error)", level)
	}
	return lvl, nil
}
