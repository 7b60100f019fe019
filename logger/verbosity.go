package logger

import "go.uber.org/zap/zapcore"

// Verbosity levels for the CLI -v count flag.
const (
	VerbosityUser  = 0 // No flags: warnings and errors
	VerbosityInfo  = 1 // -v: + tick summaries, job outcomes
	VerbosityDebug = 2 // -vv: + per-company scheduling decisions, claims
	VerbosityTrace = 3 // -vvv: same zap level, callers may log more
)

// VerbosityToLevel maps verbosity flags (-v, -vv, etc.) to zap log levels
//
//	0 (none)  -> WarnLevel
//	1 (-v)    -> InfoLevel
//	2+ (-vv)  -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// ShouldLogTrace returns true for verbosity >= 3 (-vvv)
func ShouldLogTrace(verbosity int) bool {
	return verbosity >= VerbosityTrace
}

// LevelName returns a human-readable name for verbosity level
func LevelName(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "User"
	case VerbosityInfo:
		return "Info (-v)"
	case VerbosityDebug:
		return "Debug (-vv)"
	default:
		if verbosity >= VerbosityTrace {
			return "Trace (-vvv+)"
		}
		return "Unknown"
	}
}
