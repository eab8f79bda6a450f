package logging

// LeveledLogger adapts a Logger to the key/value logging interface used by
// HTTP client libraries such as go-retryablehttp.
type LeveledLogger struct {
	l *Logger
}

// Leveled returns a key/value adapter over l.
func (l *Logger) Leveled() LeveledLogger {
	return LeveledLogger{l: l}
}

// Error logs msg with key/value pairs at error level.
func (a LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	a.l.Error().Fields(keysAndValues).Msg(msg)
}

// Warn logs msg with key/value pairs at warn level.
func (a LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	a.l.Warn().Fields(keysAndValues).Msg(msg)
}

// Info logs at debug level; client chatter does not belong in run output.
func (a LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	a.l.Debug().Fields(keysAndValues).Msg(msg)
}

// Debug logs msg with key/value pairs at debug level.
func (a LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	a.l.Debug().Fields(keysAndValues).Msg(msg)
}
