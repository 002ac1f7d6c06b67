package l4angles

// debugLogger, when set, receives verbose per-frame diagnostics. Nil keeps
// the hot path silent.
var debugLogger func(format string, args ...interface{})

// SetDebugLogger installs a verbose diagnostics sink; pass nil to disable.
func SetDebugLogger(fn func(format string, args ...interface{})) {
	debugLogger = fn
}

func debugf(format string, args ...interface{}) {
	if debugLogger != nil {
		debugLogger(format, args...)
	}
}
