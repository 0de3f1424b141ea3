package logging

// discardLogger drops all log messages.
type discardLogger struct{}

// Discard is a logger that drops all messages. Useful in tests and for
// callers that want a fully silent engine.
var Discard Logger = discardLogger{}

func (discardLogger) Errorf(format string, args ...any) {}
func (discardLogger) Warnf(format string, args ...any)  {}
func (discardLogger) Infof(format string, args ...any)  {}
func (discardLogger) Debugf(format string, args ...any) {}
