package log

// Logger receives the events the compilation pipeline emits at every stage.
// The layout calls Log synchronously from the targeting and setup paths, so
// implementations must be thread-safe and should return quickly; a slow sink
// slows the compile.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops every event. The zero value is ready to use; the layout
// substitutes it when constructed with a nil logger.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
