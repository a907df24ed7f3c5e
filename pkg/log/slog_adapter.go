package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes compile events to an slog.Logger.
// Useful for development when you want to see pipeline events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("compile_id", event.CompileID),
		slog.String("stage", event.Stage.String()),
		slog.String("category", event.Category.String()),
	}

	// Add optional identifiers
	if event.Instrument != "" {
		attrs = append(attrs, slog.String("instrument", event.Instrument))
	}
	if event.Pulse != "" {
		attrs = append(attrs, slog.String("pulse", event.Pulse))
	}
	if event.Connection != "" {
		attrs = append(attrs, slog.String("connection", event.Connection))
	}

	// Add type-specific attributes
	switch {
	case event.Target != nil:
		attrs = append(attrs,
			slog.String("kind", event.Target.Kind),
			slog.Float64("t_start", event.Target.TStart),
			slog.Float64("duration", event.Target.Duration),
		)
	case event.Trigger != nil:
		attrs = append(attrs,
			slog.String("source", event.Trigger.Source),
			slog.Float64("t_start", event.Trigger.TStart),
		)
		if event.Trigger.Deduplicated {
			attrs = append(attrs, slog.Bool("deduplicated", true))
		}
	case event.Waveform != nil:
		attrs = append(attrs,
			slog.String("channel", event.Waveform.Channel),
			slog.Int("points", event.Waveform.Points),
			slog.Int("loops", event.Waveform.Loops),
			slog.Int("index", event.Waveform.Index),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_stage", event.Error.Stage.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "compile", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
