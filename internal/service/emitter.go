package service

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"survey/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples services from their front end
// ─────────────────────────────────────────────────────────────

// EventEmitter is an interface for emitting run progress.
// The CLI prints stage lines, the MCP server only logs; tests record.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter logs every event and, when Out is set, prints stage lines
// and run summaries to it.
type LogEmitter struct {
	Logger *zap.Logger
	Out    io.Writer

	mu sync.Mutex
}

func (e *LogEmitter) Emit(_ context.Context, event string, data any) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("event", zap.String("event", event), zap.Any("data", data))
	if e.Out == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch v := data.(type) {
	case StageEvent:
		fmt.Fprintf(e.Out, "%s: %s\n", v.Job, v.Stage)
	case *etl.Result:
		fmt.Fprintln(e.Out, v.Summary())
		for _, sk := range v.Skipped {
			fmt.Fprintf(e.Out, "  skipped %s: %s\n", sk.Location, sk.Reason)
		}
	}
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Named returns the recorded events called event.
func (m *MockEmitter) Named(event string) []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmittedEvent
	for _, e := range m.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
