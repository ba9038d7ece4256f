package onnx

import (
	"context"
	"fmt"
)

// graphRunner is the slice of Runner the decoder and codec depend on, kept
// narrow so tests can substitute scripted graphs.
type graphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
}

// Engine owns one ORT runner per manifest graph and hands them out by name.
type Engine struct {
	manager *SessionManager
	runners map[string]*Runner
}

// NewEngine loads the bundle manifest and opens an ORT session for every
// graph it lists.
func NewEngine(manifestPath string, cfg RunnerConfig) (*Engine, error) {
	manager, err := NewSessionManager(manifestPath)
	if err != nil {
		return nil, err
	}

	runners := make(map[string]*Runner)

	for _, meta := range manager.Sessions() {
		runner, err := NewRunner(meta, cfg)
		if err != nil {
			for _, r := range runners {
				r.Close()
			}

			return nil, fmt.Errorf("open graph %q: %w", meta.Name, err)
		}

		runners[meta.Name] = runner
	}

	return &Engine{manager: manager, runners: runners}, nil
}

// Runner returns the opened runner for a graph name.
func (e *Engine) Runner(name string) (*Runner, bool) {
	r, ok := e.runners[name]

	return r, ok
}

// HasGraph reports whether the loaded bundle contains a graph.
func (e *Engine) HasGraph(name string) bool {
	_, ok := e.runners[name]

	return ok
}

// Sessions returns the manifest metadata for every loaded graph.
func (e *Engine) Sessions() []Session {
	return e.manager.Sessions()
}

// Close releases every runner. Safe to call multiple times.
func (e *Engine) Close() {
	for _, r := range e.runners {
		r.Close()
	}

	e.runners = map[string]*Runner{}
}
