package server

import (
	"context"
	"fmt"
)

// Collect returns the dependencies that can report their own reachability,
// in the order given. Values that do not implement Pinger (a store or
// embedder without a health probe) are skipped, so callers can pass every
// wired component without type-switching themselves.
func Collect(deps ...any) []Pinger {
	pingers := make([]Pinger, 0, len(deps))
	for _, d := range deps {
		if p, ok := d.(Pinger); ok && p != nil {
			pingers = append(pingers, p)
		}
	}
	return pingers
}

// FuncPinger adapts a plain probe function to the Pinger interface.
type FuncPinger struct {
	// Label is returned by Name.
	Label string
	// Probe is called by Ping; nil means always healthy.
	Probe func(ctx context.Context) error
}

// Name returns the dependency label used in readiness responses.
func (p FuncPinger) Name() string { return p.Label }

// Ping runs the probe.
func (p FuncPinger) Ping(ctx context.Context) error {
	if p.Probe == nil {
		return nil
	}
	if err := p.Probe(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.Label, err)
	}
	return nil
}
