// Package supervisor starts and tracks one PrinterTask per configured
// printer, and is the lookup surface the web/JSON frontend uses to reach a
// printer by slug.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gfermoto/Repetier-Server/printer"
	"github.com/Gfermoto/Repetier-Server/transport"
)

// managedPrinter bundles one printer's running goroutine with the means to
// stop it.
type managedPrinter struct {
	cfg    *printer.Config
	flow   *printer.FlowController
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the full set of configured printers.
type Supervisor struct {
	mu       sync.RWMutex
	printers map[string]*managedPrinter

	// newTransport builds the transport for a given config. Overridable so
	// tests can substitute transport.Fake for the real serial adapter.
	newTransport func(cfg *printer.Config) printer.Transport
}

// New returns an empty Supervisor wired to the real serial transport.
func New() *Supervisor {
	return &Supervisor{
		printers: make(map[string]*managedPrinter),
		newTransport: func(cfg *printer.Config) printer.Transport {
			return transport.NewSerial(cfg.DevicePath, cfg.Baudrate)
		},
	}
}

// SetTransportFactory overrides how each printer's transport is built. Used
// by tests to inject an in-memory fake.
func (s *Supervisor) SetTransportFactory(f func(cfg *printer.Config) printer.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newTransport = f
}

// Start launches one PrinterTask per config, each against its own serial
// transport, and returns once every goroutine has been spawned (not once
// connected — connection happens asynchronously via OnTick).
func (s *Supervisor) Start(cfgs []*printer.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cfg := range cfgs {
		if !cfg.Active {
			continue
		}
		if _, exists := s.printers[cfg.Slug]; exists {
			return fmt.Errorf("supervisor: duplicate printer slug %q", cfg.Slug)
		}

		tr := s.newTransport(cfg)
		respLog := printer.NewResponseLog(1000)
		flow := printer.NewFlowController(cfg, tr, respLog, printer.NewHostCommandRegistry())
		task := printer.NewPrinterTask(flow, tr, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		go func(cfg *printer.Config) {
			defer close(done)
			if err := task.Run(ctx); err != nil {
				// Run only returns non-nil on a logic error, never on an
				// ordinary transport hiccup; OnTick retries those forever.
				fmt.Printf("supervisor: printer %q task exited: %v\n", cfg.Slug, err)
			}
		}(cfg)

		s.printers[cfg.Slug] = &managedPrinter{cfg: cfg, flow: flow, cancel: cancel, done: done}
	}
	return nil
}

// Printer returns the FlowController for slug, or nil if unknown.
func (s *Supervisor) Printer(slug string) *printer.FlowController {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mp, ok := s.printers[slug]
	if !ok {
		return nil
	}
	return mp.flow
}

// Slugs returns every configured printer's slug.
func (s *Supervisor) Slugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.printers))
	for slug := range s.printers {
		out = append(out, slug)
	}
	return out
}

// Stop cancels one printer's task and waits for it to exit.
func (s *Supervisor) Stop(slug string) error {
	s.mu.Lock()
	mp, ok := s.printers[slug]
	if ok {
		delete(s.printers, slug)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("supervisor: unknown printer %q", slug)
	}
	mp.cancel()
	<-mp.done
	return mp.flow.Close()
}

// StopAll cancels every printer's task and waits for all of them to exit.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	slugs := make([]string, 0, len(s.printers))
	for slug := range s.printers {
		slugs = append(slugs, slug)
	}
	s.mu.Unlock()

	for _, slug := range slugs {
		_ = s.Stop(slug)
	}
}
