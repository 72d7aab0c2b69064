package supervisor

import (
	"testing"
	"time"

	"github.com/Gfermoto/Repetier-Server/printer"
	"github.com/Gfermoto/Repetier-Server/transport"
)

func fakeTransportFactory(fakes map[string]*transport.Fake) func(*printer.Config) printer.Transport {
	return func(cfg *printer.Config) printer.Transport {
		f := transport.NewFake()
		fakes[cfg.Slug] = f
		return f
	}
}

func TestSupervisorStartsOnePrinterPerConfig(t *testing.T) {
	fakes := make(map[string]*transport.Fake)
	s := New()
	s.SetTransportFactory(fakeTransportFactory(fakes))

	cfgs := []*printer.Config{
		{Slug: "a", Name: "Printer A", DevicePath: "/dev/a", Baudrate: 115200, PingPong: true, ExtruderCount: 1, Active: true},
		{Slug: "b", Name: "Printer B", DevicePath: "/dev/b", Baudrate: 115200, PingPong: true, ExtruderCount: 1, Active: true},
	}

	if err := s.Start(cfgs); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	slugs := s.Slugs()
	if len(slugs) != 2 {
		t.Fatalf("expected 2 running printers, got %d", len(slugs))
	}

	if s.Printer("a") == nil || s.Printer("b") == nil {
		t.Fatal("expected both configured printers to be reachable by slug")
	}
	if s.Printer("nonexistent") != nil {
		t.Error("expected an unknown slug to return nil")
	}

	s.StopAll()
	time.Sleep(20 * time.Millisecond)
	if len(s.Slugs()) != 0 {
		t.Error("expected StopAll to remove every printer")
	}
}

func TestSupervisorSkipsInactivePrinters(t *testing.T) {
	fakes := make(map[string]*transport.Fake)
	s := New()
	s.SetTransportFactory(fakeTransportFactory(fakes))

	cfgs := []*printer.Config{
		{Slug: "idle", DevicePath: "/dev/idle", Baudrate: 115200, ExtruderCount: 1, Active: false},
	}
	if err := s.Start(cfgs); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(s.Slugs()) != 0 {
		t.Error("expected an inactive printer not to be started")
	}
}

func TestSupervisorRejectsDuplicateSlug(t *testing.T) {
	fakes := make(map[string]*transport.Fake)
	s := New()
	s.SetTransportFactory(fakeTransportFactory(fakes))

	cfg := &printer.Config{Slug: "dup", DevicePath: "/dev/a", Baudrate: 115200, ExtruderCount: 1, Active: true}
	if err := s.Start([]*printer.Config{cfg}); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := s.Start([]*printer.Config{cfg}); err == nil {
		t.Fatal("expected an error when starting a duplicate slug")
	}
	s.StopAll()
}
