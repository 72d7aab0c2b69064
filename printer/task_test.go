package printer

import (
	"context"
	"testing"
	"time"

	"github.com/Gfermoto/Repetier-Server/transport"
)

func TestPrinterTaskPumpsResponsesIntoFlowController(t *testing.T) {
	fake := transport.NewFake()
	_ = fake.Connect()
	fake.FeedLine("start")
	fake.FeedLine("ok")

	cfg := pingPongConfig()
	log := NewResponseLog(10)
	fc := NewFlowController(cfg, fake, log, nil)
	task := NewPrinterTask(fc, fake, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := task.Run(ctx); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	entries, _ := fc.ResponsesSince(0, LogInfo|LogAck|LogError|LogSent|LogResponse)
	if len(entries) == 0 {
		t.Fatal("expected at least one response to have been logged")
	}
}

func TestPrinterTaskStopsOnContextCancel(t *testing.T) {
	fake := transport.NewFake()
	cfg := pingPongConfig()
	log := NewResponseLog(10)
	fc := NewFlowController(cfg, fake, log, nil)
	task := NewPrinterTask(fc, fake, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected Run to return nil on cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
