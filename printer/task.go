package printer

import (
	"context"
	"errors"
	"log"
	"time"
)

// PrinterTask owns one printer's goroutines: a response pump reading lines
// off the transport as fast as the firmware produces them, and a ticker
// driving periodic liveness polling and queue draining. The FlowController
// does the actual decision-making; PrinterTask just keeps it fed.
type PrinterTask struct {
	fc        *FlowController
	transport Transport
	tick      time.Duration
}

// NewPrinterTask wires a FlowController to the transport it already holds.
// tick is the OnTick period; the original host used one second.
func NewPrinterTask(fc *FlowController, transport Transport, tick time.Duration) *PrinterTask {
	if tick <= 0 {
		tick = time.Second
	}
	return &PrinterTask{fc: fc, transport: transport, tick: tick}
}

// Run blocks until ctx is cancelled, pumping responses and ticks. It never
// returns a non-nil error for an ordinary shutdown (ctx.Err()); transport
// failures are absorbed by the FlowController's own reconnect-on-tick
// logic, so Run keeps retrying rather than exiting.
func (t *PrinterTask) Run(ctx context.Context) error {
	responses := make(chan string)
	readErrs := make(chan error, 1)

	go t.pumpResponses(ctx, responses, readErrs)

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-responses:
			t.fc.OnResponse(line)
		case err := <-readErrs:
			if err != nil {
				log.Printf("printer: read error: %v", err)
			}
		case <-ticker.C:
			t.fc.OnTick()
		}
	}
}

// pumpResponses reads lines off the transport and forwards them, retrying
// ReadLine after a short backoff whenever the port is disconnected rather
// than spinning a hot loop.
func (t *PrinterTask) pumpResponses(ctx context.Context, out chan<- string, errs chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !t.transport.IsConnected() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		line, err := t.transport.ReadLine()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			select {
			case errs <- err:
			case <-ctx.Done():
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
	}
}
