package printer

import "time"

// Transport is the serial line as seen by the communication engine: a
// connect/write/sleep surface the flow controller drives synchronously, and
// a line-oriented read side driven by PrinterTask. Implementations live
// outside this package (see package transport for the real go.bug.st/serial
// adapter); tests use an in-memory fake so the resend path's correctness
// sleeps are observable without real time.
type Transport interface {
	// Connect attempts to open the underlying port. It must not block
	// indefinitely; a failed attempt is retried on the next tick.
	Connect() error

	// IsConnected reports whether the port is currently open.
	IsConnected() bool

	// WriteBytes writes a fully framed packet. Synchronous; may block on
	// the underlying driver.
	WriteBytes(b []byte) error

	// ReadLine blocks for the next newline-terminated response, with the
	// trailing CR/LF stripped. Returns an error when the port closes.
	ReadLine() (string, error)

	// Sleep is a correctness delay, not a convenience wrapper — the resend
	// path depends on it actually elapsing before the next write.
	Sleep(d time.Duration)

	// Close closes the underlying port.
	Close() error
}
