// Package transport supplies printer.Transport implementations: a real
// go.bug.st/serial adapter and, for tests, an in-memory fake.
package transport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial opens a real serial port and satisfies printer.Transport.
// Connect/Close may be called repeatedly as the port comes and goes; a
// closed Serial reports IsConnected() == false until Connect succeeds
// again.
type Serial struct {
	devicePath string
	baudrate   int

	mu     sync.Mutex
	port   serial.Port
	reader *bufio.Reader
}

// NewSerial returns a Serial targeting devicePath at baudrate. It does not
// open the port; call Connect.
func NewSerial(devicePath string, baudrate int) *Serial {
	return &Serial{devicePath: devicePath, baudrate: baudrate}
}

// Connect opens the port if it is not already open.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: s.baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.devicePath, mode)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", s.devicePath, err)
	}

	s.port = port
	s.reader = bufio.NewReader(port)
	return nil
}

// IsConnected reports whether the port is currently open.
func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// WriteBytes writes a fully framed packet.
func (s *Serial) WriteBytes(b []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	if port == nil {
		return fmt.Errorf("transport: %s not connected", s.devicePath)
	}
	_, err := port.Write(b)
	if err != nil {
		s.markClosed()
	}
	return err
}

// ReadLine blocks for the next newline-terminated response, CR/LF
// stripped.
func (s *Serial) ReadLine() (string, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()

	if reader == nil {
		return "", fmt.Errorf("transport: %s not connected", s.devicePath)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		s.markClosed()
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Sleep blocks for d. A thin wrapper so the real adapter satisfies
// printer.Transport; tests use a fake that records sleeps instead of
// incurring them.
func (s *Serial) Sleep(d time.Duration) { time.Sleep(d) }

// Close closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.reader = nil
	return err
}

func (s *Serial) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		_ = s.port.Close()
	}
	s.port = nil
	s.reader = nil
}
