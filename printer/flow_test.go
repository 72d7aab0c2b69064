package printer

import (
	"strings"
	"testing"

	"github.com/Gfermoto/Repetier-Server/transport"
)

func newTestFlow(cfg *Config) (*FlowController, *transport.Fake, *ResponseLog) {
	fake := transport.NewFake()
	_ = fake.Connect()
	log := NewResponseLog(100)
	fc := NewFlowController(cfg, fake, log, nil)
	return fc, fake, log
}

func pingPongConfig() *Config {
	return &Config{
		Name: "test", Slug: "test", DevicePath: "/dev/null", Baudrate: 115200,
		PingPong: true, ExtruderCount: 1,
	}
}

func cacheConfig(size uint16) *Config {
	return &Config{
		Name: "test", Slug: "test", DevicePath: "/dev/null", Baudrate: 115200,
		PingPong: false, ReceiveCacheSize: size, ExtruderCount: 1,
	}
}

func lastWritten(fake *transport.Fake) string {
	if len(fake.Written) == 0 {
		return ""
	}
	return string(fake.Written[len(fake.Written)-1])
}

func TestFlowControllerWaitsForBootBeforeSending(t *testing.T) {
	fc, fake, _ := newTestFlow(pingPongConfig())

	fc.EnqueueManual("G28")
	if len(fake.Written) != 0 {
		t.Fatalf("expected no send before the firmware reports ready, got %d writes", len(fake.Written))
	}

	fc.OnResponse("start")
	if len(fake.Written) != 1 {
		t.Fatalf("expected the queued command to send once boot is seen, got %d writes", len(fake.Written))
	}
	if !strings.Contains(lastWritten(fake), "G28") {
		t.Errorf("expected the sent frame to contain G28, got %q", lastWritten(fake))
	}
}

func TestPingPongGatesOneCommandAtATime(t *testing.T) {
	fc, fake, _ := newTestFlow(pingPongConfig())
	fc.OnResponse("start")

	fc.EnqueueManual("G28")
	fc.EnqueueManual("G1 X10")

	if len(fake.Written) != 1 {
		t.Fatalf("expected only the first command to be sent, got %d writes", len(fake.Written))
	}

	fc.OnResponse("ok")
	if len(fake.Written) != 2 {
		t.Fatalf("expected the second command to send after ok, got %d writes", len(fake.Written))
	}
	if !strings.Contains(lastWritten(fake), "X10") {
		t.Errorf("expected second frame to contain X10, got %q", lastWritten(fake))
	}
}

func TestCacheWindowBlocksWhenFull(t *testing.T) {
	const line = "G1 X1 Y1 Z1 E1 F1500"

	// Compute the exact framed length the first command will occupy, so the
	// cache window can be sized to admit exactly one in flight at a time.
	probe := Parse(line)
	probe.SetN(1)
	frameLen := probe.ToASCII(true, true).Len()

	fc, fake, _ := newTestFlow(cacheConfig(uint16(frameLen)))
	fc.OnResponse("start")

	fc.EnqueueManual(line)
	if len(fake.Written) != 1 {
		t.Fatalf("expected the first command to fit exactly and send, got %d writes", len(fake.Written))
	}

	fc.EnqueueManual(line)
	if len(fake.Written) != 1 {
		t.Fatalf("expected the second command to be held back by the full cache window, got %d writes", len(fake.Written))
	}

	fc.OnResponse("ok")
	if len(fake.Written) != 2 {
		t.Fatalf("expected the held command to send once cache space freed up, got %d writes", len(fake.Written))
	}
}

func TestResendDrainsHistoryFromRequestedLine(t *testing.T) {
	fc, fake, _ := newTestFlow(pingPongConfig())
	fc.OnResponse("start")

	fc.EnqueueManual("G1 X1") // N=1
	fc.OnResponse("ok")
	fc.EnqueueManual("G1 X2") // N=2
	fc.OnResponse("ok")
	fc.EnqueueManual("G1 X3") // N=3
	fc.OnResponse("ok")

	if fc.ResendsPending() {
		t.Fatal("sanity: no resend should be pending yet")
	}

	fc.OnResponse("Resend:2")

	if !fc.ResendsPending() {
		t.Fatal("expected a resend to be pending after a Resend: request")
	}
	// resendLine() sets readyForNextSend and trySendNext immediately resends
	// line 2.
	if !strings.Contains(lastWritten(fake), "N2 ") {
		t.Errorf("expected line 2 to be resent first, got %q", lastWritten(fake))
	}

	fc.OnResponse("ok")
	if !strings.Contains(lastWritten(fake), "N3 ") {
		t.Errorf("expected line 3 to resend next after ok, got %q", lastWritten(fake))
	}

	fc.OnResponse("ok")
	if fc.ResendsPending() {
		t.Error("expected the resend queue to drain after both lines were acked")
	}
}

func TestFirmwareRebootResetsStateAndSignalsJobAbandoned(t *testing.T) {
	fc, _, _ := newTestFlow(pingPongConfig())
	fc.OnResponse("start")
	fc.EnqueueManual("G1 X5")
	fc.OnResponse("ok")

	fc.OnResponse("start")

	if fc.State().X != 0 {
		t.Errorf("expected coordinates reset after reboot, got X=%v", fc.State().X)
	}

	select {
	case <-fc.JobAbandoned():
	default:
		t.Error("expected a job-abandoned signal after a firmware reboot")
	}
}

func TestPausePreventsJobCommandsNotManual(t *testing.T) {
	fc, fake, _ := newTestFlow(pingPongConfig())
	fc.OnResponse("start")
	fc.Pause(true)

	fc.EnqueueJob("G1 X1")
	fc.trySendNext()
	if len(fake.Written) != 0 {
		t.Fatalf("expected job commands to be held while paused, got %d writes", len(fake.Written))
	}

	fc.EnqueueManual("M105")
	if len(fake.Written) != 1 {
		t.Fatalf("expected manual commands to still send while paused, got %d writes", len(fake.Written))
	}
}

func TestSnapshotReportsOnlineAndCounters(t *testing.T) {
	fc, _, _ := newTestFlow(pingPongConfig())
	fc.OnResponse("start")
	fc.EnqueueManual("G28")

	snap := fc.Snapshot()
	if !snap.Online {
		t.Error("expected Online true for a connected fake transport")
	}
	if snap.LinesSent != 1 {
		t.Errorf("expected LinesSent 1, got %d", snap.LinesSent)
	}
	if snap.BytesSent == 0 {
		t.Error("expected BytesSent to be nonzero after a send")
	}
}

func TestResponsesSinceDelegatesToLog(t *testing.T) {
	fc, _, log := newTestFlow(pingPongConfig())
	fc.OnResponse("start")

	entries, cursor := fc.ResponsesSince(0, LogInfo|LogError|LogAck|LogSent|LogResponse)
	if len(entries) == 0 {
		t.Fatal("expected at least the start response to be logged")
	}
	if cursor == 0 {
		t.Error("expected a nonzero cursor after matching entries")
	}
	_ = log
}
