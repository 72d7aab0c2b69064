package printer

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// FlowController is the send-gate state machine: it owns every queue,
// the resend history, the nack window/cache-fill counters, and is the
// sole mutator of the write side. All of its public methods are safe for
// concurrent use; internally, every mutation happens under one mutex
// (mirroring the original's sendMutex). ResponseLog has its own lock,
// always innermost: it may be taken while this one is held, never the
// reverse.
type FlowController struct {
	cfg       *Config
	state     *State
	log       *ResponseLog
	transport Transport
	hostCmds  *HostCommandRegistry

	mu sync.Mutex

	manualCommands deque[string]
	jobCommands    deque[string]
	resendLines    deque[*GCode]
	history        deque[*GCode]
	nackWindow     deque[uint16]

	receiveCacheFill uint16
	receiveCacheSize uint16 // mutable copy of cfg.ReceiveCacheSize; may shrink adaptively
	readyForNextSend bool

	paused         bool
	garbageCleared bool
	ignoreNextOk   bool

	resendError    int
	errorsReceived int

	lastCommandSentAt time.Time
	linesSent         uint64
	bytesSent         uint64

	jobAbandoned chan struct{}
}

// NewFlowController builds a FlowController for one printer. transport is
// owned exclusively by the caller's PrinterTask; no other goroutine may
// touch it directly.
func NewFlowController(cfg *Config, transport Transport, log *ResponseLog, hostCmds *HostCommandRegistry) *FlowController {
	if hostCmds == nil {
		hostCmds = NewHostCommandRegistry()
	}
	return &FlowController{
		cfg:              cfg,
		state:            NewState(cfg.ExtruderCount),
		log:              log,
		transport:        transport,
		hostCmds:         hostCmds,
		receiveCacheSize: cfg.ReceiveCacheSize,
		readyForNextSend: true,
		jobAbandoned:     make(chan struct{}, 1),
	}
}

// State exposes the derived printer state for read access by collaborators
// that need it directly (e.g. a status endpoint richer than Snapshot).
func (fc *FlowController) State() *State { return fc.state }

// JobAbandoned fires when a firmware reboot is detected mid-print. The core
// does not own job files; this only signals that any running job should be
// considered lost.
func (fc *FlowController) JobAbandoned() <-chan struct{} { return fc.jobAbandoned }

func (fc *FlowController) notifyJobAbandoned() {
	select {
	case fc.jobAbandoned <- struct{}{}:
	default:
	}
}

// EnqueueManual appends a user-entered command and immediately attempts a
// send, since manual commands are high priority and the caller is likely
// waiting on the result.
func (fc *FlowController) EnqueueManual(line string) {
	fc.mu.Lock()
	fc.manualCommands.PushBack(line)
	fc.mu.Unlock()
	fc.trySendNext()
}

// EnqueueJob appends a print-job command. No send is attempted here; more
// lines from the same job will follow shortly and the tick keeps the
// pipeline fed regardless.
func (fc *FlowController) EnqueueJob(line string) {
	fc.mu.Lock()
	fc.jobCommands.PushBack(line)
	fc.mu.Unlock()
}

// Pause suppresses job commands without affecting manual commands or
// resends.
func (fc *FlowController) Pause(p bool) {
	fc.mu.Lock()
	fc.paused = p
	fc.mu.Unlock()
}

// ResendsPending reports whether a firmware-requested retransmission is
// still in flight.
func (fc *FlowController) ResendsPending() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.resendLines.Len() > 0
}

// Close closes the underlying transport. The FlowController itself holds
// no other closeable resources.
func (fc *FlowController) Close() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.transport.Close()
}

// OnTick is called roughly once a second. If disconnected it asks the
// transport to reconnect; otherwise it tops up a liveness query and
// attempts a send, keeping the firmware's buffer fed even when nothing new
// has been enqueued.
func (fc *FlowController) OnTick() {
	if !fc.transport.IsConnected() {
		_ = fc.transport.Connect()
		return
	}

	fc.mu.Lock()
	short := fc.manualCommands.Len() < 5
	fc.mu.Unlock()

	if short {
		fc.EnqueueManual("M105")
	}
	fc.trySendNext()
}

// OnResponse classifies one firmware reply line, updates derived state and
// flow-control bookkeeping, logs it, and always attempts a further send —
// matching the original host's unconditional "log then try to send more"
// tail on every response, regardless of kind.
func (fc *FlowController) OnResponse(line string) {
	line = stripLeadingControl(line)
	parsed := Classify(line)

	var logType uint8
	fc.mu.Lock()
	fc.state.AnalyzeResponse(line, &logType)

	switch parsed.Kind {
	case KindFirmwareReboot:
		logType |= LogInfo
		fc.state.Reset()
		fc.history.Clear()
		fc.nackWindow.Clear()
		fc.receiveCacheFill = 0
		fc.readyForNextSend = true
		fc.garbageCleared = true
		fc.notifyJobAbandoned()

	case KindResendRequest:
		logType |= LogError

	case KindOk:
		logType |= LogAck
		fc.garbageCleared = true
		if fc.ignoreNextOk {
			fc.ignoreNextOk = false
		} else {
			if fc.cfg.PingPong {
				fc.readyForNextSend = true
			} else if n, ok := fc.nackWindow.PopFront(); ok {
				if n <= fc.receiveCacheFill {
					fc.receiveCacheFill -= n
				} else {
					fc.receiveCacheFill = 0
				}
			}
			fc.resendError = 0
		}

	case KindWait:
		logType |= LogAck
		if time.Since(fc.lastCommandSentAt) > 5*time.Second {
			if fc.cfg.PingPong {
				fc.readyForNextSend = true
			} else {
				fc.nackWindow.Clear()
				fc.receiveCacheFill = 0
			}
		}
		fc.resendError = 0

	case KindError:
		logType |= LogError

	default:
		logType |= LogInfo
	}
	fc.mu.Unlock()

	fc.log.Push(line, logType)

	if parsed.Kind == KindResendRequest {
		fc.resendLine(parsed.Line)
	}
	fc.trySendNext()
}

// resendLine rebuilds resendLines from history starting at the requested
// line number, resets the nack window/ping-pong gate, and drains the
// firmware's UART FIFO with the correctness sleeps the protocol requires.
// It holds the send lock for its entire duration, including the sleeps:
// no other send may interleave with a resend drain in progress.
func (fc *FlowController) resendLine(line uint16) {
	fc.mu.Lock()

	fc.ignoreNextOk = fc.cfg.OkAfterResend
	fc.resendError++
	fc.errorsReceived++

	if !fc.cfg.PingPong && fc.errorsReceived == 3 && fc.receiveCacheSize > 63 {
		fc.receiveCacheSize = 63
	}

	if fc.cfg.PingPong {
		fc.readyForNextSend = true
	} else {
		fc.nackWindow.Clear()
		fc.receiveCacheFill = 0
	}

	if fc.resendError > 5 {
		_ = fc.transport.Close()
		fc.mu.Unlock()
		return
	}

	fc.resendLines.Clear()
	adding := false
	for _, gc := range fc.history.Items() {
		if gc.HasN() && gc.N() == line {
			adding = true
		}
		if adding {
			fc.resendLines.PushBack(gc)
		}
	}

	if fc.cfg.BinaryProtocol {
		delay := baudDelay(320000, fc.cfg.Baudrate)
		fc.transport.Sleep(delay)
		_ = fc.transport.WriteBytes(make([]byte, 32))
		fc.transport.Sleep(delay)
	} else {
		delay := baudDelay(int(fc.receiveCacheSize)*10000, fc.cfg.Baudrate)
		fc.transport.Sleep(delay)
	}

	fc.mu.Unlock()
}

func baudDelay(numerator, baudrate int) time.Duration {
	if baudrate <= 0 {
		return 0
	}
	return time.Duration(numerator/baudrate) * time.Millisecond
}

// trySendNext implements the send decision procedure: resend > manual >
// job, each queue FIFO, at most one packet per call.
func (fc *FlowController) trySendNext() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if !fc.garbageCleared {
		return
	}
	if fc.cfg.PingPong && !fc.readyForNextSend {
		return
	}
	if !fc.transport.IsConnected() {
		return
	}

	if gc, ok := fc.resendLines.Front(); ok {
		if fc.trySendPacketLocked(fc.framePacket(gc), gc) {
			fc.resendLines.PopFront()
		}
		return
	}

	if fc.resendError > 0 {
		fc.resendError--
	}

	if line, ok := fc.manualCommands.Front(); ok {
		fc.sendFromQueueLocked(&fc.manualCommands, line)
		return
	}

	if !fc.paused {
		if line, ok := fc.jobCommands.Front(); ok {
			fc.sendFromQueueLocked(&fc.jobCommands, line)
		}
	}
}

// sendFromQueueLocked parses the front-of-queue line and attempts to send
// it, assuming fc.mu is already held. It is shared by the manual and job
// branches of trySendNext, which differ only in which queue they drain.
func (fc *FlowController) sendFromQueueLocked(q *deque[string], line string) {
	gc := Parse(line)

	if gc.HostCommand {
		fc.hostCmds.Dispatch(gc)
		q.PopFront()
		return
	}

	if gc.M() != 117 {
		gc.SetN(fc.state.IncreaseLastLine())
	}

	if fc.trySendPacketLocked(fc.framePacket(gc), gc) {
		q.PopFront()
		fc.state.Analyze(gc)
	} else if gc.HasN() && gc.M() != 110 {
		fc.state.DecreaseLastLine()
	}
}

func (fc *FlowController) framePacket(gc *GCode) *DataPacket {
	if !fc.cfg.BinaryProtocol || gc.ForceASCII {
		return gc.ToASCII(true, true)
	}
	return gc.ToBinary()
}

// trySendPacketLocked is the only place that writes command packets to the
// transport (resendLine separately writes the NUL drain padding). Assumes
// fc.mu is held.
func (fc *FlowController) trySendPacketLocked(dp *DataPacket, gc *GCode) bool {
	fits := fc.cfg.PingPong && fc.readyForNextSend
	if !fc.cfg.PingPong {
		fits = int(fc.receiveCacheFill)+dp.Len() <= int(fc.receiveCacheSize)
	}
	if !fits {
		return false
	}

	if err := fc.transport.WriteBytes(dp.Data); err != nil {
		fc.log.Push(fmt.Sprintf("write error: %v", err), LogError)
		_ = fc.transport.Close()
		return false
	}

	if !fc.cfg.PingPong {
		fc.nackWindow.PushBack(uint16(dp.Len()))
		fc.receiveCacheFill += uint16(dp.Len())
	} else {
		fc.readyForNextSend = false
	}

	fc.history.PushBack(gc)
	if fc.history.Len() > MaxHistorySize {
		fc.history.PopFront()
	}

	fc.lastCommandSentAt = time.Now()
	fc.bytesSent += uint64(dp.Len())
	fc.linesSent++

	msg := gc.Original
	if msg == "" {
		msg = strings.TrimRight(string(dp.Data), "\n")
	}
	fc.log.Push(msg, LogSent)

	return true
}

// ResponsesSince delegates to the shared ResponseLog.
func (fc *FlowController) ResponsesSince(cursor uint32, mask uint8) ([]Response, uint32) {
	return fc.log.Since(cursor, mask)
}

// Snapshot renders the current configuration and counters for the
// web/JSON frontend.
func (fc *FlowController) Snapshot() StatusView {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	extruders := make([]Extruder, fc.cfg.ExtruderCount)
	for i := range extruders {
		extruders[i] = Extruder{ExtruderID: i, ExtruderNum: i + 1}
	}

	return StatusView{
		Paused:        fc.paused,
		PrinterName:   fc.cfg.Name,
		Slug:          fc.cfg.Slug,
		Device:        fc.cfg.DevicePath,
		Baudrate:      fc.cfg.Baudrate,
		XMin:          fc.cfg.XMin,
		XMax:          fc.cfg.XMax,
		YMin:          fc.cfg.YMin,
		YMax:          fc.cfg.YMax,
		ZMin:          fc.cfg.ZMin,
		ZMax:          fc.cfg.ZMax,
		SpeedX:        fc.cfg.SpeedX,
		SpeedY:        fc.cfg.SpeedY,
		SpeedZ:        fc.cfg.SpeedZ,
		SpeedEExtrude: fc.cfg.SpeedEExtrude,
		SpeedERetract: fc.cfg.SpeedERetract,
		ExtruderCount: fc.cfg.ExtruderCount,
		Extruder:      extruders,
		Online:        fc.transport.IsConnected(),
		LinesSent:     fc.linesSent,
		BytesSent:     fc.bytesSent,
	}
}

func stripLeadingControl(s string) string {
	i := 0
	for i < len(s) && s[i] < 32 {
		i++
	}
	return s[i:]
}
