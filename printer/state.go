package printer

import "strconv"

// State holds the derived, continuously-updated view of one printer:
// the most recently assigned line number, reported/target temperatures,
// coordinates, and the active tool/fan/motion-mode flags.
type State struct {
	lastLineNumber uint16

	ExtruderTemp       []float64 // reported current temperature, per extruder
	ExtruderTargetTemp []float64 // last commanded target temperature, per extruder
	BedTemp            float64
	BedTargetTemp      float64

	X, Y, Z, E float64
	Feedrate   float64

	ActiveExtruder int
	FanPWM         float64

	Relative bool // G91 active (G90 = absolute, the default)
}

// NewState returns a fresh State sized for extruderCount tool heads.
func NewState(extruderCount int) *State {
	if extruderCount < 1 {
		extruderCount = 1
	}
	return &State{
		ExtruderTemp:       make([]float64, extruderCount),
		ExtruderTargetTemp: make([]float64, extruderCount),
	}
}

// IncreaseLastLine pre-increments and returns the next line number to use,
// wrapping mod 2^16.
func (s *State) IncreaseLastLine() uint16 {
	s.lastLineNumber++
	return s.lastLineNumber
}

// DecreaseLastLine rolls back a line number that was assigned but never
// actually sent (the buffer-full case in try_send_next).
func (s *State) DecreaseLastLine() {
	s.lastLineNumber--
}

// LastLineNumber returns the most recently assigned line number.
func (s *State) LastLineNumber() uint16 { return s.lastLineNumber }

// Reset zeroes the line number sequence and clears volatile fields,
// triggered when the firmware reports a reboot.
func (s *State) Reset() {
	s.lastLineNumber = 0
	s.X, s.Y, s.Z, s.E = 0, 0, 0, 0
	s.Feedrate = 0
	s.Relative = false
	s.FanPWM = 0
	for i := range s.ExtruderTemp {
		s.ExtruderTemp[i] = 0
		s.ExtruderTargetTemp[i] = 0
	}
	s.BedTemp = 0
	s.BedTargetTemp = 0
}

func (s *State) extruder(i int) int {
	if i < 0 || i >= len(s.ExtruderTemp) {
		return 0
	}
	return i
}

// Analyze updates coordinates and modes from a command about to be sent to
// the firmware. It never touches the wire; FlowController calls this only
// after a successful send.
func (s *State) Analyze(gc *GCode) {
	switch {
	case gc.HasG() && gc.G() == 90:
		s.Relative = false
	case gc.HasG() && gc.G() == 91:
		s.Relative = true
	case gc.HasG() && gc.G() == 92:
		if gc.Has('X') {
			s.X = gc.Get('X')
		}
		if gc.Has('Y') {
			s.Y = gc.Get('Y')
		}
		if gc.Has('Z') {
			s.Z = gc.Get('Z')
		}
		if gc.Has('E') {
			s.E = gc.Get('E')
		}
	case gc.HasG() && (gc.G() == 0 || gc.G() == 1):
		s.applyMotion(gc)
	}

	if gc.Has('T') && !gc.HasG() && !gc.HasM() {
		s.ActiveExtruder = s.extruder(int(gc.Get('T')))
	}

	switch gc.M() {
	case 104, 109:
		if gc.Has('S') {
			idx := s.ActiveExtruder
			if gc.Has('T') {
				idx = s.extruder(int(gc.Get('T')))
			}
			s.ExtruderTargetTemp[idx] = gc.Get('S')
		}
	case 140, 190:
		if gc.Has('S') {
			s.BedTargetTemp = gc.Get('S')
		}
	case 106:
		if gc.Has('S') {
			s.FanPWM = gc.Get('S')
		} else {
			s.FanPWM = 255
		}
	case 107:
		s.FanPWM = 0
	}
}

func (s *State) applyMotion(gc *GCode) {
	set := func(cur *float64, v float64) {
		if s.Relative {
			*cur += v
		} else {
			*cur = v
		}
	}
	if gc.Has('X') {
		set(&s.X, gc.Get('X'))
	}
	if gc.Has('Y') {
		set(&s.Y, gc.Get('Y'))
	}
	if gc.Has('Z') {
		set(&s.Z, gc.Get('Z'))
	}
	if gc.Has('E') {
		set(&s.E, gc.Get('E'))
	}
	if gc.Has('F') {
		s.Feedrate = gc.Get('F')
	}
}

// AnalyzeResponse extracts telemetry tokens (T:, B:, X:, Y:, Z:, E:) from a
// firmware reply line and folds the LogResponse bit into *logType when any
// were found.
func (s *State) AnalyzeResponse(line string, logType *uint8) {
	found := false

	if v, ok := extractFloat(line, "T:"); ok {
		s.ExtruderTemp[s.ActiveExtruder] = v
		found = true
	}
	if v, ok := extractFloat(line, "B:"); ok {
		s.BedTemp = v
		found = true
	}
	if v, ok := extractFloat(line, "X:"); ok {
		s.X = v
		found = true
	}
	if v, ok := extractFloat(line, "Y:"); ok {
		s.Y = v
		found = true
	}
	if v, ok := extractFloat(line, "Z:"); ok {
		s.Z = v
		found = true
	}
	if v, ok := extractFloat(line, "E:"); ok {
		s.E = v
		found = true
	}

	if found {
		*logType |= LogResponse
	}
}

func extractFloat(line, ident string) (float64, bool) {
	h, ok := extract(line, ident)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(h, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
