package printer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// fieldOrder is the canonical field order used by ASCII framing (binary
// framing has its own fixed order). N and the text tail are handled
// separately.
var fieldOrder = []byte{'G', 'M', 'T', 'S', 'P', 'X', 'Y', 'Z', 'E', 'F', 'I', 'J', 'R', 'D', 'C', 'H', 'A', 'B', 'K', 'L', 'O'}

func isFieldLetter(c byte) bool {
	switch c {
	case 'G', 'M', 'T', 'S', 'P', 'X', 'Y', 'Z', 'E', 'F', 'I', 'J', 'R', 'D', 'C', 'H', 'A', 'B', 'K', 'L', 'O':
		return true
	}
	return false
}

// GCode is one parsed command, either destined for the firmware or a host
// command to be interpreted locally.
type GCode struct {
	fields map[byte]float64
	text   string

	n *uint16

	HostCommand bool
	ForceASCII  bool
	HasChecksum bool

	Original string
}

// Empty reports whether the line carried no usable command (blank or a
// comment). The host is expected to filter these before enqueueing, but
// GCode itself stays defensive.
func (gc *GCode) Empty() bool {
	return gc.n == nil && len(gc.fields) == 0 && gc.text == "" && !gc.HostCommand
}

// Parse builds a GCode from one line of text.
func Parse(line string) *GCode {
	gc := &GCode{fields: make(map[byte]float64), Original: line}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, ";") {
		return gc
	}

	if strings.HasPrefix(trimmed, "@") {
		gc.HostCommand = true
		gc.text = strings.TrimSpace(trimmed[1:])
		return gc
	}

	tokens := strings.Fields(trimmed)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok == "" {
			continue
		}

		if tok[0] == '*' {
			if cs, err := strconv.ParseUint(tok[1:], 10, 8); err == nil {
				gc.HasChecksum = true
				_ = cs // checksum value itself is not retained; presence is.
			}
			continue
		}

		letter := toUpperByte(tok[0])
		rest := tok[1:]

		switch {
		case letter == 'N':
			if v, err := strconv.ParseInt(rest, 10, 32); err == nil {
				n := uint16(uint32(v) & 0xFFFF)
				gc.n = &n
			}
			continue
		case letter == 'M' && rest == "117":
			gc.ForceASCII = true
			gc.fields['M'] = 117
			tail := trimmed
			for j := 0; j <= i; j++ {
				tail = strings.TrimLeftFunc(tail, unicode.IsSpace)[len(tokens[j]):]
			}
			gc.text = strings.TrimLeftFunc(tail, unicode.IsSpace)
			return gc
		case isFieldLetter(letter):
			if v, err := strconv.ParseFloat(rest, 64); err == nil {
				gc.fields[letter] = v
			}
		}
	}

	switch gc.M() {
	case 110, 112:
		gc.ForceASCII = true
	}

	return gc
}

// HasN reports whether an explicit or assigned line number is present.
func (gc *GCode) HasN() bool { return gc.n != nil }

// N returns the assigned line number, or 0 if none is set.
func (gc *GCode) N() uint16 {
	if gc.n == nil {
		return 0
	}
	return *gc.n
}

// SetN assigns (or reassigns) the line number.
func (gc *GCode) SetN(n uint16) { gc.n = &n }

// ClearN drops any assigned line number.
func (gc *GCode) ClearN() { gc.n = nil }

// Has reports whether field letter c is present.
func (gc *GCode) Has(c byte) bool { _, ok := gc.fields[c]; return ok }

// Get returns the value of field letter c, or 0 if absent.
func (gc *GCode) Get(c byte) float64 { return gc.fields[c] }

// HasM reports whether an M field is present.
func (gc *GCode) HasM() bool { return gc.Has('M') }

// M returns the M-code number, or -1 if absent.
func (gc *GCode) M() int {
	if !gc.Has('M') {
		return -1
	}
	return int(gc.fields['M'])
}

// HasG reports whether a G field is present.
func (gc *GCode) HasG() bool { return gc.Has('G') }

// G returns the G-code number, or -1 if absent.
func (gc *GCode) G() int {
	if !gc.Has('G') {
		return -1
	}
	return int(gc.fields['G'])
}

// Text returns the message tail (M117) or host-command remainder.
func (gc *GCode) Text() string { return gc.text }

func toUpperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// DataPacket is an owned byte buffer ready to write to the serial line.
type DataPacket struct {
	Data []byte
}

func (dp *DataPacket) Len() int { return len(dp.Data) }

func formatValue(letter byte, v float64) string {
	switch letter {
	case 'X', 'Y', 'Z', 'E':
		return trimFloat(v, 3)
	case 'F':
		return trimFloat(v, 2)
	default:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

func trimFloat(v float64, maxDecimals int) string {
	s := strconv.FormatFloat(v, 'f', maxDecimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// ToASCII renders the command in the ASCII line protocol: optional N prefix,
// canonically-ordered fields, optional text tail, optional XOR-8 checksum.
func (gc *GCode) ToASCII(withN, withChecksum bool) *DataPacket {
	var b strings.Builder

	if withN && gc.n != nil {
		fmt.Fprintf(&b, "N%d ", *gc.n)
	}
	for _, letter := range fieldOrder {
		if v, ok := gc.fields[letter]; ok {
			if letter == 'M' && v == 117 {
				continue // M117 is written specially below, with its tail
			}
			fmt.Fprintf(&b, "%c%s ", letter, formatValue(letter, v))
		}
	}
	if gc.M() == 117 {
		fmt.Fprintf(&b, "M117 %s ", gc.text)
	} else if gc.text != "" {
		b.WriteString(gc.text)
		b.WriteByte(' ')
	}

	line := strings.TrimRight(b.String(), " ")

	var out strings.Builder
	out.WriteString(line)
	if withChecksum {
		// cs is the XOR of every byte preceding '*', space included: the
		// space this function inserts before '*' is itself checksummed.
		withSpace := line + " "
		cs := byte(0)
		for i := 0; i < len(withSpace); i++ {
			cs ^= withSpace[i]
		}
		fmt.Fprintf(&out, " *%d", cs)
	}
	out.WriteByte('\n')

	return &DataPacket{Data: []byte(out.String())}
}
