package printer

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary framing: a 2-byte presence bitfield, a fixed-order payload, and a
// trailing 1-byte mod-256 checksum. Bits 0-14 of the primary bitfield cover
// the fields every printer uses; bit 15 signals a second 16-bit bitfield
// (immediately following N..text in the payload) covering the eight rarely
// used axis/arc letters. A command whose ForceASCII flag is set (M117,
// M110, emergency stop) is never binary-encoded by the flow controller —
// ToBinary still implements the mapping for completeness and for tests that
// exercise the codec directly.

const (
	binBitN uint16 = 1 << 0
	binBitM uint16 = 1 << 1
	binBitG uint16 = 1 << 2
	binBitX uint16 = 1 << 3
	binBitY uint16 = 1 << 4
	binBitZ uint16 = 1 << 5
	binBitE uint16 = 1 << 6
	binBitF uint16 = 1 << 7
	binBitT uint16 = 1 << 8
	binBitS uint16 = 1 << 9
	binBitP uint16 = 1 << 10
	binBitI uint16 = 1 << 11
	binBitJ uint16 = 1 << 12
	binBitR uint16 = 1 << 13
	binBitText uint16 = 1 << 14
	binBitExt  uint16 = 1 << 15
)

// extended letters, in the order they occupy bits 0..7 of the extension
// bitfield.
var extLetters = []byte{'D', 'C', 'H', 'A', 'B', 'K', 'L', 'O'}

func putFloat32(buf []byte, v float64) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
	return append(buf, b[:]...)
}

func getFloat32(buf []byte) (float64, []byte, error) {
	if len(buf) < 4 {
		return 0, buf, fmt.Errorf("binary gcode: short float32")
	}
	bits := binary.LittleEndian.Uint32(buf[:4])
	return float64(math.Float32frombits(bits)), buf[4:], nil
}

// ToBinary renders the command as a binary frame: 2-byte bitfield, payload,
// 1-byte checksum.
func (gc *GCode) ToBinary() *DataPacket {
	var bits uint16
	var extBits uint16
	payload := make([]byte, 0, 32)

	if gc.n != nil {
		bits |= binBitN
		payload = binary.LittleEndian.AppendUint16(payload, *gc.n)
	}
	if v, ok := gc.fields['M']; ok {
		bits |= binBitM
		payload = binary.LittleEndian.AppendUint16(payload, uint16(v))
	}
	if v, ok := gc.fields['G']; ok {
		bits |= binBitG
		payload = binary.LittleEndian.AppendUint16(payload, uint16(v))
	}
	for _, lb := range []struct {
		letter byte
		bit    uint16
	}{{'X', binBitX}, {'Y', binBitY}, {'Z', binBitZ}, {'E', binBitE}, {'F', binBitF}} {
		if v, ok := gc.fields[lb.letter]; ok {
			bits |= lb.bit
			payload = putFloat32(payload, v)
		}
	}
	if v, ok := gc.fields['T']; ok {
		bits |= binBitT
		payload = append(payload, byte(uint8(v)))
	}
	if v, ok := gc.fields['S']; ok {
		bits |= binBitS
		payload = binary.LittleEndian.AppendUint32(payload, uint32(int32(v)))
	}
	if v, ok := gc.fields['P']; ok {
		bits |= binBitP
		payload = binary.LittleEndian.AppendUint32(payload, uint32(int32(v)))
	}
	for _, lb := range []struct {
		letter byte
		bit    uint16
	}{{'I', binBitI}, {'J', binBitJ}, {'R', binBitR}} {
		if v, ok := gc.fields[lb.letter]; ok {
			bits |= lb.bit
			payload = putFloat32(payload, v)
		}
	}
	if gc.text != "" {
		bits |= binBitText
		payload = binary.LittleEndian.AppendUint16(payload, uint16(len(gc.text)))
		payload = append(payload, gc.text...)
	}

	for i, letter := range extLetters {
		if v, ok := gc.fields[letter]; ok {
			extBits |= 1 << uint(i)
			bits |= binBitExt
			_ = v
		}
	}
	if bits&binBitExt != 0 {
		extPayload := make([]byte, 0, 8)
		extPayload = binary.LittleEndian.AppendUint16(extPayload, extBits)
		for i, letter := range extLetters {
			if extBits&(1<<uint(i)) != 0 {
				extPayload = putFloat32(extPayload, gc.fields[letter])
			}
		}
		payload = append(payload, extPayload...)
	}

	frame := make([]byte, 2, 2+len(payload)+1)
	binary.LittleEndian.PutUint16(frame, bits)
	frame = append(frame, payload...)

	var cs byte
	for _, b := range frame {
		cs += b
	}
	frame = append(frame, cs)

	return &DataPacket{Data: frame}
}

// ParseBinary decodes a binary frame produced by ToBinary, validating the
// trailing checksum.
func ParseBinary(data []byte) (*GCode, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("binary gcode: frame too short")
	}

	frame, cs := data[:len(data)-1], data[len(data)-1]
	var want byte
	for _, b := range frame {
		want += b
	}
	if want != cs {
		return nil, fmt.Errorf("binary gcode: checksum mismatch (got %d want %d)", cs, want)
	}

	bits := binary.LittleEndian.Uint16(frame[:2])
	buf := frame[2:]
	gc := &GCode{fields: make(map[byte]float64)}

	readU16 := func() (uint16, error) {
		if len(buf) < 2 {
			return 0, fmt.Errorf("binary gcode: short uint16")
		}
		v := binary.LittleEndian.Uint16(buf[:2])
		buf = buf[2:]
		return v, nil
	}
	readU32 := func() (uint32, error) {
		if len(buf) < 4 {
			return 0, fmt.Errorf("binary gcode: short uint32")
		}
		v := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		return v, nil
	}

	if bits&binBitN != 0 {
		v, err := readU16()
		if err != nil {
			return nil, err
		}
		gc.n = &v
	}
	if bits&binBitM != 0 {
		v, err := readU16()
		if err != nil {
			return nil, err
		}
		gc.fields['M'] = float64(v)
	}
	if bits&binBitG != 0 {
		v, err := readU16()
		if err != nil {
			return nil, err
		}
		gc.fields['G'] = float64(v)
	}
	for _, letter := range []byte{'X', 'Y', 'Z', 'E', 'F'} {
		bit := map[byte]uint16{'X': binBitX, 'Y': binBitY, 'Z': binBitZ, 'E': binBitE, 'F': binBitF}[letter]
		if bits&bit != 0 {
			v, rest, err := getFloat32(buf)
			if err != nil {
				return nil, err
			}
			gc.fields[letter] = v
			buf = rest
		}
	}
	if bits&binBitT != 0 {
		if len(buf) < 1 {
			return nil, fmt.Errorf("binary gcode: short T")
		}
		gc.fields['T'] = float64(buf[0])
		buf = buf[1:]
	}
	if bits&binBitS != 0 {
		v, err := readU32()
		if err != nil {
			return nil, err
		}
		gc.fields['S'] = float64(int32(v))
	}
	if bits&binBitP != 0 {
		v, err := readU32()
		if err != nil {
			return nil, err
		}
		gc.fields['P'] = float64(int32(v))
	}
	for _, letter := range []byte{'I', 'J', 'R'} {
		bit := map[byte]uint16{'I': binBitI, 'J': binBitJ, 'R': binBitR}[letter]
		if bits&bit != 0 {
			v, rest, err := getFloat32(buf)
			if err != nil {
				return nil, err
			}
			gc.fields[letter] = v
			buf = rest
		}
	}
	if bits&binBitText != 0 {
		n, err := readU16()
		if err != nil {
			return nil, err
		}
		if len(buf) < int(n) {
			return nil, fmt.Errorf("binary gcode: short text")
		}
		gc.text = string(buf[:n])
		buf = buf[n:]
	}
	if bits&binBitExt != 0 {
		extBits, err := readU16()
		if err != nil {
			return nil, err
		}
		for i, letter := range extLetters {
			if extBits&(1<<uint(i)) != 0 {
				v, rest, err := getFloat32(buf)
				if err != nil {
					return nil, err
				}
				gc.fields[letter] = v
				buf = rest
			}
		}
	}

	return gc, nil
}
