package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const SequenceSize = 4

// sequenceByteModulus is what each odometer digit wraps at. 255 rather than
// 256 means a digit never reaches 0xff; kept that way so that frames from
// peers that count like this stay in order.
const sequenceByteModulus = 255

// Sequence is a 4-digit odometer, most significant byte first. it is compared
// byte by byte, never as an integer.
type Sequence [SequenceSize]byte

// Next returns s incremented by one, carrying into the more significant byte
// whenever a digit wraps to 0. after [254 254 254 254] it wraps to all zeros.
func (s Sequence) Next() Sequence {
	for i := SequenceSize - 1; i >= 0; i-- {
		s[i] = byte((int(s[i]) + 1) % sequenceByteModulus)
		if s[i] != 0 {
			break
		}
	}
	return s
}

// Accepts reports whether next may follow s, that is next is not older than
// s. equal sequences are accepted, which lets a duplicate frame through.
func (s Sequence) Accepts(next Sequence) bool {
	return bytes.Compare(s[:], next[:]) <= 0
}

// Uint32 is meant for logs and metrics.
func (s Sequence) Uint32() uint32 {
	return binary.BigEndian.Uint32(s[:])
}

func (s Sequence) String() string {
	return fmt.Sprintf("%v", [SequenceSize]byte(s))
}
