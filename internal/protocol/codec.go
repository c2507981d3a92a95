package protocol

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/blukai/boredparty/internal/debug"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Codec turns commands into frame bodies and back. Protocol only talks to
// commands through this, the text encoding below can be swapped for a binary
// one without touching framing.
//
// Encoded bodies must never contain frameStart or frameTerminator bytes.
type Codec interface {
	AppendEncode(dst []byte, cmd Command) ([]byte, error)
	// Decode never fails, failures are reported as Unknown or IllFormatted
	// commands.
	Decode(data []byte) Command
}

var ErrNotEncodable = errors.New("command is not encodable")

type Tag = byte

const (
	TagSpawn      Tag = 2
	TagReposition Tag = 3
	TagDespawn    Tag = 4
	// NOTE(blukai): 5 and 6 are reserved for IllFormatted and Unknown. those
	// never leave the process, but keep the numbers taken so that an old peer
	// can't confuse them for something else.
	_             Tag = 5
	_             Tag = 6
	TagChangeMap  Tag = 7
)

const FieldSeparator byte = '/' // 47

// TextCodec writes numeric fields as base-10 text separated by '/':
//
//	[tag][field]('/'[field])*
//
// text fields are not escaped. every field today is a number so neither
// FieldSeparator nor frameTerminator can show up in one, any new field type
// must keep it that way.
type TextCodec struct{}

var _ Codec = TextCodec{}

func (TextCodec) AppendEncode(dst []byte, cmd Command) ([]byte, error) {
	start := len(dst)

	switch cmd.Kind {
	case KindSpawn:
		dst = append(dst, TagSpawn)
		dst = strconv.AppendUint(dst, cmd.ID, 10)
	case KindReposition:
		if !isFinite(cmd.Position.X()) || !isFinite(cmd.Position.Y()) {
			return dst, ErrNotEncodable
		}
		dst = append(dst, TagReposition)
		dst = strconv.AppendUint(dst, cmd.ID, 10)
		dst = append(dst, FieldSeparator)
		dst = appendFloat32(dst, cmd.Position.X())
		dst = append(dst, FieldSeparator)
		dst = appendFloat32(dst, cmd.Position.Y())
	case KindDespawn:
		dst = append(dst, TagDespawn)
		dst = strconv.AppendUint(dst, cmd.ID, 10)
	case KindChangeMap:
		dst = append(dst, TagChangeMap)
		dst = strconv.AppendUint(dst, cmd.Seed, 10)
	default:
		return dst, ErrNotEncodable
	}

	body := dst[start:]
	debug.Assertf(
		bytes.IndexByte(body, frameTerminator) < 0 && bytes.IndexByte(body, frameStart) < 0,
		"encoded %s contains a reserved byte: %v", cmd, body,
	)

	return dst, nil
}

// appendFloat32 writes the shortest representation that parses back to the
// same float32, without an exponent (-3.0 => "-3", 12.5 => "12.5").
func appendFloat32(dst []byte, f float32) []byte {
	return strconv.AppendFloat(dst, float64(f), 'f', -1, 32)
}

func (TextCodec) Decode(data []byte) Command {
	if len(data) == 0 {
		return IllFormatted(EmptyMessage)
	}

	fields := fieldReader{data: data[1:]}

	switch data[0] {
	case TagSpawn:
		id, err := fields.uint64()
		if err != nil {
			return IllFormatted(err.(FormatError))
		}
		return Spawn(id)
	case TagReposition:
		// all of the fields are extracted, the first failing one is
		// reported.
		id, idErr := fields.uint64()
		x, xErr := fields.float32()
		y, yErr := fields.float32()
		for _, err := range []error{idErr, xErr, yErr} {
			if err != nil {
				return IllFormatted(err.(FormatError))
			}
		}
		return Reposition(id, mgl32.Vec2{x, y})
	case TagDespawn:
		id, err := fields.uint64()
		if err != nil {
			return IllFormatted(err.(FormatError))
		}
		return Despawn(id)
	case TagChangeMap:
		seed, err := fields.uint64()
		if err != nil {
			return IllFormatted(err.(FormatError))
		}
		return ChangeMap(seed)
	default:
		return Unknown()
	}
}

type fieldReader struct {
	data []byte
	pos  int
}

// next returns bytes up to the next separator (or terminator, or end of
// data). an exhausted reader yields empty fields.
func (fr *fieldReader) next() string {
	start := fr.pos
	for fr.pos < len(fr.data) {
		b := fr.data[fr.pos]
		fr.pos++
		if b == FieldSeparator || b == frameTerminator {
			return string(fr.data[start : fr.pos-1])
		}
	}
	return string(fr.data[start:])
}

func (fr *fieldReader) uint64() (uint64, error) {
	v, err := strconv.ParseUint(fr.next(), 10, 64)
	if err != nil {
		return 0, InvalidValue
	}
	return v, nil
}

// float32 only takes plain decimals: digits, '-' and '.'. strconv alone would
// also let through exponents, hex floats, NaN and Inf.
func (fr *fieldReader) float32() (float32, error) {
	field := fr.next()
	for i := 0; i < len(field); i++ {
		if b := field[i]; (b < '0' || b > '9') && b != '-' && b != '.' {
			return 0, InvalidValue
		}
	}

	v, err := strconv.ParseFloat(field, 32)
	if err != nil || !isFinite(float32(v)) {
		return 0, InvalidValue
	}
	return float32(v), nil
}

func isFinite(f float32) bool {
	return !math32.IsNaN(f) && !math32.IsInf(f, 0)
}
