package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

type Kind uint8

const (
	// NOTE(blukai): zero value is Unknown so that a zeroed Command never
	// passes for something meaningful.
	KindUnknown Kind = iota
	KindIllFormatted
	KindSpawn
	KindReposition
	KindDespawn
	KindChangeMap
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindIllFormatted:
		return "IllFormatted"
	case KindSpawn:
		return "Spawn"
	case KindReposition:
		return "Reposition"
	case KindDespawn:
		return "Despawn"
	case KindChangeMap:
		return "ChangeMap"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// FormatError tells which stage of field extraction failed when decoding a
// command.
type FormatError uint8

const (
	_ FormatError = iota
	EmptyMessage
	MissingField
	WrongType
	InvalidValue
	ByteAfterEnd
)

var _ error = FormatError(0)

func (e FormatError) Error() string {
	switch e {
	case EmptyMessage:
		return "empty message"
	case MissingField:
		return "missing field"
	case WrongType:
		return "wrong type"
	case InvalidValue:
		return "invalid value"
	case ByteAfterEnd:
		return "byte after end"
	default:
		return fmt.Sprintf("format error %d", uint8(e))
	}
}

// Command is a tagged union. Only the fields relevant to Kind are set, which
// keeps Command comparable with ==.
//
//	Spawn        ID
//	Reposition   ID, Position
//	Despawn      ID
//	ChangeMap    Seed
//	IllFormatted Reason
//	Unknown      -
//
// Unknown and IllFormatted are decode results only, they can not be sent.
type Command struct {
	Kind     Kind
	ID       uint64
	Position mgl32.Vec2
	Seed     uint64
	Reason   FormatError
}

func Spawn(id uint64) Command {
	return Command{Kind: KindSpawn, ID: id}
}

func Reposition(id uint64, pos mgl32.Vec2) Command {
	return Command{Kind: KindReposition, ID: id, Position: pos}
}

func Despawn(id uint64) Command {
	return Command{Kind: KindDespawn, ID: id}
}

func ChangeMap(seed uint64) Command {
	return Command{Kind: KindChangeMap, Seed: seed}
}

func Unknown() Command {
	return Command{Kind: KindUnknown}
}

func IllFormatted(reason FormatError) Command {
	return Command{Kind: KindIllFormatted, Reason: reason}
}

// EntityID returns the id of the entity the command is about. ok is false for
// commands that don't carry one.
func (c Command) EntityID() (uint64, bool) {
	switch c.Kind {
	case KindSpawn, KindReposition, KindDespawn:
		return c.ID, true
	default:
		return 0, false
	}
}

// WithEntityID returns a copy of c with its entity id replaced. commands
// without an entity id are returned unchanged.
func (c Command) WithEntityID(id uint64) Command {
	if _, ok := c.EntityID(); ok {
		c.ID = id
	}
	return c
}

func (c Command) String() string {
	switch c.Kind {
	case KindSpawn, KindDespawn:
		return fmt.Sprintf("%s(%d)", c.Kind, c.ID)
	case KindReposition:
		return fmt.Sprintf("%s(%d, %g, %g)", c.Kind, c.ID, c.Position.X(), c.Position.Y())
	case KindChangeMap:
		return fmt.Sprintf("%s(%d)", c.Kind, c.Seed)
	case KindIllFormatted:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Reason)
	default:
		return c.Kind.String()
	}
}
