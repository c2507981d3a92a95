package gameclient

import (
	"io"

	"github.com/blukai/boredparty/internal/protocol"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/phuslu/log"
)

// SpawnPoint is where freshly spawned entities show up until their first
// Reposition arrives.
var SpawnPoint = mgl32.Vec2{100, 100}

// Link is the part of a Session the world needs.
type Link interface {
	Push(cmd protocol.Command)
	Drain() []protocol.Command
}

// World is what a client knows about the game: its own player, everyone
// else, and the map seed.
type World struct {
	Seed   uint64
	Player mgl32.Vec2
	Others map[uint64]mgl32.Vec2

	// OnChangeMap, if set, is called whenever the server switches maps.
	OnChangeMap func(seed uint64)

	logger *log.Logger
	moved  bool
}

func NewWorld(logger *log.Logger) *World {
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &World{
		Player: SpawnPoint,
		Others: make(map[uint64]mgl32.Vec2),
		logger: logger,
		// announce where we are right away
		moved: true,
	}
}

func (w *World) Apply(cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.KindSpawn:
		// a newcomer may get a Spawn from the backlog after the initial
		// burst already placed the entity
		if _, ok := w.Others[cmd.ID]; !ok {
			w.Others[cmd.ID] = SpawnPoint
		}
	case protocol.KindReposition:
		if _, ok := w.Others[cmd.ID]; ok {
			w.Others[cmd.ID] = cmd.Position
		}
	case protocol.KindDespawn:
		delete(w.Others, cmd.ID)
	case protocol.KindChangeMap:
		w.Seed = cmd.Seed
		if w.OnChangeMap != nil {
			w.OnChangeMap(cmd.Seed)
		}
	default:
		w.logger.Warn().Stringer("cmd", cmd).Msg("discarded command")
	}
}

func (w *World) Move(delta mgl32.Vec2) {
	if delta == (mgl32.Vec2{}) {
		return
	}
	w.Player = w.Player.Add(delta)
	w.moved = true
}

// Sync applies everything link received and, if the player moved since the
// last Sync, tells the server where it is now.
func (w *World) Sync(link Link) {
	for _, cmd := range link.Drain() {
		w.Apply(cmd)
	}

	if w.moved {
		link.Push(protocol.Reposition(0, w.Player))
		w.moved = false
	}
}
