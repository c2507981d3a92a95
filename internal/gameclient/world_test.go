package gameclient_test

import (
	"testing"

	"github.com/blukai/boredparty/internal/gameclient"
	"github.com/blukai/boredparty/internal/protocol"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/matryer/is"
)

type fakeLink struct {
	in  []protocol.Command
	out []protocol.Command
}

func (l *fakeLink) Push(cmd protocol.Command) { l.out = append(l.out, cmd) }

func (l *fakeLink) Drain() []protocol.Command {
	in := l.in
	l.in = nil
	return in
}

func TestWorldApply(t *testing.T) {
	is := is.New(t)

	w := gameclient.NewWorld(nil)

	var seeds []uint64
	w.OnChangeMap = func(seed uint64) { seeds = append(seeds, seed) }

	w.Apply(protocol.ChangeMap(11))
	w.Apply(protocol.Spawn(3))
	is.Equal(w.Others[3], gameclient.SpawnPoint)

	w.Apply(protocol.Reposition(3, mgl32.Vec2{4, 5}))
	is.Equal(w.Others[3], mgl32.Vec2{4, 5})

	// a late Spawn of a known entity keeps it where it is
	w.Apply(protocol.Spawn(3))
	is.Equal(w.Others[3], mgl32.Vec2{4, 5})

	// nobody spawned 9, so there is nothing to move
	w.Apply(protocol.Reposition(9, mgl32.Vec2{1, 1}))
	_, ok := w.Others[9]
	is.True(!ok)

	w.Apply(protocol.Despawn(3))
	is.Equal(len(w.Others), 0)

	w.Apply(protocol.Unknown())
	w.Apply(protocol.IllFormatted(protocol.MissingField))

	is.Equal(w.Seed, uint64(11))
	is.Equal(seeds, []uint64{11})
}

func TestWorldSync(t *testing.T) {
	is := is.New(t)

	w := gameclient.NewWorld(nil)
	link := &fakeLink{in: []protocol.Command{protocol.Spawn(1)}}

	// first sync announces the spawn point
	w.Sync(link)
	is.Equal(link.out, []protocol.Command{protocol.Reposition(0, gameclient.SpawnPoint)})
	is.Equal(len(w.Others), 1)

	// standing still says nothing
	w.Move(mgl32.Vec2{})
	w.Sync(link)
	is.Equal(len(link.out), 1)

	w.Move(mgl32.Vec2{1, -1})
	w.Move(mgl32.Vec2{1, -1})
	w.Sync(link)
	is.Equal(link.out[1], protocol.Reposition(0, gameclient.SpawnPoint.Add(mgl32.Vec2{2, -2})))
	is.Equal(len(link.out), 2)
}
