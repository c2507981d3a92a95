package gameserver

import (
	"github.com/blukai/boredparty/internal/protocol"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// monster is a server-owned entity. clients see it as any other entity, it
// only ever moves through server broadcasts.
type monster struct {
	id       uint64
	position mgl32.Vec2
}

func (gs *GameServer) spawnMonstersLocked(n int) {
	for range n {
		gs.monsters = append(gs.monsters, &monster{
			id:       gs.newEntityIDLocked(),
			position: gs.randomPositionLocked(),
		})
	}
}

func (gs *GameServer) randomPositionLocked() mgl32.Vec2 {
	return mgl32.Vec2{
		gs.rnd.Float32() * gs.opts.WorldSize.X(),
		gs.rnd.Float32() * gs.opts.WorldSize.Y(),
	}
}

// moveMonster makes one random monster wander a step and tells everyone.
func (gs *GameServer) moveMonster() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if len(gs.monsters) == 0 {
		return
	}

	m := gs.monsters[gs.rnd.Uint64()%uint64(len(gs.monsters))]

	angle := gs.rnd.Float32() * 2 * math32.Pi
	step := mgl32.Vec2{math32.Cos(angle), math32.Sin(angle)}.Mul(gs.opts.MonsterStep)
	next := m.position.Add(step)
	m.position = mgl32.Vec2{
		mgl32.Clamp(next.X(), 0, gs.opts.WorldSize.X()),
		mgl32.Clamp(next.Y(), 0, gs.opts.WorldSize.Y()),
	}

	gs.queue.Push(protocol.Reposition(m.id, m.position), serverSource)
}
