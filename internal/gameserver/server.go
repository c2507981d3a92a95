package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/blukai/boredparty/internal/broadcast"
	"github.com/blukai/boredparty/internal/metrics"
	"github.com/blukai/boredparty/internal/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

// serverSource is the author of messages the server makes up itself (monster
// moves, map changes). client ids are never 0.
const serverSource uint64 = 0

// Rand is where the server gets ids, seeds and monster decisions from.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Uint64() uint64
	Float32() float32
}

type Options struct {
	// Logger nil means a silenced logger.
	Logger *log.Logger
	// Metrics nil means unregistered collectors.
	Metrics *metrics.Metrics
	// Rand nil means a randomly seeded PCG.
	Rand Rand

	// SeedPhrase, when set, is hashed into the map seed. otherwise the seed
	// is random.
	SeedPhrase string

	TickInterval  time.Duration // pause between client worker iterations
	PollTimeout   time.Duration // how long one receive may wait for bytes
	AcceptTimeout time.Duration // how long one accept may wait
	WriteTimeout  time.Duration

	Monsters        int
	MonsterInterval time.Duration
	MonsterStep     float32
	WorldSize       mgl32.Vec2
}

const (
	DefaultTickInterval    = time.Millisecond
	DefaultPollTimeout     = time.Millisecond
	DefaultAcceptTimeout   = 10 * time.Millisecond
	DefaultWriteTimeout    = time.Second
	DefaultMonsterInterval = 500 * time.Millisecond
	DefaultMonsterStep     = 50
)

var DefaultWorldSize = mgl32.Vec2{5000, 5000}

func (opts Options) withDefaults() Options {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if opts.Logger == nil {
		tmp := log.DefaultLogger
		opts.Logger = &tmp
		opts.Logger.Writer = &log.IOWriter{Writer: io.Discard}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MonsterInterval <= 0 {
		opts.MonsterInterval = DefaultMonsterInterval
	}
	if opts.MonsterStep <= 0 {
		opts.MonsterStep = DefaultMonsterStep
	}
	if opts.WorldSize == (mgl32.Vec2{}) {
		opts.WorldSize = DefaultWorldSize
	}
	return opts
}

// SeedFromPhrase turns a human friendly phrase into a map seed.
func SeedFromPhrase(phrase string) uint64 {
	return xxhash.Sum64String(phrase)
}

type GameServer struct {
	listener *net.TCPListener

	logger  *log.Logger
	metrics *metrics.Metrics
	opts    Options

	queue *broadcast.Queue

	// mu guards everything below. client workers never take it.
	mu       sync.Mutex
	rnd      Rand
	mapSeed  uint64
	clients  []*client
	monsters []*monster
	// entities holds every id in use by a client or a monster.
	entities map[uint64]struct{}

	wg sync.WaitGroup
}

func NewGameServer(network, address string, opts Options) (*GameServer, error) {
	addr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve tcp addr: %w", err)
	}

	listener, err := net.ListenTCP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen tcp: %w", err)
	}

	opts = opts.withDefaults()

	gs := &GameServer{
		listener: listener,

		logger:  opts.Logger,
		metrics: opts.Metrics,
		opts:    opts,

		queue: broadcast.NewQueue(),

		rnd:      opts.Rand,
		entities: make(map[uint64]struct{}),
	}

	if opts.SeedPhrase != "" {
		gs.mapSeed = SeedFromPhrase(opts.SeedPhrase)
	} else {
		gs.mapSeed = gs.rnd.Uint64()
	}
	gs.spawnMonstersLocked(opts.Monsters)

	return gs, nil
}

// Addr can be useful to retreive server's address when GameServer was
// constructed with ":0".
func (gs *GameServer) Addr() *net.TCPAddr {
	return gs.listener.Addr().(*net.TCPAddr)
}

func (gs *GameServer) MapSeed() uint64 {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	return gs.mapSeed
}

// ChangeMap switches everyone, including clients that join later, to a map
// generated from seed.
func (gs *GameServer) ChangeMap(seed uint64) {
	gs.mu.Lock()
	gs.mapSeed = seed
	gs.mu.Unlock()

	gs.queue.Push(protocol.ChangeMap(seed), serverSource)
	gs.logger.Info().Uint64("seed", seed).Msg("changed map")
}

func (gs *GameServer) RandomSeed() uint64 {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	return gs.rnd.Uint64()
}

type ClientInfo struct {
	ID       uint64     `json:"id"`
	TraceID  string     `json:"trace_id"`
	Position mgl32.Vec2 `json:"position"`
}

func (gs *GameServer) Clients() []ClientInfo {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	infos := make([]ClientInfo, 0, len(gs.clients))
	for _, c := range gs.clients {
		if c.disconnected.Load() {
			continue
		}
		infos = append(infos, ClientInfo{
			ID:       c.id,
			TraceID:  c.traceID.String(),
			Position: c.Position(),
		})
	}
	return infos
}

// Run accepts connections and maintains shared state until ctx is done.
func (gs *GameServer) Run(ctx context.Context) error {
	nextMonsterMove := time.Now().Add(gs.opts.MonsterInterval)

	for {
		select {
		case <-ctx.Done():
			return gs.shutdown()
		default:
		}

		gs.acceptConnection(ctx)
		gs.update()

		if now := time.Now(); now.After(nextMonsterMove) {
			gs.moveMonster()
			nextMonsterMove = now.Add(gs.opts.MonsterInterval)
		}
	}
}

func (gs *GameServer) acceptConnection(ctx context.Context) {
	if err := gs.listener.SetDeadline(time.Now().Add(gs.opts.AcceptTimeout)); err != nil {
		gs.logger.Error().Err(err).Msg("could not set accept deadline")
		return
	}

	conn, err := gs.listener.AcceptTCP()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}

		gs.logger.Error().
			Msgf("could not accept: %v", err)
		// don't spin on persistent failures (e.g. out of fds)
		time.Sleep(gs.opts.AcceptTimeout)
		return
	}

	gs.admit(ctx, conn)
}

// admit seeds conn with the current world, then registers it as a client
// and starts its worker. the snapshot is taken under gs.mu, the writes happen
// without it. changes in between reach the newcomer through the queue
// backlog, which update (same goroutine) can't evict before registration.
func (gs *GameServer) admit(ctx context.Context, conn *net.TCPConn) {
	burst := gs.snapshot()

	proto := protocol.New(nil)

	var errs error
	if err := conn.SetWriteDeadline(time.Now().Add(gs.opts.WriteTimeout)); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, cmd := range burst {
		if errs != nil {
			// the conn is broken, the rest would fail the same way
			break
		}
		if err := proto.Send(conn, cmd); err != nil {
			errs = multierror.Append(errs, err)
		} else {
			gs.metrics.FramesSent.Inc()
		}
	}
	if errs != nil {
		gs.logger.Error().
			Str("addr", conn.RemoteAddr().String()).
			Msgf("could not send initial state: %v", errs)
		conn.Close()
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	c := &client{
		conn:    conn,
		id:      gs.newEntityIDLocked(),
		traceID: uuid.New(),
		proto:   proto,
	}
	gs.clients = append(gs.clients, c)
	gs.queue.Push(protocol.Spawn(c.id), c.id, c.id)
	gs.metrics.ClientsAccepted.Inc()

	c.log(gs.logger.Info()).
		Str("addr", conn.RemoteAddr().String()).
		Msg("client connected")

	gs.wg.Add(1)
	go func() {
		defer gs.wg.Done()
		gs.runClient(ctx, c)
	}()
}

// snapshot lists what a newcomer needs to catch up: the map, then every
// connected client and monster with its position.
func (gs *GameServer) snapshot() []protocol.Command {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	burst := []protocol.Command{protocol.ChangeMap(gs.mapSeed)}
	for _, other := range gs.clients {
		if other.disconnected.Load() {
			continue
		}
		burst = append(burst,
			protocol.Spawn(other.id),
			protocol.Reposition(other.id, other.Position()),
		)
	}
	for _, m := range gs.monsters {
		burst = append(burst,
			protocol.Spawn(m.id),
			protocol.Reposition(m.id, m.position),
		)
	}
	return burst
}

// newEntityIDLocked picks and reserves a random id that is neither
// serverSource nor in use by a client or a monster.
func (gs *GameServer) newEntityIDLocked() uint64 {
	for {
		id := gs.rnd.Uint64()
		if id == serverSource {
			continue
		}
		if _, taken := gs.entities[id]; !taken {
			gs.entities[id] = struct{}{}
			return id
		}
	}
}

// update prunes clients that went away and evicts messages everyone has seen.
func (gs *GameServer) update() {
	gs.mu.Lock()
	gs.clients = slices.DeleteFunc(gs.clients, func(c *client) bool {
		if c.disconnected.Load() {
			delete(gs.entities, c.id)
			c.log(gs.logger.Debug()).Msg("removed client")
			return true
		}
		return false
	})
	connected := make([]uint64, len(gs.clients))
	for i, c := range gs.clients {
		connected[i] = c.id
	}
	gs.mu.Unlock()

	if evicted := gs.queue.Evict(connected); evicted > 0 {
		gs.metrics.MessagesEvicted.Add(float64(evicted))
	}
	gs.metrics.ClientsConnected.Set(float64(len(connected)))
	gs.metrics.QueueLength.Set(float64(gs.queue.Len()))
}

func (gs *GameServer) shutdown() error {
	var errs error

	if err := gs.listener.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not close listener: %w", err))
	}

	gs.wg.Wait()

	gs.mu.Lock()
	defer gs.mu.Unlock()

	for _, c := range gs.clients {
		if c.disconnected.Swap(true) {
			continue
		}
		if err := c.conn.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("could not close client %d: %w", c.id, err))
		}
	}
	gs.clients = nil

	return errs
}
