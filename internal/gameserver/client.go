package gameserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blukai/boredparty/internal/metrics"
	"github.com/blukai/boredparty/internal/protocol"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/phuslu/log"
)

type client struct {
	conn net.Conn

	// id is the entity id the client plays as. it is random and can
	// (theoretically) repeat across reconnects, traceID is there to tell
	// connections apart in logs.
	id      uint64
	traceID uuid.UUID

	// proto is only touched by the client's own worker (and by admit
	// before the worker starts).
	proto *protocol.Protocol

	mu       sync.Mutex
	position mgl32.Vec2

	disconnected atomic.Bool
}

func (c *client) Position() mgl32.Vec2 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.position
}

func (c *client) setPosition(pos mgl32.Vec2) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.position = pos
}

func (c *client) log(e *log.Entry) *log.Entry {
	return e.Uint64("client", c.id).Str("trace", c.traceID.String())
}

func (gs *GameServer) runClient(ctx context.Context, c *client) {
	ticker := time.NewTicker(gs.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !gs.receiveFrom(c) {
			return
		}
		gs.deliverTo(c)
	}
}

// receiveFrom polls c for one frame and queues whatever it carries for the
// others. it returns false once c is gone.
func (gs *GameServer) receiveFrom(c *client) bool {
	if err := c.conn.SetReadDeadline(time.Now().Add(gs.opts.PollTimeout)); err != nil {
		gs.dropClient(c, err)
		return false
	}

	cmd, err := c.proto.Receive(c.conn)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrNoFrame):
		return true
	case errors.Is(err, protocol.ErrDisconnection):
		gs.dropClient(c, err)
		return false
	case errors.Is(err, protocol.ErrOutdatedPackage):
		gs.metrics.FramesDropped.WithLabelValues(metrics.ReasonOutdated).Inc()
		c.log(gs.logger.Debug()).Err(err).Msg("dropped frame")
		return true
	case errors.Is(err, protocol.ErrWrongSequence):
		gs.metrics.FramesDropped.WithLabelValues(metrics.ReasonWrongSeq).Inc()
		c.log(gs.logger.Debug()).Err(err).Msg("dropped frame")
		return true
	default:
		gs.metrics.FramesDropped.WithLabelValues(metrics.ReasonReadError).Inc()
		c.log(gs.logger.Warn()).Err(err).Msg("could not receive")
		return true
	}

	gs.metrics.FramesReceived.Inc()
	c.log(gs.logger.Debug()).Stringer("cmd", cmd).Msg("recv")

	switch cmd.Kind {
	case protocol.KindIllFormatted:
		gs.metrics.FramesDropped.WithLabelValues(metrics.ReasonIllFormatted).Inc()
		c.log(gs.logger.Warn()).Stringer("cmd", cmd).Msg("dropped ill-formatted command")
	case protocol.KindUnknown:
		gs.metrics.FramesDropped.WithLabelValues(metrics.ReasonUnknown).Inc()
		c.log(gs.logger.Warn()).Msg("dropped unknown command")
	case protocol.KindChangeMap:
		// map seed is the server's call
		gs.metrics.FramesDropped.WithLabelValues(metrics.ReasonRejected).Inc()
		c.log(gs.logger.Warn()).Stringer("cmd", cmd).Msg("rejected map change from client")
	case protocol.KindDespawn:
		gs.dropClient(c, nil)
		return false
	default:
		// clients may only speak for themselves
		cmd = cmd.WithEntityID(c.id)
		if cmd.Kind == protocol.KindReposition {
			c.setPosition(cmd.Position)
		}
		gs.queue.Push(cmd, c.id, c.id)
	}

	return true
}

func (gs *GameServer) deliverTo(c *client) {
	_, err := gs.queue.Deliver(c.id, func(cmd protocol.Command) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(gs.opts.WriteTimeout)); err != nil {
			return err
		}
		if err := c.proto.Send(c.conn, cmd); err != nil {
			gs.metrics.SendFailures.Inc()
			return err
		}
		gs.metrics.FramesSent.Inc()
		return nil
	})
	if err != nil {
		c.log(gs.logger.Error()).Msgf("error while sending messages: %v", err)
	}
}

// dropClient marks c as disconnected and tells everyone else to despawn it.
// cause is nil when the client said goodbye itself.
func (gs *GameServer) dropClient(c *client, cause error) {
	if c.disconnected.Swap(true) {
		return
	}

	gs.queue.Push(protocol.Despawn(c.id), c.id, c.id)

	if err := c.conn.Close(); err != nil {
		c.log(gs.logger.Debug()).Err(err).Msg("could not close conn")
	}

	entry := c.log(gs.logger.Info())
	if cause != nil {
		entry = entry.Err(cause)
	}
	entry.Msg("client disconnected")
}
