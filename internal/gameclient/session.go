package gameclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/boredparty/internal/protocol"
	"github.com/phuslu/log"
)

var (
	ErrUnableToResolve = errors.New("unable to resolve server address")
	ErrServerNotFound  = errors.New("server not found")
	ErrElapsedTimeout  = errors.New("connection timed out")
	ErrServerRefused   = errors.New("server refused connection")
)

const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultTickInterval   = 16 * time.Millisecond
	DefaultPollTimeout    = time.Millisecond
	DefaultWriteTimeout   = time.Second

	// maxFramesPerTick bounds how long one tick may spend reading when the
	// server floods us.
	maxFramesPerTick = 64
)

// Resolver looks up server addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

type Options struct {
	// Logger nil means a silenced logger.
	Logger *log.Logger
	// Resolver nil means net.DefaultResolver.
	Resolver Resolver

	ConnectTimeout time.Duration
	TickInterval   time.Duration
	PollTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (opts Options) withDefaults() Options {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if opts.Logger == nil {
		tmp := log.DefaultLogger
		opts.Logger = &tmp
		opts.Logger.Writer = &log.IOWriter{Writer: io.Discard}
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return opts
}

// Session is the one connection a client has to a server. a background
// worker owns the socket; the game loop talks to it through Push, Poll and
// Drain, none of which block on the network.
type Session struct {
	conn  net.Conn
	proto *protocol.Protocol

	logger *log.Logger
	opts   Options

	inboxMu sync.Mutex
	inbox   []protocol.Command

	outboxMu sync.Mutex
	outbox   []protocol.Command

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// err is written by the worker before done is closed.
	err error
}

// Dial connects to address (host:port) and starts the session's worker. ctx
// only bounds connecting, use Close to end the session.
func Dial(ctx context.Context, address string, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	addr, err := resolve(ctx, opts.Resolver, address)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(err)
	}

	s := &Session{
		conn:  conn,
		proto: protocol.New(nil),

		logger: opts.Logger,
		opts:   opts,

		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.logger.Info().
		Str("addr", conn.RemoteAddr().String()).
		Msg("connected")

	go s.run()

	return s, nil
}

func resolve(ctx context.Context, resolver Resolver, address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnableToResolve, err)
	}
	if host == "" {
		host = "localhost"
	}

	portNum, err := resolver.LookupPort(ctx, "tcp", port)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnableToResolve, err)
	}

	hosts, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnableToResolve, err)
	}
	if len(hosts) == 0 {
		return "", fmt.Errorf("%w: %s resolved to nothing", ErrServerNotFound, host)
	}

	return net.JoinHostPort(hosts[0], fmt.Sprint(portNum)), nil
}

func classifyDialError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %w", ErrServerRefused, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrElapsedTimeout, err)
	default:
		return fmt.Errorf("could not connect: %w", err)
	}
}

// Push queues cmd for sending on the next tick.
func (s *Session) Push(cmd protocol.Command) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	s.outbox = append(s.outbox, cmd)
}

// Poll takes the oldest received command, if there is one.
func (s *Session) Poll() (protocol.Command, bool) {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()

	if len(s.inbox) == 0 {
		return protocol.Command{}, false
	}
	cmd := s.inbox[0]
	s.inbox = s.inbox[1:]
	return cmd, true
}

// Drain takes every received command, oldest first.
func (s *Session) Drain() []protocol.Command {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()

	cmds := s.inbox
	s.inbox = nil
	return cmds
}

// Done is closed when the worker has stopped, either because of Close or
// because the server went away.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err tells why the worker stopped. it is nil while the session runs and
// after a plain Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close says goodbye to the server (a Despawn of our own entity, the server
// fills in the id), stops the worker and waits for it before closing the
// connection. it is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Push(protocol.Despawn(0))
		close(s.stop)
		<-s.done

		if err := s.conn.Close(); err != nil {
			s.closeErr = fmt.Errorf("could not close conn: %w", err)
		}
	})
	return s.closeErr
}

func (s *Session) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.receive(); err != nil {
			s.logger.Error().Err(err).Msg("lost connection")
			s.err = err
			return
		}
		s.flush()

		select {
		case <-s.stop:
			// whatever was pushed before Close (its Despawn included)
			// still goes out.
			s.flush()
			return
		case <-ticker.C:
		}
	}
}

// receive moves whatever arrived into the inbox. only a disconnection is
// returned, everything else just means nothing usable arrived.
func (s *Session) receive() error {
	for range maxFramesPerTick {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.PollTimeout)); err != nil {
			return fmt.Errorf("%w: %w", protocol.ErrDisconnection, err)
		}

		cmd, err := s.proto.Receive(s.conn)
		switch {
		case err == nil:
			s.logger.Debug().Stringer("cmd", cmd).Msg("recv")

			s.inboxMu.Lock()
			s.inbox = append(s.inbox, cmd)
			s.inboxMu.Unlock()
		case errors.Is(err, protocol.ErrNoFrame):
			return nil
		case errors.Is(err, protocol.ErrDisconnection):
			return err
		case errors.Is(err, protocol.ErrOutdatedPackage), errors.Is(err, protocol.ErrWrongSequence):
			s.logger.Debug().Err(err).Msg("dropped frame")
		default:
			s.logger.Warn().Err(err).Msg("could not receive")
			return nil
		}
	}
	return nil
}

func (s *Session) flush() {
	s.outboxMu.Lock()
	pending := s.outbox
	s.outbox = nil
	s.outboxMu.Unlock()

	for _, cmd := range pending {
		s.logger.Debug().Stringer("cmd", cmd).Msg("send")

		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
			s.logger.Error().Err(err).Msg("could not set write deadline")
			continue
		}
		if err := s.proto.Send(s.conn, cmd); err != nil {
			s.logger.Error().Err(err).Stringer("cmd", cmd).Msg("could not send")
		}
	}
}
