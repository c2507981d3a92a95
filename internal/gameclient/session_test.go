package gameclient_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/blukai/boredparty/internal/gameclient"
	"github.com/blukai/boredparty/internal/protocol"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/matryer/is"
)

const waitTimeout = 2 * time.Second

// fakeServer accepts exactly one connection and speaks the protocol on it.
type fakeServer struct {
	t     *testing.T
	ln    net.Listener
	conns chan net.Conn
	proto *protocol.Protocol
	conn  net.Conn
}

func listen(t *testing.T) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	fs := &fakeServer{t: t, ln: ln, conns: make(chan net.Conn, 1), proto: protocol.New(nil)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fs.conns <- conn
	}()
	return fs
}

func (fs *fakeServer) accept() {
	fs.t.Helper()

	select {
	case fs.conn = <-fs.conns:
		fs.t.Cleanup(func() { fs.conn.Close() })
	case <-time.After(waitTimeout):
		fs.t.Fatal("nobody connected")
	}
}

func (fs *fakeServer) send(cmd protocol.Command) {
	fs.t.Helper()
	if err := fs.proto.Send(fs.conn, cmd); err != nil {
		fs.t.Fatalf("could not send: %v", err)
	}
}

func (fs *fakeServer) recv() (protocol.Command, error) {
	fs.t.Helper()

	if err := fs.conn.SetReadDeadline(time.Now().Add(waitTimeout)); err != nil {
		fs.t.Fatalf("could not set deadline: %v", err)
	}
	return fs.proto.Receive(fs.conn)
}

func dial(t *testing.T, fs *fakeServer) *gameclient.Session {
	t.Helper()

	s, err := gameclient.Dial(context.Background(), fs.ln.Addr().String(), gameclient.Options{
		TickInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("could not dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fs.accept()
	return s
}

func pollWithin(t *testing.T, s *gameclient.Session) protocol.Command {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cmd, ok := s.Poll(); ok {
			return cmd
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("nothing polled in time")
	return protocol.Command{}
}

func TestSessionReceives(t *testing.T) {
	is := is.New(t)

	fs := listen(t)
	s := dial(t, fs)

	fs.send(protocol.ChangeMap(42))
	fs.send(protocol.Spawn(7))

	is.Equal(pollWithin(t, s), protocol.ChangeMap(42))
	is.Equal(pollWithin(t, s), protocol.Spawn(7))

	_, ok := s.Poll()
	is.True(!ok)
}

func TestSessionSendsInOrder(t *testing.T) {
	is := is.New(t)

	fs := listen(t)
	s := dial(t, fs)

	s.Push(protocol.Reposition(0, mgl32.Vec2{1, 2}))
	s.Push(protocol.Reposition(0, mgl32.Vec2{3, 4}))

	cmd, err := fs.recv()
	is.NoErr(err)
	is.Equal(cmd, protocol.Reposition(0, mgl32.Vec2{1, 2}))

	cmd, err = fs.recv()
	is.NoErr(err)
	is.Equal(cmd, protocol.Reposition(0, mgl32.Vec2{3, 4}))
}

func TestSessionCloseSaysGoodbyeOnce(t *testing.T) {
	is := is.New(t)

	fs := listen(t)
	s := dial(t, fs)

	is.NoErr(s.Close())
	is.NoErr(s.Close())

	cmd, err := fs.recv()
	is.NoErr(err)
	is.Equal(cmd, protocol.Despawn(0))

	_, err = fs.recv()
	is.True(errors.Is(err, protocol.ErrDisconnection))

	select {
	case <-s.Done():
	default:
		t.Fatal("worker still running after close")
	}
	is.NoErr(s.Err())
}

func TestSessionNoticesServerGone(t *testing.T) {
	is := is.New(t)

	fs := listen(t)
	s := dial(t, fs)

	is.NoErr(fs.conn.Close())

	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("session did not notice")
	}
	is.True(errors.Is(s.Err(), protocol.ErrDisconnection))
}

func TestSessionDrain(t *testing.T) {
	is := is.New(t)

	fs := listen(t)
	s := dial(t, fs)

	fs.send(protocol.Spawn(1))
	fs.send(protocol.Spawn(2))
	fs.send(protocol.Despawn(1))

	var got []protocol.Command
	deadline := time.Now().Add(waitTimeout)
	for len(got) < 3 && time.Now().Before(deadline) {
		got = append(got, s.Drain()...)
		time.Sleep(time.Millisecond)
	}
	is.Equal(got, []protocol.Command{
		protocol.Spawn(1),
		protocol.Spawn(2),
		protocol.Despawn(1),
	})
}

func TestDialRefused(t *testing.T) {
	is := is.New(t)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	is.NoErr(err)
	addr := ln.Addr().String()
	is.NoErr(ln.Close())

	_, err = gameclient.Dial(context.Background(), addr, gameclient.Options{})
	is.True(errors.Is(err, gameclient.ErrServerRefused))
}

func TestDialUnresolvable(t *testing.T) {
	is := is.New(t)

	noDNS := &net.Resolver{
		PreferGo: true,
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("no dns here")
		},
	}

	for _, address := range []string{
		"no-port",
		"game.invalid:53000",
		"127.0.0.1:not-a-port",
	} {
		_, err := gameclient.Dial(context.Background(), address, gameclient.Options{Resolver: noDNS})
		is.True(errors.Is(err, gameclient.ErrUnableToResolve)) // address
	}
}

// staticResolver answers every lookup with hosts.
type staticResolver struct {
	hosts []string
}

func (r staticResolver) LookupHost(context.Context, string) ([]string, error) {
	return r.hosts, nil
}

func (r staticResolver) LookupPort(ctx context.Context, network, service string) (int, error) {
	return net.DefaultResolver.LookupPort(ctx, network, service)
}

func TestDialServerNotFound(t *testing.T) {
	is := is.New(t)

	_, err := gameclient.Dial(context.Background(), "nowhere:53000", gameclient.Options{
		Resolver: staticResolver{},
	})
	is.True(errors.Is(err, gameclient.ErrServerNotFound))
}

func TestDialElapsedTimeout(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := gameclient.Dial(ctx, "slow:53000", gameclient.Options{
		Resolver: staticResolver{hosts: []string{"127.0.0.1"}},
	})
	is.True(errors.Is(err, gameclient.ErrElapsedTimeout))
}
