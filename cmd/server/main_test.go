package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestServeAdminReportsFailure(t *testing.T) {
	is := is.New(t)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	is.NoErr(err)

	wg := new(sync.WaitGroup)
	_, errChan := serveAdmin(wg, ln, http.NotFoundHandler())

	// pull the listener out from under the server
	is.NoErr(ln.Close())

	select {
	case err := <-errChan:
		is.True(err != nil)
	case <-time.After(2 * time.Second):
		t.Fatal("admin failure went unreported")
	}
	wg.Wait()
}

func TestServeAdminShutdownIsQuiet(t *testing.T) {
	is := is.New(t)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	is.NoErr(err)

	wg := new(sync.WaitGroup)
	srv, errChan := serveAdmin(wg, ln, http.NotFoundHandler())

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	is.NoErr(err)
	resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusNotFound)

	is.NoErr(srv.Shutdown(context.Background()))
	wg.Wait()

	select {
	case err := <-errChan:
		t.Fatalf("unexpected admin error: %v", err)
	default:
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	is := is.New(t)

	t.Setenv("BORED_MONSTERS", "3")

	config, err := loadConfig()
	is.NoErr(err)
	is.Equal(config.Addr, "0.0.0.0:53000")
	is.Equal(config.Monsters, 3)
	is.Equal(config.MonsterInterval, 500*time.Millisecond)
}
