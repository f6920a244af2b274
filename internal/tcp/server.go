package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Server accepts chat connections and runs one Handler per session.
// Session ids are assigned from a process-wide monotonic counter, so they
// are never reused while the server runs.
type Server struct {
	addr string
	deps Deps
	log  zerolog.Logger

	nextID atomic.Int64
	wg     sync.WaitGroup
}

// NewServer builds a server that will listen on addr ("host:port").
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		addr: addr,
		deps: deps,
		log:  deps.Log.With().Str("component", "tcp").Logger(),
	}
}

// ListenAndServe binds the address and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts sessions from ln until ctx is canceled or the listener
// fails. On cancellation it closes the listener and waits for every live
// session to drain; handlers notice the cancellation within one read
// timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("chat server listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			serveErr = err
			break
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		id := s.nextID.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewHandler(id, conn, s.deps).Run(ctx)
		}()
	}

	s.wg.Wait()
	s.log.Info().Msg("chat server stopped")
	return serveErr
}
