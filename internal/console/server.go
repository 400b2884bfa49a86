package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tomyan/browsercli/internal/dispatch"
	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/log"
)

// Server keeps one session alive for clients connecting over a local socket.
// Each line a client sends is answered with one JSON report line. Clients
// share the session; their commands are queued by it.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Logger     logrus.FieldLogger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// Serve accepts connections on ln until ctx is cancelled or a client sends
// close. The session is closed before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := log.For(s.Logger, log.CategoryConsole)
	defer s.Dispatcher.Close()

	ctx, shutdown := context.WithCancel(ctx)
	defer shutdown()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		s.closeConns()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accepting connection: %w", err)
			}
			if !s.track(conn) {
				conn.Close()
				return nil
			}
			logger.Debug("client connected")

			g.Go(func() error {
				defer s.untrack(conn)
				defer conn.Close()
				return s.handle(ctx, conn, shutdown)
			})
		}
	})

	err := g.Wait()
	logger.Debug("server stopped")
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn, shutdown context.CancelFunc) error {
	lr := newLineReader(conn, maxLine)

	for {
		text, tooLong, err := lr.next()
		if err != nil {
			return nil
		}
		line := strings.TrimSpace(text)
		if !tooLong && (line == "" || strings.HasPrefix(line, "#")) {
			continue
		}

		var rep dispatch.Report
		switch {
		case tooLong:
			rep = s.Dispatcher.Refuse(errLineTooLong())
		case detaches(line):
			rep = dispatch.Report{OK: true, Command: dispatch.Exit.String(), SessionID: s.Dispatcher.SessionID()}
		default:
			rep = s.Dispatcher.Dispatch(ctx, line)
		}
		if err := rep.Render(conn, dispatch.FormatJSON); err != nil {
			return nil
		}

		switch {
		case rep.Command == dispatch.Close.String():
			shutdown()
			return nil
		case rep.Ends():
			return nil
		}
	}
}

// detaches reports whether line is exit or one of its aliases, which only
// ends the client's connection.
func detaches(line string) bool {
	args, err := dispatch.Tokenize(line)
	if err != nil || len(args) == 0 {
		return false
	}
	info, ok := dispatch.Lookup(args[0])
	return ok && info.Kind == dispatch.Exit
}

// track records conn so shutdown can close it. It reports false once the
// server is shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.conns == nil {
		s.conns = map[net.Conn]struct{}{}
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}

// Send relays one command to the server listening on socketPath and returns
// its report.
func Send(ctx context.Context, socketPath string, args []string) (dispatch.Report, error) {
	for _, a := range args {
		if strings.ContainsAny(a, "\r\n") {
			return dispatch.Report{}, fault.New(fault.InvalidArgument, "arguments sent to a server cannot contain line breaks")
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return dispatch.Report{}, fault.Wrap(err, fault.TransportUnavailable, "connecting to %s", socketPath)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := fmt.Fprintln(conn, dispatch.Quote(args)); err != nil {
		return dispatch.Report{}, relayError(ctx, err, "sending command")
	}

	var rep dispatch.Report
	if err := json.NewDecoder(conn).Decode(&rep); err != nil {
		return dispatch.Report{}, relayError(ctx, err, "reading report")
	}
	return rep, nil
}

func relayError(ctx context.Context, err error, doing string) error {
	if ctx.Err() != nil {
		return fault.Wrap(ctx.Err(), fault.Interrupted, "%s", doing)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fault.Wrap(err, fault.CommandTimeout, "%s", doing)
	}
	return fault.Wrap(err, fault.TransportUnavailable, "%s", doing)
}
