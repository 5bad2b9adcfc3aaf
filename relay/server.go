package relay

import (
	"context"
	"log"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// cacheCleanupInterval is how often the router sweeps expired cache
// entries.
const cacheCleanupInterval = time.Minute

// Server listens for device connections and drives a Session per
// connection against a shared Router.
type Server struct {
	Addr   string
	Router *Router
}

// NewServer creates a relay server bound to addr, with a fresh Router.
func NewServer(addr string) *Server {
	return &Server{Addr: addr, Router: NewRouter()}
}

// listenConfig sets SO_REUSEADDR on the listening socket so the relay can
// restart and rebind its port immediately, instead of waiting out
// TIME_WAIT on the previous listener.
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var setErr error
		err := c.Control(func(fd uintptr) {
			setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return setErr
	},
}

// ListenAndServe binds Addr and serves connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := listenConfig.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	defer listener.Close()

	go s.cleanupLoop(ctx)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Printf("relay: listening on %s", s.Addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	session, err := NewSession(conn, s.Router)
	if err != nil {
		log.Printf("relay: failed to start session for %s: %v", conn.RemoteAddr(), err)
		return
	}

	if err := session.Run(); err != nil {
		log.Printf("relay: session for %s ended: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Router.CleanupCache()
		}
	}
}
