package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	serverReadTimeout  = 60 * time.Second
	serverWriteTimeout = 60 * time.Second
	shutdownTimeout    = 30 * time.Second

	// inheritedListenerEnv marks a child started by a SIGUSR2 restart.
	inheritedListenerEnv = "ACCESSO_INHERITED_LISTENER"
	inheritedListenerFD  = 3
)

// Server is an http.Server that drains on SIGINT/SIGTERM and hands its
// listener to a fresh process on SIGUSR2.
type Server struct {
	http     *http.Server
	listener net.Listener
	signals  chan os.Signal
	done     chan struct{}
	once     sync.Once
	hooks    []func()
}

// NewServer creates a Server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       serverReadTimeout,
			WriteTimeout:      serverWriteTimeout,
		},
		signals: make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a hook that runs once the server has drained.
func (s *Server) OnShutdown(fn func()) {
	s.hooks = append(s.hooks, fn)
}

// Run serves until a shutdown signal arrives and every hook has run.
func (s *Server) Run() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = ln

	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	defer signal.Stop(s.signals)
	go s.watchSignals()

	err = s.http.Serve(ln)
	<-s.done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) listen() (net.Listener, error) {
	if os.Getenv(inheritedListenerEnv) != "" {
		ln, err := net.FileListener(os.NewFile(inheritedListenerFD, "listener"))
		if err != nil {
			return nil, fmt.Errorf("inherit listener: %w", err)
		}
		Logger.Info("serving on inherited listener", zap.String("addr", ln.Addr().String()))
		return ln, nil
	}
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return ln, nil
}

func (s *Server) watchSignals() {
	for sig := range s.signals {
		switch sig {
		case syscall.SIGUSR2:
			pid, err := s.fork()
			if err != nil {
				Sugar.Errorf("restart failed, keep serving: %v", err)
				continue
			}
			Logger.Info("restarted, draining old process", zap.Int("pid", pid))
			s.shutdown()
			return
		default:
			Logger.Info("draining HTTP server", zap.String("signal", sig.String()))
			s.shutdown()
			return
		}
	}
}

func (s *Server) shutdown() {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			Sugar.Errorf("HTTP server shutdown: %v", err)
		}
		for _, h := range s.hooks {
			h()
		}
		close(s.done)
	})
}

// fork starts a copy of this binary that inherits the listening socket.
func (s *Server) fork() (int, error) {
	tcp, ok := s.listener.(*net.TCPListener)
	if !ok {
		return 0, errors.New("listener is not TCP")
	}
	f, err := tcp.File()
	if err != nil {
		return 0, fmt.Errorf("listener file: %w", err)
	}
	defer f.Close()

	env := append(os.Environ(), inheritedListenerEnv+"=1")
	return syscall.ForkExec(os.Args[0], os.Args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), f.Fd()},
	})
}

// GraceServer serves handler on addr and runs hooks after the drain,
// e.g. to stop schedulers and wait for background cleanups.
func GraceServer(addr string, handler http.Handler, hooks ...func()) error {
	srv := NewServer(addr, handler)
	for _, h := range hooks {
		srv.OnShutdown(h)
	}
	return srv.Run()
}
