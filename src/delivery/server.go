package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Blackdeer1524/GraphTxn/src"
)

type Server struct {
	log     src.Logger
	http    *http.Server
	host    string
	port    int
	handler http.Handler
}

func NewServer(log src.Logger, host string, port int, handler http.Handler) *Server {
	return &Server{
		log:     log,
		host:    host,
		port:    port,
		handler: handler,
	}
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, fmt.Sprint(s.port))
}

func (s *Server) Run() error {
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: time.Second * 10,
	}

	s.log.Infof("Admin server is running on %s", s.Addr())

	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("Server.Run http.ListenAndServe: %w", err)
	}

	return nil
}

func (s *Server) Close(ctx context.Context) error {
	if s.http == nil {
		return nil
	}

	if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("Server.Close http.Shutdown: %w", err)
	}

	s.log.Info("Admin server is closed")

	return nil
}
