package abci

import (
	"fmt"
	"os"
	"strings"

	abciserver "github.com/tendermint/tendermint/abci/server"
	"github.com/tendermint/tendermint/libs/service"
)

// Server exposes the application to a consensus engine over an ABCI socket.
// The engine runs as a separate process and connects three times (consensus,
// mempool, query); the application's own locking keeps them consistent.
type Server struct {
	server  service.Service
	address string
}

// NewServer creates a socket server for the application. The address is a
// Tendermint listen address such as "unix://zkledger.sock" or
// "tcp://127.0.0.1:26658". The server is created stopped.
func NewServer(app *Application, address string) (*Server, error) {
	if address == "" {
		return nil, fmt.Errorf("listen address cannot be empty")
	}
	return &Server{
		server:  abciserver.NewSocketServer(address, app),
		address: address,
	}, nil
}

// Start begins listening for consensus connections.
func (s *Server) Start() error {
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("start abci server: %w", err)
	}
	return nil
}

// Stop shuts the server down and removes a leftover unix socket file.
func (s *Server) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return fmt.Errorf("stop abci server: %w", err)
		}
	}
	if path, ok := strings.CutPrefix(s.address, "unix://"); ok {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
	}
	return nil
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.address
}
