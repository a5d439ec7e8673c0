// Package api exposes the node's REST surface over gorilla/mux. Handlers
// pass the raw wire JSON body straight to controller, which parses it --
// all protocol logic lives there, not in this package.
package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Benedikt1992/blockchain-vaccination-records/controller"
)

// Server is the node's HTTP REST front end.
type Server struct {
	addr string
	srv  *http.Server
	ln   net.Listener
}

// NewServer builds a Server bound to addr, routing spec-named endpoints to
// ctrl.
func NewServer(addr string, ctrl *controller.Controller) *Server {
	h := &handlers{ctrl: ctrl}
	r := mux.NewRouter()
	r.HandleFunc("/new_block", h.newBlock).Methods(http.MethodPost)
	r.HandleFunc("/new_transaction", h.newTransaction).Methods(http.MethodPost)
	r.HandleFunc("/new_judgement", h.newJudgement).Methods(http.MethodPost)
	r.HandleFunc("/sync_request", h.syncRequest).Methods(http.MethodPost)
	r.HandleFunc("/latest_block", h.latestBlock).Methods(http.MethodGet)
	r.HandleFunc("/block_by_index/{i}", h.blockByIndex).Methods(http.MethodGet)
	r.HandleFunc("/block_by_hash/{h}", h.blockByHash).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler())

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start binds the port synchronously so callers know immediately if binding
// fails, then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listener's address. Useful when started on ":0".
func (s *Server) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
