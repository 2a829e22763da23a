package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"MarginSync/internal/history"
	"MarginSync/internal/observability"
	"MarginSync/internal/registry"
	"MarginSync/internal/venue"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// Deps holds everything the HTTP API serves from.
type Deps struct {
	Registry   *registry.Registry
	Reconciler *history.Reconciler
	GRPC       *GRPCServer
	Health     *observability.HealthChecker
	Metrics    *observability.Metrics
}

// HTTPServer is the JSON API. Routes are registered on a grpc-gateway
// ServeMux so the wire shapes stay gateway-compatible.
type HTTPServer struct {
	deps       *Deps
	httpServer *http.Server
	httpAddr   string
}

// NewHTTPServer creates the HTTP API server.
func NewHTTPServer(httpAddr string, deps *Deps) *HTTPServer {
	return &HTTPServer{deps: deps, httpAddr: httpAddr}
}

// Start starts the HTTP server (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/status", s.handleStatus},
		{http.MethodGet, "/v1/accounts", s.handleAccounts},
		{http.MethodGet, "/v1/accounts/active", s.handleActiveAccount},
		{http.MethodGet, "/v1/accounts/all-groups", s.handleAllGroups},
		{http.MethodGet, "/v1/trades", s.handleTrades},
		{http.MethodPost, "/v1/connect", s.handleConnect},
		{http.MethodPost, "/v1/disconnect", s.handleDisconnect},
		{http.MethodPost, "/v1/accounts/select", s.handleSelect},
		{http.MethodPost, "/v1/accounts/create", s.handleCreate},
		{http.MethodPost, "/v1/refresh", s.handleRefresh},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return err
		}
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP API listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Handlers ---

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	st := s.deps.Registry.Snapshot()
	s.writeJSON(w, "status", http.StatusOK, statusView(st))
}

func (s *HTTPServer) handleAccounts(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	accounts := s.deps.Registry.Accounts()
	out := make([]accountView, 0, len(accounts))
	for _, ae := range accounts {
		out = append(out, toAccountView(ae))
	}
	s.writeJSON(w, "accounts", http.StatusOK, map[string]interface{}{"accounts": out})
}

func (s *HTTPServer) handleActiveAccount(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ae := s.deps.Registry.ActiveAccount()
	if ae == nil {
		s.writeError(w, "active_account", http.StatusNotFound, errors.New("no active account"))
		return
	}
	s.writeJSON(w, "active_account", http.StatusOK, toAccountView(*ae))
}

func (s *HTTPServer) handleAllGroups(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	accounts, err := s.deps.Registry.AllAccountsWithEquity(r.Context())
	if err != nil {
		s.writeError(w, "all_groups", statusFor(err), err)
		return
	}
	out := make([]accountView, 0, len(accounts))
	for _, ae := range accounts {
		out = append(out, toAccountView(ae))
	}
	s.writeJSON(w, "all_groups", http.StatusOK, map[string]interface{}{"accounts": out})
}

func (s *HTTPServer) handleTrades(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	trades, loading := s.deps.Reconciler.Snapshot()
	out := make([]tradeView, 0, len(trades))
	for _, f := range trades {
		out = append(out, toTradeView(f))
	}
	s.writeJSON(w, "trades", http.StatusOK, map[string]interface{}{
		"account": string(s.deps.Reconciler.ActiveAccount()),
		"loading": loading,
		"trades":  out,
	})
}

func (s *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Owner == "" {
		s.writeError(w, "connect", http.StatusBadRequest, errors.New("owner is required"))
		return
	}
	if err := s.deps.Registry.Connect(r.Context(), venue.Address(body.Owner)); err != nil {
		s.writeError(w, "connect", statusFor(err), err)
		return
	}
	if s.deps.GRPC != nil {
		s.deps.GRPC.SetServing(true)
	}
	s.writeJSON(w, "connect", http.StatusOK, statusView(s.deps.Registry.Snapshot()))
}

func (s *HTTPServer) handleDisconnect(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.deps.Registry.Disconnect()
	if s.deps.GRPC != nil {
		s.deps.GRPC.SetServing(false)
	}
	s.writeJSON(w, "disconnect", http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *HTTPServer) handleSelect(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Address == "" {
		s.writeError(w, "select", http.StatusBadRequest, errors.New("address is required"))
		return
	}
	if err := s.deps.Registry.SelectAccount(venue.Address(body.Address)); err != nil {
		s.writeError(w, "select", statusFor(err), err)
		return
	}
	active := s.deps.Registry.ActiveAccount()
	if active == nil {
		// Disconnected between select and read.
		s.writeError(w, "select", http.StatusConflict, errors.New("no active account"))
		return
	}
	s.writeJSON(w, "select", http.StatusOK, toAccountView(*active))
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	acct, err := s.deps.Registry.CreateAccount(r.Context())
	if err != nil {
		s.writeError(w, "create", statusFor(err), err)
		return
	}
	s.writeJSON(w, "create", http.StatusOK, map[string]string{"address": string(acct.Address)})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := s.deps.Registry.RefreshAll(r.Context()); err != nil {
		s.writeError(w, "refresh", statusFor(err), err)
		return
	}
	s.writeJSON(w, "refresh", http.StatusOK, statusView(s.deps.Registry.Snapshot()))
}

// --- Helpers ---

func statusFor(err error) int {
	var collab *registry.CollaboratorError
	switch {
	case errors.Is(err, registry.ErrNotConnected), errors.Is(err, registry.ErrNoGroup):
		return http.StatusConflict
	case errors.Is(err, registry.ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, registry.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.As(err, &collab):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, endpoint string, code int, v interface{}) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.APIRequests.WithLabelValues(endpoint, http.StatusText(code)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, code int, err error) {
	s.writeJSON(w, endpoint, code, map[string]string{"error": err.Error()})
}
