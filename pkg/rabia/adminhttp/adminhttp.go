// Package adminhttp is the minimal HTTP control surface a running node
// exposes for operators and cmd/rabiactl: submitting batches and reading
// topology/leader status. It is infrastructure around the engine, not part
// of the consensus protocol.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jabolina/rabia/pkg/rabia/engine"
	"github.com/jabolina/rabia/pkg/rabia/leader"
	"github.com/jabolina/rabia/pkg/rabia/topology"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Server exposes POST /batches, GET /topology and GET /leader over HTTP.
type Server struct {
	engine *engine.Engine
	topo   *topology.Manager
	leader *leader.Manager // nil if the deployment runs without one
	log    zerolog.Logger

	srv *http.Server
}

// New builds a Server. leaderMgr may be nil.
func New(addr string, eng *engine.Engine, topo *topology.Manager, leaderMgr *leader.Manager, log zerolog.Logger) *Server {
	s := &Server{engine: eng, topo: topo, leader: leaderMgr, log: log.With().Str("component", "adminhttp").Logger()}
	mux := http.NewServeMux()
	mux.HandleFunc("/batches", s.handleBatches)
	mux.HandleFunc("/topology", s.handleTopology)
	mux.HandleFunc("/leader", s.handleLeader)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type submitRequest struct {
	Commands []string `json:"commands"` // base64-free: treated as raw UTF-8 payloads
}

type submitResponse struct {
	CorrelationId string   `json:"correlation_id"`
	Results       []string `json:"results,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	commands := make([]types.Command, len(req.Commands))
	for i, c := range req.Commands {
		commands[i] = types.Command(c)
	}

	handle, err := s.engine.Apply(commands)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	select {
	case <-ctx.Done():
		writeJSON(w, http.StatusGatewayTimeout, submitResponse{Error: "commit timed out"})
	case <-handle.Done():
		result := handle.Wait()
		resp := submitResponse{}
		if result.Err != nil {
			resp.Error = result.Err.Error()
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		for _, v := range result.Values {
			resp.Results = append(resp.Results, string(v.Value))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type topologyResponse struct {
	Members []string `json:"members"`
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	view := s.topo.View()
	members := make([]string, len(view.Members))
	for i, m := range view.Members {
		members[i] = string(m)
	}
	writeJSON(w, http.StatusOK, topologyResponse{Members: members})
}

type leaderResponse struct {
	Leader    string `json:"leader,omitempty"`
	HasLeader bool   `json:"has_leader"`
}

func (s *Server) handleLeader(w http.ResponseWriter, r *http.Request) {
	if s.leader == nil {
		writeJSON(w, http.StatusOK, leaderResponse{})
		return
	}
	id, ok := s.leader.Current()
	writeJSON(w, http.StatusOK, leaderResponse{Leader: string(id), HasLeader: ok})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
