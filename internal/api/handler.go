package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/usecase"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/service"
)

// Server exposes the read-only statistics surface and the rule reload
// trigger over HTTP. The pipeline itself never depends on it.
type Server struct {
	log   *usecase.ExecutionLog
	store *usecase.RuleStore
	loop  *service.DispatchLoop
	pool  *service.WorkerPool

	server *http.Server
	port   int
}

// NewServer creates a status server.
func NewServer(log *usecase.ExecutionLog, store *usecase.RuleStore, loop *service.DispatchLoop, pool *service.WorkerPool, port int) *Server {
	return &Server{log: log, store: store, loop: loop, pool: pool, port: port}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/rules", s.handleRules)
	mux.HandleFunc("/api/rules/reload", s.handleReload)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

// Start starts the HTTP server. Blocks.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler: s.Handler(),
	}

	fmt.Printf("[API] Starting HTTP server on port %d\n", s.port)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// ruleStatsView is the per-rule statistics payload.
type ruleStatsView struct {
	Name            string `json:"name"`
	Enabled         bool   `json:"enabled"`
	Priority        int    `json:"priority"`
	TriggerCount    int64  `json:"trigger_count"`
	SuccessCount    int64  `json:"success_count"`
	FailureCount    int64  `json:"failure_count"`
	LastTriggeredAt string `json:"last_triggered_at,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.log.StatsSnapshot()
	set := s.store.Rules()

	rules := make([]ruleStatsView, 0, len(set.Rules))
	listed := make(map[string]struct{}, len(set.Rules))
	for _, rule := range set.Rules {
		listed[rule.Name] = struct{}{}
		view := ruleStatsView{
			Name:     rule.Name,
			Enabled:  rule.Enabled,
			Priority: rule.Priority,
		}
		if st, ok := stats[rule.Name]; ok {
			view.TriggerCount = st.TriggerCount
			view.SuccessCount = st.SuccessCount
			view.FailureCount = st.FailureCount
			if !st.LastTriggeredAt.IsZero() {
				view.LastTriggeredAt = st.LastTriggeredAt.Format(time.RFC3339)
			}
		}
		rules = append(rules, view)
	}

	// Rollups with no backing rule definition: the default catch-all
	// reply and other pseudo-rules live only in the stats map.
	extra := make([]string, 0)
	for name := range stats {
		if _, ok := listed[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		st := stats[name]
		view := ruleStatsView{
			Name:         name,
			TriggerCount: st.TriggerCount,
			SuccessCount: st.SuccessCount,
			FailureCount: st.FailureCount,
		}
		if !st.LastTriggeredAt.IsZero() {
			view.LastTriggeredAt = st.LastTriggeredAt.Format(time.RFC3339)
		}
		rules = append(rules, view)
	}

	s.writeJSON(w, map[string]interface{}{
		"rules": rules,
		"global": map[string]interface{}{
			"total_messages_processed": s.log.TotalProcessed(),
			"pending_count":            s.pool.Pending(),
			"loop_state":               s.loop.State().String(),
			"consecutive_errors":       s.loop.ConsecutiveErrors(),
		},
	})
}

// ruleView is the rule listing payload.
type ruleView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
	Action      string `json:"action"`
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	set := s.store.Rules()
	rules := make([]ruleView, 0, len(set.Rules))
	for _, rule := range set.Rules {
		rules = append(rules, ruleView{
			Name:        rule.Name,
			Description: rule.Description,
			Priority:    rule.Priority,
			Enabled:     rule.Enabled,
			Action:      string(rule.Action.Type),
		})
	}
	s.writeJSON(w, map[string]interface{}{
		"rules":     rules,
		"loaded_at": set.LoadedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// A failed reload leaves the previously active set in force.
	if err := s.store.Reload(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"success": true,
		"rules":   len(s.store.Rules().Rules),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
