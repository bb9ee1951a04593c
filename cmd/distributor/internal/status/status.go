package status

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/registry"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/supervisor"
)

// Response is the operational snapshot served at /status.
type Response struct {
	UpstreamState      string   `json:"upstreamState"`
	ActiveSymbols      []string `json:"activeSymbols"`
	ActiveSessionCount int      `json:"activeSessionCount"`
}

type Handler struct {
	sup *supervisor.Supervisor
	reg *registry.Registry
}

func NewHandler(sup *supervisor.Supervisor, reg *registry.Registry) *Handler {
	return &Handler{sup: sup, reg: reg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	symbols := h.reg.CurrentlySubscribed()
	sort.Strings(symbols)
	if symbols == nil {
		symbols = []string{}
	}

	resp := Response{
		UpstreamState:      h.sup.State().String(),
		ActiveSymbols:      symbols,
		ActiveSessionCount: h.reg.ActiveSessionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Healthz is a trivial liveness probe.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
