package gateway

import (
	"net/http"
	"time"

	"toolbridge/internal/domain"
	"toolbridge/internal/usecase/catalog"
)

type toolsResponse struct {
	Tools []catalog.ToolInfo `json:"tools"`
	Count int                `json:"count"`
}

type healthResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Tools         int                     `json:"tools"`
	Upstream      *domain.ExecutionResult `json:"upstream,omitempty"`
}

type reloadResponse struct {
	Tools int `json:"tools"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.catalog.ListTools()
	writeJSON(w, http.StatusOK, toolsResponse{Tools: tools, Count: len(tools)})
}

// handleExecuteTool runs one tool synchronously. Execution failures are
// reported in the result body with status 200.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var params domain.Params
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.catalog.ExecuteTool(r.Context(), name, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHealth reports liveness. With ?upstream=1 it also checks the
// target API and answers 503 when that check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Tools:         len(s.catalog.ListTools()),
	}
	status := http.StatusOK

	if r.URL.Query().Get("upstream") == "1" {
		upstream := s.catalog.HealthCheck(r.Context())
		resp.Upstream = &upstream
		if !upstream.Success {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := s.catalog.Reload(r.Context())
	if err != nil {
		s.logger.Warn("catalog reload failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Tools: n})
}
