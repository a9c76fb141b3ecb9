package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/pkg/schema"
)

type submitRequest struct {
	MerchantID  string         `json:"merchant_id"`
	Application map[string]any `json:"application"`

	// Simulate lists simulation flags applied to this run only.
	Simulate []string `json:"simulate,omitempty"`
}

type resumeRequest struct {
	UpdatedData map[string]any `json:"updated_data"`
	UserMessage string         `json:"user_message"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.MerchantID == "" {
		writeError(w, http.StatusBadRequest, "merchant_id is required")
		return
	}
	if len(req.Application) == 0 {
		writeError(w, http.StatusBadRequest, "application is required")
		return
	}

	runID, err := s.deps.Manager.Submit(r.Context(), req.MerchantID, req.Application, req.Simulate...)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": schema.JobStatusQueued,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	job, err := s.deps.Manager.Status(r.Context(), runID)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}

	resp := map[string]any{
		"run_id":      job.RunID,
		"merchant_id": job.MerchantID,
		"status":      job.Status,
		"stage":       job.Stage,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.ErrorMessage != "" {
		resp["error_message"] = job.ErrorMessage
	}
	if len(job.Result) > 0 {
		resp["result"] = json.RawMessage(job.Result)
	}

	summary, err := s.deps.Ledger.Summary(r.Context(), runID)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	resp["action_items"] = summary

	// A paused run carries its full ledger so the caller sees what to fix
	// without a second round trip.
	if job.Status == schema.JobStatusNeedsReview {
		items, err := s.deps.Ledger.List(r.Context(), runID, true)
		if err != nil {
			writeError(w, httpStatusFor(err), err.Error())
			return
		}
		resp["items"] = items
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	includeResolved := queryBool(r, "include_resolved")

	if _, err := s.deps.Manager.Status(r.Context(), runID); err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}

	items, err := s.deps.Ledger.List(r.Context(), runID, includeResolved)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	summary, err := s.deps.Ledger.Summary(r.Context(), runID)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"items":   items,
		"summary": summary,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.UpdatedData) == 0 && req.UserMessage == "" {
		writeError(w, http.StatusBadRequest, "updated_data or user_message is required")
		return
	}

	fieldsUpdated, err := s.deps.Manager.Resume(r.Context(), runID, req.UpdatedData, req.UserMessage)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":         runID,
		"status":         schema.JobStatusProcessing,
		"fields_updated": fieldsUpdated,
	})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	cps, err := s.deps.Store.ListCheckpoints(r.Context(), runID)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	if len(cps) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}

	out := make([]map[string]any, 0, len(cps))
	for _, cp := range cps {
		entry := map[string]any{
			"seq":        cp.Seq,
			"stage":      cp.Stage,
			"created_at": cp.CreatedAt,
		}
		if cp.State != nil {
			entry["status"] = cp.State.Status
			entry["retry_count"] = cp.State.RetryCount
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      runID,
		"checkpoints": out,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		MerchantID: r.URL.Query().Get("merchant_id"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := schema.JobStatus(raw)
		switch status {
		case schema.JobStatusQueued, schema.JobStatusProcessing, schema.JobStatusNeedsReview,
			schema.JobStatusCompleted, schema.JobStatusFailed:
			filter.Status = &status
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
	}

	jobs, err := s.deps.Manager.List(r.Context(), filter)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSimulateList(w http.ResponseWriter, _ *http.Request) {
	sim := s.deps.Registry.Simulation()
	if sim == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": sim.Snapshot()})
}

func (s *Server) handleSimulateSet(w http.ResponseWriter, r *http.Request) {
	sim := s.deps.Registry.Simulation()
	if sim == nil {
		writeError(w, http.StatusConflict, "simulation is not enabled")
		return
	}

	var req struct {
		Flag    string `json:"flag"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Flag == "" {
		writeError(w, http.StatusBadRequest, "flag is required")
		return
	}

	sim.Set(req.Flag, req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"enabled": sim.Snapshot()})
}

func (s *Server) handleSimulateReset(w http.ResponseWriter, _ *http.Request) {
	sim := s.deps.Registry.Simulation()
	if sim != nil {
		sim.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": []string{}})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	infos := s.deps.Registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": infos,
		"count": len(infos),
	})
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"entry": s.deps.Graph.Entry(),
		"edges": s.deps.Graph.Describe(),
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusConflict, "scheduler is not running")
		return
	}
	s.deps.Scheduler.Sweep(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
}
