package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"retouch_backend/orchestrator"
	"retouch_backend/sdruntime"

	"go.uber.org/zap"
)

const maxHistoryLimit = 200

// ProcessResponse is the body of a successful /retouch/process call.
type ProcessResponse struct {
	ID          string            `json:"id"`
	ImageBase64 string            `json:"image_base64"`
	Meta        orchestrator.Meta `json:"meta"`
}

// CapabilitiesResponse is the body of /retouch/capabilities.
type CapabilitiesResponse struct {
	ModelsLoaded bool                 `json:"models_loaded"`
	Device       sdruntime.DeviceKind `json:"device"`
	Capabilities []string             `json:"capabilities"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": ServiceName, "status": "ok"})
}

// handleHealth triggers the one-time load, so it doubles as a readiness
// probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.opts.Retoucher.Health(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "device": h.Device})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	h, err := s.opts.Retoucher.Health(r.Context())
	if err != nil {
		s.logger.Warn("capabilities requested before models loaded", zap.Error(err))
	}
	device := h.Device
	if device == "" {
		device = sdruntime.DeviceCPU
	}
	writeJSON(w, http.StatusOK, CapabilitiesResponse{
		ModelsLoaded: h.Loaded,
		Device:       device,
		Capabilities: h.Capabilities,
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		writeFormError(w, err)
		return
	}

	req, err := processRequest(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := s.opts.Retoucher.Process(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("X-Generation-Id", res.ID)
	writeJSON(w, http.StatusOK, ProcessResponse{
		ID:          res.ID,
		ImageBase64: base64.StdEncoding.EncodeToString(res.ImagePNG),
		Meta:        res.Meta,
	})
}

// processRequest reads the form fields, applying the documented defaults
// for absent ones.
func processRequest(r *http.Request) (orchestrator.Request, error) {
	req := orchestrator.DefaultRequest()

	prompt, ok := formValue(r, "prompt")
	if !ok {
		return req, errMissing("prompt")
	}
	req.Prompt = prompt
	if op, ok := formValue(r, "operation"); ok && strings.TrimSpace(op) != "" {
		req.Operation = op
	}

	var err error
	if req.Strength, err = formFloat(r, "strength", req.Strength); err != nil {
		return req, err
	}
	if req.GuidanceScale, err = formFloat(r, "guidance_scale", req.GuidanceScale); err != nil {
		return req, err
	}
	if req.Steps, err = formInt(r, "steps", req.Steps); err != nil {
		return req, err
	}
	if v, ok := formValue(r, "seed"); ok && strings.TrimSpace(v) != "" {
		seed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return req, errInvalid("seed", v)
		}
		req.Seed = &seed
	}
	if req.EnhanceFaces, err = formBool(r, "enhance_faces", false); err != nil {
		return req, err
	}
	if req.Upscale, err = formBool(r, "upscale", false); err != nil {
		return req, err
	}
	if req.UpscaleScale, err = formInt(r, "upscale_scale", req.UpscaleScale); err != nil {
		return req, err
	}

	if req.Image, err = formFile(r, "image"); err != nil {
		return req, err
	}
	if req.Mask, err = formFile(r, "mask"); err != nil {
		return req, err
	}
	return req, nil
}

// handleStats serves the in-memory counters. recent selects how many of the
// latest samples to include (default 10).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		writeError(w, http.StatusNotFound, "not_found", "stats are disabled")
		return
	}
	recent := 10
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "recent must be a non-negative integer")
			return
		}
		recent = min(n, maxHistoryLimit)
	}
	writeJSON(w, http.StatusOK, s.opts.Stats.Snapshot(recent))
}

// handleEvents reads back the published event list. Redis being down is
// reported as 503 since the rest of the service still works.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		writeError(w, http.StatusNotFound, "not_found", "event publishing is disabled")
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	evs, err := s.opts.Events.Recent(r.Context(), int64(limit))
	if err != nil {
		s.logger.Warn("events query failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "events_unavailable", "event store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, "not_found", "generation history is disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.opts.History.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
