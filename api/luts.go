package api

import (
	"net/http"
	"strings"

	"retouch_backend/sdruntime"

	"go.uber.org/zap"
)

func (s *Server) handleLUTHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "luts"})
}

func (s *Server) handleLUTList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"luts": s.opts.LUTs.List()})
}

// handleLUTApply grades the uploaded image and streams it back as PNG.
// Unknown preset names grade with a neutral factor.
func (s *Server) handleLUTApply(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		writeFormError(w, err)
		return
	}

	data, err := formFile(r, "image")
	if err != nil || len(data) == 0 {
		badRequest(w, "image is required")
		return
	}
	name, ok := formValue(r, "lut_name")
	if !ok || strings.TrimSpace(name) == "" {
		badRequest(w, errMissing("lut_name").Error())
		return
	}
	intensity, err := formFloat(r, "intensity", 1.0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	img, err := sdruntime.DecodeImage(data)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if _, known := s.opts.LUTs.Factor(name); !known {
		s.logger.Debug("unknown lut preset", zap.String("lut_name", name))
	}

	out, err := sdruntime.EncodePNG(s.opts.LUTs.Apply(img, name, intensity))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
