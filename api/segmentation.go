package api

import (
	"encoding/base64"
	"image"
	"net/http"

	"retouch_backend/sdruntime"
	"retouch_backend/segmentation"

	"go.uber.org/zap"
)

// SegmentResponse carries the best mask as base64 PNG.
type SegmentResponse struct {
	Mask  string  `json:"mask"`
	Score float64 `json:"score"`
}

// segmentImage parses the form and decodes the required image upload. It
// writes the error response itself and returns nil on failure.
func (s *Server) segmentImage(w http.ResponseWriter, r *http.Request) *image.RGBA {
	if err := s.parseForm(w, r); err != nil {
		writeFormError(w, err)
		return nil
	}
	data, err := formFile(r, "image")
	if err != nil || len(data) == 0 {
		badRequest(w, "image is required")
		return nil
	}
	img, err := sdruntime.DecodeImage(data)
	if err != nil {
		badRequest(w, err.Error())
		return nil
	}
	return img
}

func (s *Server) handleSegmentPoints(w http.ResponseWriter, r *http.Request) {
	img := s.segmentImage(w, r)
	if img == nil {
		return
	}

	raw, _ := formValue(r, "points")
	points, err := segmentation.ParsePoints(raw)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	raw, _ = formValue(r, "labels")
	labels, err := segmentation.ParseLabels(raw)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	multimask, err := formBool(r, "multimask_output", true)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	pred, err := s.opts.Segmenter.SegmentFromPoints(r.Context(), img, points, labels, multimask)
	if err != nil {
		s.writeSegmentError(w, err)
		return
	}
	s.writeMask(w, pred)
}

func (s *Server) handleSegmentBox(w http.ResponseWriter, r *http.Request) {
	img := s.segmentImage(w, r)
	if img == nil {
		return
	}
	raw, _ := formValue(r, "box")
	box, err := segmentation.ParseBox(raw)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	pred, err := s.opts.Segmenter.SegmentFromBox(img, box)
	if err != nil {
		s.writeSegmentError(w, err)
		return
	}
	s.writeMask(w, pred)
}

func (s *Server) writeSegmentError(w http.ResponseWriter, err error) {
	if segmentation.IsValidation(err) {
		badRequest(w, err.Error())
		return
	}
	s.logger.Error("segmentation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "segmentation_error", err.Error())
}

func (s *Server) writeMask(w http.ResponseWriter, pred segmentation.Prediction) {
	png, err := sdruntime.EncodePNG(pred.Mask)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SegmentResponse{
		Mask:  base64.StdEncoding.EncodeToString(png),
		Score: pred.Score,
	})
}
