package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahrav/go-nutriscan/infrastructure/llm"
	"github.com/ahrav/go-nutriscan/infrastructure/units"
	"github.com/ahrav/go-nutriscan/internal/application"
	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
)

// mealAnalyzer is the part of application.Service the HTTP layer needs.
type mealAnalyzer interface {
	Analyze(ctx context.Context, img ports.Image, ref domain.ImageRef, mode application.Mode) (domain.ConsensusResult, error)
}

// analyzeHandler serves POST /v1/analyze. The body is either the raw image
// or a base64 data URL. The optional "mode" and "ref" query parameters pick
// the analysis mode and the reference stamped on the result.
type analyzeHandler struct {
	analyzer     mealAnalyzer
	maxBodyBytes int64
	logger       *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *analyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mode, err := application.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	img, err := decodeImage(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ref := domain.ImageRef(r.URL.Query().Get("ref"))
	if ref == "" {
		ref = domain.ImageRef("upload:" + uuid.NewString())
	}

	start := time.Now()
	result, err := h.analyzer.Analyze(r.Context(), img, ref, mode)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("analysis request failed",
				zap.String("mode", string(mode)),
				zap.Int("status", status),
				zap.Error(err))
		}
		writeError(w, status, err)
		return
	}

	h.logger.Debug("analysis request served",
		zap.String("mode", string(mode)),
		zap.String("ref", string(ref)),
		zap.Duration("elapsed", time.Since(start)))
	writeJSON(w, http.StatusOK, result)
}

// decodeImage accepts raw image bytes or a "data:" URL.
func decodeImage(body []byte) (ports.Image, error) {
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("data:")) {
		return llm.ParseDataURL(string(trimmed))
	}
	return llm.NewImage(body)
}

// statusFor maps analysis errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, units.ErrNoFoodDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, units.ErrEmptyImage), errors.Is(err, application.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, units.ErrAllModelsFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
