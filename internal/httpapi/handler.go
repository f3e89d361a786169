package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/formmail/internal/form"
	"github.com/shineum/formmail/internal/locale"
	"github.com/shineum/formmail/internal/metrics"
)

type handler struct {
	service       Submitter
	texts         *locale.Texts
	maxUploadSize int64
	metrics       *metrics.Metrics
}

type messageResponse struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// sendEmail handles POST /send_email. Validation failures are answered
// before any message is composed. Delivery failures are reported without
// detail.
func (h *handler) sendEmail(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	log := slog.With("request_id", middleware.GetReqID(r.Context()))

	sub, err := form.Parse(r, defaultMaxMemory)
	if err != nil {
		var verr *form.ValidationError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &verr):
			log.Info("submission rejected", "fields", verr.Fields)
			h.metrics.ObserveSubmission(metrics.OutcomeValidationFailed)
			respondJSON(w, http.StatusUnprocessableEntity, messageResponse{Message: h.texts.InvalidForm, Fields: verr.Fields})
		case errors.As(err, &tooLarge):
			log.Info("submission too large", "limit", tooLarge.Limit)
			h.metrics.ObserveSubmission(metrics.OutcomeTooLarge)
			respondJSON(w, http.StatusRequestEntityTooLarge, messageResponse{Message: h.texts.TooLarge})
		default:
			log.Info("malformed submission", "error", err)
			h.metrics.ObserveSubmission(metrics.OutcomeMalformed)
			respondJSON(w, http.StatusBadRequest, messageResponse{Message: h.texts.MalformedForm})
		}
		return
	}

	// The send is not abandoned when the client goes away.
	out := h.service.Submit(context.WithoutCancel(r.Context()), sub)
	if !out.Delivered {
		respondJSON(w, http.StatusBadRequest, messageResponse{Message: h.texts.SendFailed})
		return
	}

	respondJSON(w, http.StatusOK, messageResponse{Message: h.texts.Sent})
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
