package api

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/globalization/internal/domain"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/payment"
)

type pushRequest struct {
	Platform   string   `json:"platform"`
	Recipients []string `json:"recipients"`
	Content    string   `json:"content"`
	Async      bool     `json:"async"`
}

type pushResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Async {
		taskID, err := s.deps.Dispatcher.SendPushAsync(r.Context(), req.Platform, req.Recipients, req.Content)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, pushResponse{Status: "queued", TaskID: taskID})
		return
	}

	if err := s.deps.Dispatcher.SendPush(r.Context(), req.Platform, req.Recipients, req.Content); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pushResponse{Status: "sent"})
}

type payoutRequest struct {
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if strings.TrimSpace(req.UserID) == "" {
		s.writeError(w, r, apperrors.NewValidationError("user_id is required"))
		return
	}

	user, err := s.deps.Users.Get(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var opts []payment.PayOption
	if req.Currency != "" {
		opts = append(opts, payment.WithCurrency(req.Currency))
	}

	receipt, err := s.deps.Dispatcher.PayUser(r.Context(), req.Amount, *user, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if receipt.Status == domain.PayoutProcessing {
		status = http.StatusAccepted
	}
	if receipt.FromCache {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}

	writeJSON(w, status, receipt)
}

type renderRequest struct {
	Lang string `json:"lang"`
	Data any    `json:"data"`
}

type renderResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	text, err := s.deps.Dispatcher.GetTemplate(r.PathValue("key"), req.Lang, req.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, renderResponse{Text: text})
}

type auditRequest struct {
	Action  string         `json:"action"`
	UserID  string         `json:"user_id"`
	Details map[string]any `json:"details"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	entry, err := s.deps.Dispatcher.LogAudit(r.Context(), req.Action, req.UserID, req.Details)
	if err != nil {
		// the entry is chained even when a secondary sink failed
		if entry == nil {
			s.writeError(w, r, err)
			return
		}
		s.log.WarnContext(r.Context(), "audit entry stored with sink errors", "seq", entry.Seq, "error", err)
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if err := decodeJSON(w, r, &user); err != nil {
		s.writeError(w, r, err)
		return
	}

	id := r.PathValue("id")
	if user.ID != "" && user.ID != id {
		s.writeError(w, r, apperrors.NewValidationError("user id does not match the path"))
		return
	}
	user.ID = id

	if err := s.deps.Users.Upsert(r.Context(), &user); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	report := s.deps.Health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, report)
}
