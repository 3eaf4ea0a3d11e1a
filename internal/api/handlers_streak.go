package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	apperrors "github.com/vault-streak/internal/errors"
	"github.com/vault-streak/internal/service"
	"github.com/vault-streak/internal/streak"
	"github.com/vault-streak/internal/types"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
	maxActivityDays    = 366 // Day-keys per activity query, inclusive
)

// logEventRequest is the body of POST /api/streaks/events
type logEventRequest struct {
	VaultID   string                `json:"vaultId"`
	Wallet    string                `json:"wallet"`
	Type      types.QualifyingEvent `json:"type"`
	At        *int64                `json:"at,omitempty"` // Milliseconds since epoch; defaults to now
	AmountUSD *float64              `json:"amountUsd,omitempty"`
}

// handleLogEvent handles POST /api/streaks/events
func (s *Server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	var req logEventRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	at := s.now().UnixMilli()
	if req.At != nil {
		at = *req.At
	}

	result, err := s.streakService.LogEvent(r.Context(), &service.LogEventInput{
		VaultID:   req.VaultID,
		Wallet:    req.Wallet,
		Type:      req.Type,
		At:        at,
		AmountUSD: req.AmountUSD,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Accepted {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}

// handleGetStreak handles GET /api/streaks/{wallet}/{vaultId}
func (s *Server) handleGetStreak(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	view, err := s.streakService.GetStreak(r.Context(), vars["wallet"], vars["vaultId"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleListEvents handles GET /api/streaks/{wallet}/{vaultId}/events
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	// Out-of-range or malformed limits fall back to the default
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events, err := s.streakService.ListEvents(r.Context(), vars["wallet"], vars["vaultId"], limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"limit":  limit,
	})
}

// handleListMilestones handles GET /api/milestones
func (s *Server) handleListMilestones(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"milestones": streak.Milestones(),
	})
}

// handleGetMilestoneProgress handles GET /api/milestones/{current}
func (s *Server) handleGetMilestoneProgress(w http.ResponseWriter, r *http.Request) {
	current, err := strconv.Atoi(mux.Vars(r)["current"])
	if err != nil || current < 0 {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("current", "must be a non-negative integer"))
		return
	}

	respondJSON(w, http.StatusOK, streak.Progress(current))
}

// handleVaultActivity handles GET /api/vaults/{vaultId}/activity?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleVaultActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Event archive is not enabled", nil)
		return
	}

	vaultID := mux.Vars(r)["vaultId"]
	query := r.URL.Query()

	to := service.LastMidnight(s.now())
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(streak.DayKeyLayout, raw)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("to", "must be a YYYY-MM-DD date"))
			return
		}
		to = parsed
	}

	from := to.AddDate(0, 0, -29)
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(streak.DayKeyLayout, raw)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("from", "must be a YYYY-MM-DD date"))
			return
		}
		from = parsed
	}

	if from.After(to) {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("from", "must not be after to"))
		return
	}
	// Both ends are inclusive, so the span covers at most maxActivityDays day-keys
	if to.Sub(from) >= maxActivityDays*24*time.Hour {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("from", "range must not exceed 366 days"))
		return
	}

	fromKey := from.Format(streak.DayKeyLayout)
	toKey := to.Format(streak.DayKeyLayout)

	counts, err := s.activity.DailyActiveWallets(r.Context(), vaultID, fromKey, toKey)
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("daily active wallets", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vaultId": vaultID,
		"from":    fromKey,
		"to":      toKey,
		"wallets": counts,
	})
}
