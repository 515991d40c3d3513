package server

import (
	"errors"
	"net/http"
	"time"

	"mandi-alerts/internal/dispatch"
	"mandi-alerts/internal/ingest"
	"mandi-alerts/internal/metrics"
	"mandi-alerts/internal/rules"
	"mandi-alerts/internal/store"
)

type ruleResponse struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	SubjectKind     string     `json:"subject_kind"`
	SubjectKey      string     `json:"subject_key"`
	Operator        string     `json:"operator"`
	Threshold       float64    `json:"threshold"`
	Active          bool       `json:"active"`
	CooldownSeconds int64      `json:"cooldown_seconds"`
	LastFiredAt     *time.Time `json:"last_fired_at"`
	FiredCount      int64      `json:"fired_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toRuleResponse(r rules.Rule) ruleResponse {
	return ruleResponse{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		SubjectKind:     string(r.SubjectKind),
		SubjectKey:      r.SubjectKey,
		Operator:        string(r.Condition.Operator),
		Threshold:       r.Condition.Threshold,
		Active:          r.Active,
		CooldownSeconds: int64(r.Cooldown / time.Second),
		LastFiredAt:     r.LastFiredAt,
		FiredCount:      r.FiredCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toRuleResponses(in []rules.Rule) []ruleResponse {
	out := make([]ruleResponse, len(in))
	for i, r := range in {
		out[i] = toRuleResponse(r)
	}
	return out
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var verr *rules.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleSubmitDataPoint(w http.ResponseWriter, r *http.Request) {
	var tick ingest.Tick
	if err := decodeJSON(r, &tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dp, err := ingest.ParseTick(tick)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.DataPointsTotal.WithLabelValues(string(dp.SubjectKind), "http").Inc()
	if err := s.engine.Submit(r.Context(), dp); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// createRuleRequest accepts either a single condition rule, or the
// MandiSense price-band shorthand (min_price/max_price) which expands to a
// pair of rules: below-min and above-max.
type createRuleRequest struct {
	OwnerID         string   `json:"owner_id"`
	SubjectKind     string   `json:"subject_kind"`
	SubjectKey      string   `json:"subject_key"`
	Operator        string   `json:"operator"`
	Threshold       *float64 `json:"threshold"`
	CooldownSeconds int64    `json:"cooldown_seconds"`

	MinPrice *float64 `json:"min_price"`
	MaxPrice *float64 `json:"max_price"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.MinPrice != nil || req.MaxPrice != nil {
		s.createBandRules(w, r, req)
		return
	}

	if req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "threshold is required")
		return
	}

	created, err := s.rules.Create(r.Context(), rules.Rule{
		OwnerID:     req.OwnerID,
		SubjectKind: rules.SubjectKind(req.SubjectKind),
		SubjectKey:  req.SubjectKey,
		Condition:   rules.Condition{Operator: rules.Operator(req.Operator), Threshold: *req.Threshold},
		Cooldown:    time.Duration(req.CooldownSeconds) * time.Second,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(created))
}

func (s *Server) createBandRules(w http.ResponseWriter, r *http.Request, req createRuleRequest) {
	if req.MinPrice == nil || req.MaxPrice == nil {
		writeError(w, http.StatusBadRequest, "band rules require both min_price and max_price")
		return
	}
	if *req.MinPrice >= *req.MaxPrice {
		writeError(w, http.StatusBadRequest, "min_price must be below max_price")
		return
	}

	kind := rules.SubjectKind(req.SubjectKind)
	if req.SubjectKind == "" {
		kind = rules.SubjectPrice
	}
	cooldown := time.Duration(req.CooldownSeconds) * time.Second

	below, err := s.rules.Create(r.Context(), rules.Rule{
		OwnerID:     req.OwnerID,
		SubjectKind: kind,
		SubjectKey:  req.SubjectKey,
		Condition:   rules.Condition{Operator: rules.OpLess, Threshold: *req.MinPrice},
		Cooldown:    cooldown,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	above, err := s.rules.Create(r.Context(), rules.Rule{
		OwnerID:     req.OwnerID,
		SubjectKind: kind,
		SubjectKey:  req.SubjectKey,
		Condition:   rules.Condition{Operator: rules.OpGreater, Threshold: *req.MaxPrice},
		Cooldown:    cooldown,
	})
	if err != nil {
		// Do not leave a half-created band behind.
		_ = s.rules.Delete(r.Context(), below.ID)
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"rules": toRuleResponses([]rules.Rule{below, above}),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}

	found, err := s.rules.ListByOwner(r.Context(), ownerID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": toRuleResponses(found)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	found, err := s.rules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(found))
}

type updateRuleRequest struct {
	SubjectKey      *string  `json:"subject_key"`
	Operator        *string  `json:"operator"`
	Threshold       *float64 `json:"threshold"`
	Active          *bool    `json:"active"`
	CooldownSeconds *int64   `json:"cooldown_seconds"`
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req updateRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch := rules.RulePatch{
		SubjectKey: req.SubjectKey,
		Threshold:  req.Threshold,
		Active:     req.Active,
	}
	if req.Operator != nil {
		op := rules.Operator(*req.Operator)
		patch.Operator = &op
	}
	if req.CooldownSeconds != nil {
		cd := time.Duration(*req.CooldownSeconds) * time.Second
		patch.Cooldown = &cd
	}

	updated, err := s.rules.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(updated))
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.rules.Update(r.Context(), r.PathValue("id"), rules.RulePatch{Active: &req.Active})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(updated))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type channelSettingDTO struct {
	Enabled     bool   `json:"enabled"`
	Destination string `json:"destination"`
}

type preferenceDTO struct {
	SMS      channelSettingDTO `json:"sms"`
	WhatsApp channelSettingDTO `json:"whatsapp"`
	Email    channelSettingDTO `json:"email"`
	Push     channelSettingDTO `json:"push"`
}

func (s *Server) handlePutPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pref := rules.NotificationPreference{
		OwnerID:  r.PathValue("owner"),
		SMS:      rules.ChannelSetting(req.SMS),
		WhatsApp: rules.ChannelSetting(req.WhatsApp),
		Email:    rules.ChannelSetting(req.Email),
		Push:     rules.ChannelSetting(req.Push),
	}
	if err := s.prefs.PutPreference(r.Context(), pref); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	pref, err := s.prefs.GetPreference(r.Context(), r.PathValue("owner"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preferenceDTO{
		SMS:      channelSettingDTO(pref.SMS),
		WhatsApp: channelSettingDTO(pref.WhatsApp),
		Email:    channelSettingDTO(pref.Email),
		Push:     channelSettingDTO(pref.Push),
	})
}

type attemptDTO struct {
	Channel       string    `json:"channel"`
	Destination   string    `json:"destination"`
	Status        string    `json:"status"`
	AttemptNumber int       `json:"attempt_number"`
	Error         *string   `json:"error"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type deliveryStatusResponse struct {
	EventID  string       `json:"event_id"`
	Summary  string       `json:"summary"`
	Attempts []attemptDTO `json:"attempts"`
}

func toAttemptDTOs(in []rules.DeliveryAttempt) []attemptDTO {
	out := make([]attemptDTO, len(in))
	for i, at := range in {
		out[i] = attemptDTO{
			Channel:       string(at.Channel),
			Destination:   at.Destination,
			Status:        string(at.Status),
			AttemptNumber: at.AttemptNumber,
			Error:         at.Error,
			UpdatedAt:     at.UpdatedAt,
		}
	}
	return out
}

// handleDeliveryStatus reports per-channel outcomes so the UI can distinguish
// full, partial, and failed delivery; recent events come from the in-memory
// registry, older ones from the persistent delivery log when configured.
func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event")

	if st, ok := s.status.Status(eventID); ok {
		writeJSON(w, http.StatusOK, deliveryStatusResponse{
			EventID:  eventID,
			Summary:  string(st.Summarize()),
			Attempts: toAttemptDTOs(st.Attempts),
		})
		return
	}

	if s.deliveries != nil {
		attempts, err := s.deliveries.ListAttemptsByEvent(r.Context(), eventID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if len(attempts) > 0 {
			st := dispatch.DeliveryStatus{EventID: eventID, Attempts: attempts, CompletedAt: &attempts[0].UpdatedAt}
			writeJSON(w, http.StatusOK, deliveryStatusResponse{
				EventID:  eventID,
				Summary:  string(st.Summarize()),
				Attempts: toAttemptDTOs(attempts),
			})
			return
		}
	}

	writeError(w, http.StatusNotFound, "unknown event")
}
