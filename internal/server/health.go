// Package server exposes the operational HTTP surface: health and
// metrics for monitoring, plus a small admin API for enrollments.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"warship-tracker/internal/config"
	"warship-tracker/internal/domain"
	"warship-tracker/internal/kv"
	"warship-tracker/internal/metrics"
	"warship-tracker/internal/repository"
)

type HealthServer struct {
	store       kv.Store
	metrics     *metrics.Recorder
	enrollments *repository.EnrollmentRepository
	logger      zerolog.Logger

	clientName string
	interval   time.Duration
	now        func() time.Time
}

func NewHealthServer(
	store kv.Store,
	recorder *metrics.Recorder,
	enrollments *repository.EnrollmentRepository,
	cfg *config.Config,
	logger zerolog.Logger,
) *HealthServer {
	return &HealthServer{
		store:       store,
		metrics:     recorder,
		enrollments: enrollments,
		logger:      logger,
		clientName:  cfg.ClientName,
		interval:    cfg.SchedulerInterval,
		now:         time.Now,
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	SchedulerAlive bool   `json:"scheduler_alive"`
	LastTickAt     int64  `json:"last_tick_at,omitempty"`
}

// Health reports process liveness plus the scheduler's published
// liveness marker.
func (s *HealthServer) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	marker, err := s.store.Get(r.Context(), "status:"+s.clientName)
	if err == nil {
		if ts, perr := strconv.ParseInt(marker, 10, 64); perr == nil {
			resp.LastTickAt = ts
			resp.SchedulerAlive = s.now().Unix()-ts < int64((s.interval + 60*time.Second).Seconds())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Metrics returns the day's refresh counters.
func (s *HealthServer) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot(r.Context()))
}

type enrollRequest struct {
	Region    int   `json:"region"`
	AccountID int64 `json:"account_id"`
	Pro       bool  `json:"pro"`
	Limit     int   `json:"limit"`
}

// Enroll turns the recent feature on for one account.
func (s *HealthServer) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	key := domain.AccountKey{Region: domain.Region(req.Region), AccountID: req.AccountID}
	if !key.Region.Valid() || key.AccountID <= 0 {
		http.Error(w, "invalid region or account id", http.StatusBadRequest)
		return
	}

	var err error
	if req.Pro {
		limit := req.Limit
		if limit <= 0 {
			limit = 30
		}
		err = s.enrollments.EnableRecentPro(r.Context(), key, limit)
	} else {
		err = s.enrollments.EnableRecent(r.Context(), key)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("account", key.String()).Msg("failed to enroll account")
		http.Error(w, "enrollment failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Unenroll turns the recent feature off for one account.
func (s *HealthServer) Unenroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	key := domain.AccountKey{Region: domain.Region(req.Region), AccountID: req.AccountID}
	if !key.Region.Valid() || key.AccountID <= 0 {
		http.Error(w, "invalid region or account id", http.StatusBadRequest)
		return
	}
	if err := s.enrollments.DisableRecent(r.Context(), key); err != nil {
		s.logger.Error().Err(err).Str("account", key.String()).Msg("failed to unenroll account")
		http.Error(w, "unenrollment failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
