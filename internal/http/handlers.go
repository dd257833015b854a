package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

const settingsCacheKey = "settings"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		WriteError(w, ErrServiceUnavailable.WithDetail("store not reachable"))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.cache != nil {
		if b, ok := s.cache.Get(settingsCacheKey); ok {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		}
	}
	st, err := s.store.Settings().Get(r.Context())
	if err != nil {
		s.log.Error("load settings", zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}
	if s.cache != nil {
		if b, err := json.Marshal(st); err == nil {
			s.cache.Set(settingsCacheKey, b, 30*time.Second)
		}
	}
	WriteJSON(w, http.StatusOK, st)
}

var hhmm = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func validateSettings(st core.Settings) *HTTPError {
	if tw := st.Conditions.TimeWindow; tw.Enabled {
		if !hhmm.MatchString(tw.StartTime) || !hhmm.MatchString(tw.EndTime) {
			return ErrBadRequest.WithDetail("time window must use HH:mm")
		}
		if tw.Timezone != "" {
			if _, err := time.LoadLocation(tw.Timezone); err != nil {
				return ErrBadRequest.WithDetail("unknown timezone " + tw.Timezone)
			}
		}
	}
	if dl := st.Conditions.DailyLimit; dl.Enabled && dl.MaxApprovals <= 0 {
		return ErrBadRequest.WithDetail("maxApprovals must be positive when the daily limit is enabled")
	}
	if rc := st.Conditions.Roles; rc.Enabled && len(rc.AllowedRoles) == 0 {
		return ErrBadRequest.WithDetail("allowedRoles must not be empty when the role gate is enabled")
	}
	return nil
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var st core.Settings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		WriteError(w, ErrInvalidJSON)
		return
	}
	if herr := validateSettings(st); herr != nil {
		WriteError(w, herr)
		return
	}
	if st.ApprovalNote == "" {
		st.ApprovalNote = core.DefaultSettings().ApprovalNote
	}
	if err := s.store.Settings().Save(r.Context(), st); err != nil {
		s.log.Error("save settings", zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}
	if s.cache != nil {
		s.cache.Delete(settingsCacheKey)
	}
	saved, err := s.store.Settings().Get(r.Context())
	if err != nil {
		s.log.Error("reload settings", zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.store.Requests().PendingUnexpired(r.Context(), time.Now())
	if err != nil {
		s.log.Error("list pending requests", zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}
	if reqs == nil {
		reqs = []*core.LoginRequest{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"requests": reqs, "count": len(reqs)})
}

func (s *Server) handleListRecent(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-5 * time.Minute)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, ErrBadRequest.WithDetail("since must be RFC3339"))
			return
		}
		since = t
	}
	reqs, err := s.store.Requests().RecentPending(r.Context(), since, 50)
	if err != nil {
		s.log.Error("list recent requests", zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}
	if reqs == nil {
		reqs = []*core.LoginRequest{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"requests": reqs, "count": len(reqs)})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.store.Requests().Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		WriteError(w, ErrNotFound)
		return
	}
	if err != nil {
		s.log.Error("get request", zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

type decisionBody struct {
	ApproverID   string `json:"approverId"`
	ApproverName string `json:"approverName"`
	Note         string `json:"note"`
}

// decide is the shared manual approve/reject path. The conditional claim in
// the store makes a concurrent auto-approval lose cleanly with a 409.
func (s *Server) decide(w http.ResponseWriter, r *http.Request, to core.Status) {
	id := chi.URLParam(r, "id")
	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, ErrInvalidJSON)
		return
	}
	if body.ApproverID == "" || body.ApproverName == "" {
		WriteError(w, ErrBadRequest.WithDetail("approverId and approverName are required"))
		return
	}

	by := core.HumanApprover(body.ApproverID, body.ApproverName)
	err := s.store.Requests().UpdateStatus(r.Context(), id, to, by, body.Note, clientIP(r), time.Now())
	switch {
	case errors.Is(err, core.ErrNotFound):
		WriteError(w, ErrNotFound)
		return
	case errors.Is(err, core.ErrNotPending):
		WriteError(w, ErrConflict.WithDetail("request already processed"))
		return
	case err != nil:
		s.log.Error("update request status", zap.String("request_id", id), zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}

	req, err := s.store.Requests().Get(r.Context(), id)
	if err != nil {
		s.log.Error("reload request", zap.String("request_id", id), zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, core.StatusApproved)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, core.StatusRejected)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res := s.sched.RunOnce(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	WriteJSON(w, status, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Settings().Get(r.Context())
	if err != nil {
		s.log.Error("load settings", zap.Error(err))
		WriteError(w, ErrInternalServer)
		return
	}
	sched := s.sched.GetStats()
	WriteJSON(w, http.StatusOK, map[string]any{
		"settings": st.Stats,
		"scheduler": map[string]any{
			"uptime":        int64(sched.Uptime.Seconds()),
			"totalChecks":   sched.TotalChecks,
			"totalApproved": sched.TotalApproved,
			"approvalRate":  sched.ApprovalRate,
		},
	})
}
