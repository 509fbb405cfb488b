// Package app exposes the session service over HTTP/JSON with a
// server-sent-events stream for session subscriptions.
package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/louisbranch/chartdetectives/internal/game/issue"
	"github.com/louisbranch/chartdetectives/internal/game/service"
	"github.com/louisbranch/chartdetectives/internal/game/session"
	"github.com/louisbranch/chartdetectives/internal/game/storage"
	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
	grpccodes "google.golang.org/grpc/codes"
)

type snapshotPayload struct {
	Session session.Session `json:"session"`
	Version uint64          `json:"version"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Handler builds the HTTP routing table for the session service.
func Handler(svc *service.Service, stats storage.StatisticsStore) http.Handler {
	h := &handler{svc: svc, stats: stats}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v1/statistics", h.getStatistics)

	mux.HandleFunc("POST /v1/sessions", h.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("GET /v1/sessions/{id}/events", h.streamEvents)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", h.resetSession)
	mux.HandleFunc("GET /v1/memberships/{identity}", h.findSession)

	mux.HandleFunc("POST /v1/sessions/{id}/groups", h.addGroup)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/participants", h.addParticipant)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/activate", h.activateGroup)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/terminate", h.terminateGroup)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/reset", h.resetGroup)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/annotations", h.annotate)
	mux.HandleFunc("PUT /v1/sessions/{id}/groups/{groupID}/draft", h.saveDraft)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/draft/generate", h.generateDraft)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/report", h.submitReport)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/advance", h.advanceRound)

	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/training/learned", h.markLearned)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/training/practice", h.submitPractice)
	mux.HandleFunc("POST /v1/sessions/{id}/groups/{groupID}/training/analysis", h.submitAnalysis)

	return mux
}

type handler struct {
	svc   *service.Service
	stats storage.StatisticsStore
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FacilitatorIdentity string `json:"facilitatorIdentity"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.CreateSession(r.Context(), req.FacilitatorIdentity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotPayload{Session: snap.Session, Version: snap.Version})
}

func (h *handler) findSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.FindSession(r.Context(), r.PathValue("identity"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotPayload{Session: snap.Session, Version: snap.Version})
}

func (h *handler) resetSession(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.ResetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *handler) addGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	g, err := h.svc.AddGroup(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *handler) addParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity          string      `json:"identity"`
		AssignedIssueTags []issue.Tag `json:"assignedIssueTags"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.AddParticipant(r.Context(), r.PathValue("id"), r.PathValue("groupID"), req.Identity, req.AssignedIssueTags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) activateGroup(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.ActivateGroup(r.Context(), r.PathValue("id"), r.PathValue("groupID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *handler) terminateGroup(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.TerminateGroup(r.Context(), r.PathValue("id"), r.PathValue("groupID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *handler) resetGroup(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.ResetGroup(r.Context(), r.PathValue("id"), r.PathValue("groupID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *handler) annotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuthorIdentity string  `json:"authorIdentity"`
		X              float64 `json:"x"`
		Y              float64 `json:"y"`
		Reason         string  `json:"reason"`
		Impact         string  `json:"impact"`
	}
	if !decode(w, r, &req) {
		return
	}
	a, err := h.svc.Annotate(r.Context(), r.PathValue("id"), r.PathValue("groupID"), req.AuthorIdentity, req.X, req.Y, req.Reason, req.Impact)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Draft string `json:"draft"`
	}
	if !decode(w, r, &req) {
		return
	}
	next, err := h.svc.SaveDraft(r.Context(), r.PathValue("id"), r.PathValue("groupID"), req.Draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *handler) generateDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.svc.GenerateDraft(r.Context(), r.PathValue("id"), r.PathValue("groupID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"draft": draft})
}

func (h *handler) submitReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Report string `json:"report"`
	}
	if !decode(w, r, &req) {
		return
	}
	eval, err := h.svc.SubmitReport(r.Context(), r.PathValue("id"), r.PathValue("groupID"), req.Report)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (h *handler) advanceRound(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.AdvanceRound(r.Context(), r.PathValue("id"), r.PathValue("groupID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *handler) markLearned(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string    `json:"identity"`
		Tag      issue.Tag `json:"tag"`
	}
	if !decode(w, r, &req) {
		return
	}
	next, err := h.svc.MarkLearned(r.Context(), r.PathValue("id"), r.PathValue("groupID"), req.Identity, req.Tag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *handler) submitPractice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string    `json:"identity"`
		Tag      issue.Tag `json:"tag"`
		Answer   string    `json:"answer"`
	}
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.SubmitPractice(r.Context(), r.PathValue("id"), r.PathValue("groupID"), req.Identity, req.Tag, req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity     string    `json:"identity"`
		Tag          issue.Tag `json:"tag"`
		Answer       string    `json:"answer"`
		ImpactAnswer string    `json:"impactAnswer"`
	}
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.SubmitAnalysis(r.Context(), r.PathValue("id"), r.PathValue("groupID"), req.Identity, req.Tag, req.Answer, req.ImpactAnswer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getStatistics(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, apperrors.New(apperrors.CodeStoreUnavailable, "statistics are not configured"))
		return
	}
	stats, err := h.stats.GetStatistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// streamEvents serves a session's snapshot stream as server-sent events. The
// first event fires immediately with the current snapshot.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeUnknown, "streaming is not supported"))
		return
	}

	snaps := make(chan storage.Snapshot, 16)
	cancel, err := h.svc.Watch(r.Context(), r.PathValue("id"), func(snap storage.Snapshot) {
		select {
		case snaps <- snap:
		case <-r.Context().Done():
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-snaps:
			payload, err := json.Marshal(snapshotPayload{Session: snap.Session, Version: snap.Version})
			if err != nil {
				return
			}
			fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "decode request body", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var payload errorPayload
	status := http.StatusInternalServerError
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		payload.Error.Code = string(appErr.Code)
		payload.Error.Message = appErr.Message
		status = httpStatus(appErr.Code)
	} else {
		payload.Error.Code = string(apperrors.CodeUnknown)
		payload.Error.Message = err.Error()
	}
	writeJSON(w, status, payload)
}

func httpStatus(code apperrors.Code) int {
	switch code.GRPCCode() {
	case grpccodes.InvalidArgument:
		return http.StatusBadRequest
	case grpccodes.NotFound:
		return http.StatusNotFound
	case grpccodes.AlreadyExists, grpccodes.Aborted:
		return http.StatusConflict
	case grpccodes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case grpccodes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
