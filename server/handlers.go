package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ytfeed/aggregate"
	ythttp "ytfeed/http"
	"ytfeed/storage"
	"ytfeed/youtube"
)

// Error codes carried in error responses.
const (
	codeBadRequest          = "bad_request"
	codeInvalidReference    = "invalid_reference"
	codeNotFound            = "not_found"
	codeUpstreamUnavailable = "upstream_unavailable"
	codeStorageError        = "storage_error"
	codeInternal            = "internal_error"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: message}})
}

// writeServiceError maps an error from a collaborator onto a response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *storage.StorageError
	switch {
	case youtube.IsInvalidReference(err):
		writeError(w, http.StatusBadRequest, codeInvalidReference, err.Error())
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.As(err, &storageErr):
		s.logger.ErrorContext(r.Context(), "storage failure", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, codeStorageError, "persisted state could not be read or written")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), youtube.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, codeUpstreamUnavailable, "upstream unavailable, try again later")
	default:
		s.logger.ErrorContext(r.Context(), "internal error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

type syncResponse struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
	Run       string    `json:"run"`
}

func (s *Server) handlePostSync(w http.ResponseWriter, r *http.Request) {
	var incoming storage.State
	if err := decodeBody(w, r, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "body is not a valid state document")
		return
	}

	st, err := s.deps.State.Sync(r.Context(), incoming)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	trigger := s.deps.Runs.Trigger()
	s.logger.InfoContext(r.Context(), "state synced",
		"subscriptions", len(st.Subscriptions),
		"redirects", len(st.Redirects),
		"version", st.Version,
		"run", trigger,
	)
	writeJSON(w, http.StatusOK, syncResponse{
		Success:   true,
		Timestamp: s.now().UTC(),
		Version:   st.Version,
		Run:       string(trigger),
	})
}

type videosResponse struct {
	Items             []youtube.VideoItem   `json:"items"`
	LastUpdated       *time.Time            `json:"lastUpdated"`
	ChannelsRequested int                   `json:"channelsRequested"`
	ItemsProduced     int                   `json:"itemsProduced"`
	Version           int64                 `json:"version"`
	Run               *storage.AggregateRun `json:"run,omitempty"`
	LastAttempt       *storage.AggregateRun `json:"lastAttempt,omitempty"`
}

func (s *Server) handleGetVideos(w http.ResponseWriter, r *http.Request) {
	agg := s.deps.Aggregates.Snapshot()
	resp := videosResponse{Items: []youtube.VideoItem{}}
	if agg != nil {
		if agg.Items != nil {
			resp.Items = agg.Items
		}
		resp.Version = agg.Version
		if run := agg.Run; run != nil {
			completed := run.CompletedAt
			resp.LastUpdated = &completed
			resp.ChannelsRequested = run.ChannelsRequested
			resp.ItemsProduced = run.ItemsProduced
			resp.Run = run
		}
	}
	if last := s.deps.Aggregates.LastAttempt(); last != nil && (resp.Run == nil || last.ID != resp.Run.ID) {
		resp.LastAttempt = last
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	Accepted bool   `json:"accepted"`
	Run      string `json:"run"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result := s.deps.Runs.Trigger()
	writeJSON(w, http.StatusAccepted, refreshResponse{Accepted: true, Run: string(result)})
}

type resolveRequest struct {
	Kind        youtube.ReferenceKind `json:"kind"`
	Value       string                `json:"value"`
	DisplayHint string                `json:"displayHint"`
	// Reference is free-form input: a URL, an @handle or a channel id.
	Reference string `json:"reference"`
}

func (req resolveRequest) channelReference() (youtube.ChannelReference, error) {
	if req.Kind == "" {
		raw := req.Reference
		if raw == "" {
			raw = req.Value
		}
		ref, err := youtube.ParseReference(raw)
		if err != nil {
			return youtube.ChannelReference{}, err
		}
		ref.DisplayHint = req.DisplayHint
		return ref, nil
	}
	ref := youtube.ChannelReference{
		Kind:        req.Kind,
		Value:       strings.TrimPrefix(strings.TrimSpace(req.Value), "@"),
		DisplayHint: req.DisplayHint,
	}
	if err := ref.Validate(); err != nil {
		return youtube.ChannelReference{}, err
	}
	return ref, nil
}

type resolveResponse struct {
	CanonicalID   string `json:"canonicalId"`
	Title         string `json:"title"`
	Thumbnail     string `json:"thumbnail,omitempty"`
	SourceAdapter string `json:"sourceAdapter"`
	Merged        bool   `json:"merged"`
}

func (s *Server) handleResolveChannel(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "body must be a JSON object")
		return
	}
	ref, err := req.channelReference()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidReference, err.Error())
		return
	}

	known := make(map[string]bool)
	for _, sub := range s.deps.State.Snapshot().Subscriptions {
		if youtube.IsCanonicalID(sub.ID) {
			known[sub.ID] = true
		}
	}

	res, err := s.deps.Resolver.Resolve(r.Context(), ref, func(id string) bool { return known[id] })
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if res.Placeholder() {
		if youtube.IsNotFound(res.Cause) {
			writeError(w, http.StatusNotFound, codeNotFound, "no channel found for "+ref.String())
			return
		}
		writeError(w, http.StatusServiceUnavailable, codeUpstreamUnavailable, "could not reach any upstream for "+ref.String())
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		CanonicalID:   res.Channel.CanonicalID,
		Title:         res.Channel.Title,
		Thumbnail:     res.Channel.ThumbnailURL,
		SourceAdapter: res.Channel.SourceAdapter,
		Merged:        res.Merged(),
	})
}

type quotaStatus struct {
	Remaining int   `json:"remaining"`
	Consumed  int64 `json:"consumed"`
}

type statusResponse struct {
	Scheduler   aggregate.Status      `json:"scheduler"`
	LastAttempt *storage.AggregateRun `json:"lastAttempt,omitempty"`
	Circuits    []ythttp.CircuitStats `json:"circuits"`
	Quota       *quotaStatus          `json:"quota,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Scheduler:   s.deps.Runs.Status(),
		LastAttempt: s.deps.Aggregates.LastAttempt(),
		Circuits:    []ythttp.CircuitStats{},
	}
	if s.deps.Breaker != nil {
		resp.Circuits = append(resp.Circuits, s.deps.Breaker.Stats()...)
	}
	if s.deps.Budget != nil {
		resp.Quota = &quotaStatus{
			Remaining: s.deps.Budget.Remaining(),
			Consumed:  s.deps.Budget.Consumed(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
