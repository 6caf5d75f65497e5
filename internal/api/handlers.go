package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
	"github.com/Taichi-iskw/rewind-lang/internal/repository/feed"
	"github.com/Taichi-iskw/rewind-lang/internal/service/rewind"
)

// Rewinder runs rewind-and-translate cycles and owns the shared player
// while one is in progress
type Rewinder interface {
	Run(ctx context.Context) (*model.TranslationOutcome, error)
	Status() rewind.Status
	// Control runs a manual playback change, or fails with CodeBusy during a cycle
	Control(fn func() error) error
}

// SpeechCanceler stops the utterance in progress
type SpeechCanceler interface {
	Cancel()
}

// Handler serves the control API
type Handler struct {
	rewinder Rewinder
	resource playback.Resource
	speech   SpeechCanceler
	feeds    feed.Repository
	logger   *zap.SugaredLogger
}

// PlaybackStatus describes the visible player
type PlaybackStatus struct {
	Source   string  `json:"source"`
	Position float64 `json:"position"`
	Paused   bool    `json:"paused"`
	Ready    bool    `json:"ready"`
}

type statusResponse struct {
	Rewind   rewind.Status  `json:"rewind"`
	Playback PlaybackStatus `json:"playback"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, statusResponse{
		Rewind:   h.rewinder.Status(),
		Playback: h.playbackStatus(),
	})
}

// Rewind runs one cycle and responds when it has finished
func (h *Handler) Rewind(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.rewinder.Run(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, outcome)
}

func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	err := h.rewinder.Control(func() error {
		return h.resource.Play(context.WithoutCancel(r.Context()))
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.playbackStatus())
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	err := h.rewinder.Control(func() error {
		if err := h.resource.Pause(); err != nil {
			return apperrors.Wrap(err, apperrors.CodePlaybackFailed, "failed to pause playback")
		}
		return nil
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.playbackStatus())
}

type seekRequest struct {
	Position float64 `json:"position"`
}

func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Position < 0 || math.IsNaN(req.Position) || math.IsInf(req.Position, 0) {
		writeError(w, h.logger, apperrors.New(apperrors.CodeInvalidArg, "position must be a non-negative number of seconds"))
		return
	}

	err := h.rewinder.Control(func() error {
		return playback.SeekAndVerify(r.Context(), h.resource, req.Position, playback.DefaultReadyTimeout)
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.playbackStatus())
}

func (h *Handler) StopSpeech(w http.ResponseWriter, r *http.Request) {
	if h.speech != nil {
		h.speech.Cancel()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	if !h.requireFeeds(w) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, h.logger, apperrors.New(apperrors.CodeInvalidArg, fmt.Sprintf("invalid limit %q", raw)))
			return
		}
		limit = parsed
	}

	feeds, err := h.feeds.List(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, feeds)
}

type touchFeedRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (h *Handler) TouchFeed(w http.ResponseWriter, r *http.Request) {
	if !h.requireFeeds(w) {
		return
	}

	var req touchFeedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	saved, err := h.feeds.Touch(r.Context(), req.URL, req.Title)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, saved)
}

func (h *Handler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	if !h.requireFeeds(w) {
		return
	}

	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		writeError(w, h.logger, apperrors.New(apperrors.CodeInvalidArg, "url query parameter is required"))
		return
	}

	if err := h.feeds.Delete(r.Context(), url); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireFeeds(w http.ResponseWriter) bool {
	if h.feeds != nil {
		return true
	}
	writeError(w, h.logger, apperrors.New(apperrors.CodeMissingConfiguration, "feed history needs database_url"))
	return false
}

func (h *Handler) playbackStatus() PlaybackStatus {
	return PlaybackStatus{
		Source:   h.resource.Source(),
		Position: h.resource.CurrentTime(),
		Paused:   h.resource.IsPaused(),
		Ready:    h.resource.IsReady(),
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArg, "invalid payload: "+err.Error())
	}
	return nil
}
