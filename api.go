package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/asdine/storm/v3"
	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/CodedInternet/gogarden/onboard"
	"github.com/CodedInternet/gogarden/onboard/queue"
)

const (
	MAX_BODY      = 1 << 20
	HISTORY_LIMIT = 50
	HISTORY_MAX   = 500
)

type StatePayload struct {
	Queue queue.Snapshot     `json:"queue"`
	Robot onboard.RobotState `json:"robot"`
}

type ClearPayload struct {
	Cleared int `json:"cleared"`
}

type LedPayload struct {
	Led uint8 `json:"led"`
}

func (s *Server) statePayload() StatePayload {
	return StatePayload{Queue: s.queue.State(), Robot: s.device.State()}
}

func (s *Server) GetQueue(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.queue.State())
}

// AddActions queues a command list posted as JSON.
func (s *Server) AddActions(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, MAX_BODY))
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	action, err := queue.ParseCommandList(data)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := s.queue.AddAction(action); err != nil {
		if errors.Is(err, queue.ERR_STOPPING) {
			render.Render(w, r, ErrConflict(err))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	s.log.Info("action queued over http",
		zap.Uint64("id", uint64(action.ID())),
		zap.Int("commands", len(action.Commands)),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, queue.ActionInfo{ID: action.ID(), Type: action.TypeName()})
}

func (s *Server) Pause(w http.ResponseWriter, r *http.Request) {
	s.queue.Pause()
	render.JSON(w, r, s.queue.State())
}

func (s *Server) Unpause(w http.ResponseWriter, r *http.Request) {
	s.queue.Unpause()
	render.JSON(w, r, s.queue.State())
}

func (s *Server) Clear(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ClearPayload{Cleared: s.queue.Clear()})
}

func (s *Server) Emergency(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Emergency(); err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, s.queue.State())
}

// KillRunning kills the running action {id}. With keep=1 it goes back to the
// front of the queue instead of being dropped.
func (s *Server) KillRunning(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	keep, _ := strconv.ParseBool(r.URL.Query().Get("keep"))

	if err := s.queue.KillRunningAction(queue.ActionID(id), keep); err != nil {
		if errors.Is(err, queue.ERR_NOT_RUNNING) {
			render.Render(w, r, ErrConflict(err))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, s.queue.State())
}

// GetState returns the queue and the last known robot state. With refresh=1
// the nodes are queried first.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if err := s.device.Refresh(r.Context()); err != nil {
			render.Render(w, r, ErrRender(err))
			return
		}
	}
	render.JSON(w, r, s.statePayload())
}

func (s *Server) ToggleLed(w http.ResponseWriter, r *http.Request) {
	led, err := s.device.ToggleLed(r.Context())
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, LedPayload{Led: led})
}

// History lists journal entries, newest first, or every entry for one
// action with ?action=id.
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("action"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}
		entries, err := s.journal.ForAction(queue.ActionID(id))
		if err != nil {
			render.Render(w, r, ErrRender(err))
			return
		}
		render.JSON(w, r, entries)
		return
	}

	limit := HISTORY_LIMIT
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			render.Render(w, r, ErrInvalidRequest(errors.New("limit must be a positive number")))
			return
		}
		limit = min(n, HISTORY_MAX)
	}

	entries, err := s.journal.Recent(limit)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, entries)
}

func (s *Server) HistoryEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.journal.Lookup(chi.URLParam(r, "ref"))
	if err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			render.Render(w, r, ErrNotFound)
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, entry)
}
