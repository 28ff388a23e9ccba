package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/fingercap/internal/archive"
	"github.com/andresmejia3/fingercap/internal/frame"
	"github.com/andresmejia3/fingercap/internal/persist"
	"github.com/andresmejia3/fingercap/internal/session"
	"github.com/andresmejia3/fingercap/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type fingerStatus struct {
	Finger string   `json:"finger"`
	Name   string   `json:"name"`
	Poses  []string `json:"poses"`
}

type statusResponse struct {
	SessionID   string          `json:"session_id,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	State       string          `json:"state"`
	Subject     *types.Subject  `json:"subject,omitempty"`
	CurrentSlot string          `json:"current_slot,omitempty"`
	Instruction string          `json:"instruction,omitempty"`
	Done        int             `json:"done"`
	Total       int             `json:"total"`
	Progress    string          `json:"progress"`
	Completed   []fingerStatus  `json:"completed"`
	Facing      string          `json:"facing,omitempty"`
	CameraReady bool            `json:"camera_ready"`
	LastArchive *archive.Handle `json:"last_archive,omitempty"`
	Captured    string          `json:"captured,omitempty"`
}

type saveResponse struct {
	archive.Handle
	Warning string `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type beginRequest struct {
	Name   string `json:"name" validate:"required,max=120"`
	Gender string `json:"gender" validate:"required"`
	Extra  string `json:"extra" validate:"max=500"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// status snapshots the session. Callers hold s.mu.
func (s *Server) status() statusResponse {
	c := s.deps.Controller
	done, total := c.Progress()
	resp := statusResponse{
		SessionID:   c.ID(),
		State:       c.State().String(),
		Instruction: c.Instruction(),
		Done:        done,
		Total:       total,
		Progress:    fmt.Sprintf("%d/%d", done, total),
		Completed:   []fingerStatus{},
		CameraReady: s.deps.Raw.Stats().HasFrame,
		LastArchive: s.lastArchive,
	}
	if subj, ok := c.Subject(); ok {
		started := c.StartedAt()
		resp.StartedAt = &started
		resp.Subject = &subj
		if slot, ok := c.CurrentSlot(); ok {
			resp.CurrentSlot = slot.Key()
		}
	}
	for _, fp := range c.Completed() {
		st := fingerStatus{Finger: string(fp.Finger), Name: fp.Finger.Name()}
		for _, p := range fp.Poses {
			st.Poses = append(st.Poses, string(p))
		}
		resp.Completed = append(resp.Completed, st)
	}
	if s.deps.Camera != nil {
		resp.Facing = string(s.deps.Camera.Facing())
	}
	return resp
}

// GetSession handles GET /api/session.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.status())
}

// BeginSession handles POST /api/session. The body is either JSON or a form
// with name, gender and extra.
func (s *Server) BeginSession(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req = beginRequest{Name: r.FormValue("name"), Gender: r.FormValue("gender"), Extra: r.FormValue("extra")}
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.deps.Controller.Begin(types.Subject{Name: req.Name, Gender: types.Gender(req.Gender), Extra: req.Extra})
	switch {
	case errors.Is(err, session.ErrSubjectRequired):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, session.ErrInvalidState):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.publish()
	s.deps.Log.WithFields(logrus.Fields{"session_id": s.deps.Controller.ID(), "gender": req.Gender}).Info("session started")
	writeJSON(w, http.StatusOK, s.status())
}

// captureErrorKind labels a capture failure for metrics and the HTTP status.
func captureErrorKind(err error) (string, int) {
	switch {
	case errors.Is(err, session.ErrInvalidState):
		return "invalid_state", http.StatusConflict
	case errors.Is(err, session.ErrCameraNotReady):
		return "camera_not_ready", http.StatusServiceUnavailable
	case errors.Is(err, session.ErrEncoding):
		return "encoding", http.StatusInternalServerError
	case errors.Is(err, frame.ErrMalformedFrame):
		return "malformed_frame", http.StatusUnprocessableEntity
	default:
		return "unknown", http.StatusInternalServerError
	}
}

// Capture handles POST /api/session/capture: the latest raw frame is cropped
// to the guide box and recorded under the current slot.
func (s *Server) Capture(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, _ := s.deps.Raw.Latest()
	slot, err := s.deps.Controller.Capture(latest)
	if err != nil {
		kind, code := captureErrorKind(err)
		s.deps.Metrics.IncCaptureErrors(kind)
		s.deps.Log.WithError(err).WithField("kind", kind).Warn("capture rejected")
		writeError(w, code, err)
		return
	}

	s.deps.Metrics.IncCaptures()
	s.publish()
	done, total := s.deps.Controller.Progress()
	s.deps.Log.WithFields(logrus.Fields{
		"session_id": s.deps.Controller.ID(),
		"slot":       slot.Key(),
		"progress":   fmt.Sprintf("%d/%d", done, total),
	}).Info("slot captured")

	resp := s.status()
	resp.Captured = slot.Key()
	writeJSON(w, http.StatusOK, resp)
}

// Reset handles POST /api/session/reset. With clear=1 the subject is
// forgotten as well.
func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Query().Get("clear") == "1" {
		s.deps.Controller.Clear()
	} else {
		s.deps.Controller.Reset()
	}
	s.publish()
	writeJSON(w, http.StatusOK, s.status())
}

// Save handles POST /api/session/save. A saved session is cleared so the
// station is ready for the next subject.
func (s *Server) Save(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.deps.Controller
	if !c.IsComplete() {
		done, total := c.Progress()
		writeError(w, http.StatusConflict, fmt.Errorf("%w: %d/%d captured", session.ErrInvalidState, done, total))
		return
	}
	if s.deps.Saver == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("storage is not configured"))
		return
	}

	subj, _ := c.Subject()
	h, err := s.deps.Saver.Persist(r.Context(), subj, c.Captures())
	resp := saveResponse{Handle: h}
	switch {
	case errors.Is(err, persist.ErrArchivePending):
		// Rows and files are committed; saving again would duplicate the subject
		resp.Warning = err.Error()
	case err != nil:
		code := http.StatusInternalServerError
		if errors.Is(err, persist.ErrIncomplete) {
			code = http.StatusConflict
		}
		s.deps.Log.WithError(err).WithField("session_id", c.ID()).Error("failed to persist session")
		writeError(w, code, err)
		return
	}

	s.deps.Metrics.IncSessionsSaved()
	s.lastArchive = &h
	c.Clear()
	s.publish()
	writeJSON(w, http.StatusOK, resp)
}

// GetCapture handles GET /api/captures/{key}.png for the current session.
func (s *Server) GetCapture(w http.ResponseWriter, r *http.Request) {
	slot, err := types.ParseSlot(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	data, ok := s.deps.Controller.Lookup(slot)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s has not been captured", slot))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// DownloadArchive handles GET /api/archives/{folder}.
func (s *Server) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	folder := strings.TrimSuffix(chi.URLParam(r, "folder"), ".zip")
	if folder == "" || folder != filepath.Base(folder) || strings.HasPrefix(folder, ".") {
		writeError(w, http.StatusBadRequest, errors.New("invalid archive name"))
		return
	}

	name := folder + ".zip"
	f, err := os.Open(filepath.Join(s.deps.ZipDir, name))
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("archive not found"))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// Healthz handles GET /healthz.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":       "ok",
		"camera_ready": s.deps.Raw.Stats().HasFrame,
	}
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SwitchCamera handles POST /api/camera/switch.
func (s *Server) SwitchCamera(w http.ResponseWriter, r *http.Request) {
	if s.deps.Camera == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no camera attached"))
		return
	}
	facing := s.deps.Camera.Switch()
	writeJSON(w, http.StatusOK, map[string]string{"facing": string(facing)})
}
