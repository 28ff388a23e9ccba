// Package server is the operator-facing HTTP surface of the capture station.
//
// Every request that touches the session goes through one mutex, which
// makes the handlers the single interaction loop the session controller
// expects. The camera goroutine never takes that lock; it reads the current
// instruction through an atomic snapshot.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/fingercap/internal/archive"
	"github.com/andresmejia3/fingercap/internal/camera"
	"github.com/andresmejia3/fingercap/internal/frame"
	"github.com/andresmejia3/fingercap/internal/logger"
	"github.com/andresmejia3/fingercap/internal/metrics"
	"github.com/andresmejia3/fingercap/internal/session"
	"github.com/andresmejia3/fingercap/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// CameraControl is the part of the camera the operator can drive.
type CameraControl interface {
	Switch() camera.Facing
	Facing() camera.Facing
}

// Saver persists a completed session.
type Saver interface {
	Persist(ctx context.Context, subject types.Subject, captures []types.Capture) (archive.Handle, error)
}

// Deps are the collaborators of a Server. Metrics may be nil.
type Deps struct {
	Controller *session.Controller
	Raw        *frame.Store
	Display    *frame.Store
	Camera     CameraControl
	Saver      Saver
	ZipDir     string
	Log        logrus.FieldLogger
	Metrics    *metrics.Metrics
	// Progress, if set, is told about every change to the capture count.
	Progress func(done, total int)
	// Health, if set, reports whether the backing storage is reachable.
	Health func(ctx context.Context) error
}

// Server serves the capture page and its API.
type Server struct {
	deps     Deps
	validate *validator.Validate

	mu          sync.Mutex
	lastArchive *archive.Handle

	instruction     atomic.Value // string
	previewInterval time.Duration
}

// New returns a Server. The controller must not be used by anyone else.
func New(d Deps) *Server {
	s := &Server{deps: d, validate: validator.New(), previewInterval: 66 * time.Millisecond}
	s.instruction.Store("")
	return s
}

// Instruction is the overlay text for the slot being captured. It is safe
// to call from any goroutine.
func (s *Server) Instruction() string {
	return s.instruction.Load().(string)
}

// publish pushes controller changes to the instruction snapshot, metrics and
// progress callback. Callers hold s.mu.
func (s *Server) publish() {
	c := s.deps.Controller
	s.instruction.Store(c.Instruction())
	done, total := c.Progress()
	s.deps.Metrics.SetSessionProgress(done)
	if s.deps.Progress != nil {
		s.deps.Progress(done, total)
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(s.deps.Log))
	r.Use(metrics.RequestMiddleware(s.deps.Metrics))

	r.Get("/", s.Index)
	r.Get("/preview.mjpg", s.Preview)
	r.Get("/healthz", s.Healthz)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			http.NotFound(w, r)
			return
		}
		s.deps.Metrics.Handler(s.updateGauges).ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.GetSession)
		r.Post("/session", s.BeginSession)
		r.Post("/session/capture", s.Capture)
		r.Post("/session/reset", s.Reset)
		r.Post("/session/save", s.Save)
		r.Get("/captures/{key}.png", s.GetCapture)
		r.Get("/archives/{folder}", s.DownloadArchive)
		r.Post("/camera/switch", s.SwitchCamera)
	})
	return r
}

func (s *Server) updateGauges() {
	s.mu.Lock()
	done, _ := s.deps.Controller.Progress()
	s.mu.Unlock()
	s.deps.Metrics.SetSessionProgress(done)
	s.deps.Metrics.SetCameraReady(s.deps.Raw.Stats().HasFrame)
}

// ListenAndServe serves on addr until ctx ends, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Routes()}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.deps.Log.WithField("addr", addr).Info("server starting")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.deps.Log.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.deps.Log.Info("server stopped")
	return nil
}
