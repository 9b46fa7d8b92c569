package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/store"
)

// maxPayloadBytes bounds an inbound delivery body.
const maxPayloadBytes = 1 << 20

// Request headers carried on a delivery.
const (
	HeaderSignature = "X-Signature"
	HeaderEventType = "X-Event-Type"
)

// Server exposes the webhook receiver plus read-only introspection of
// modules and the job queue.
type Server struct {
	echo     *echo.Echo
	store    *store.Store
	receiver *Receiver
	log      *zap.Logger
}

// NewServer builds the HTTP server and registers its routes.
func NewServer(st *store.Store, receiver *Receiver, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, store: st, receiver: receiver, log: log}
	e.POST("/hooks/:module", s.handleDelivery)
	e.GET("/modules", s.handleListModules)
	e.GET("/queue", s.handleListQueue)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

// Start serves on addr until Shutdown. It blocks like http.Server.
func (s *Server) Start(addr string) error {
	s.log.Info("webhook server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleDelivery is the inbound webhook endpoint. Unknown modules answer
// 404, signature failures 401, malformed bodies 400; routing problems are
// stored on the event row and still answer 200 so the sender does not
// redeliver.
func (s *Server) handleDelivery(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable payload"})
	}

	d := Delivery{
		Module:    c.Param("module"),
		EventType: c.Request().Header.Get(HeaderEventType),
		Signature: c.Request().Header.Get(HeaderSignature),
		Payload:   payload,
	}
	if d.EventType == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + HeaderEventType + " header"})
	}

	disp, err := s.receiver.Handle(c.Request().Context(), d)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]any{
			"delivery": disp.EventID,
			"action":   disp.Action,
			"job":      disp.JobID,
			"version":  disp.Version,
			"reason":   disp.Ignored,
		})
	case errors.Is(err, store.ErrModuleNotFound), errors.Is(err, store.ErrWebhookNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown module"})
	case errors.Is(err, ErrBadSignature):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "signature verification failed"})
	case errors.Is(err, ErrMalformedPayload):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed payload"})
	case errors.Is(err, ErrWebhookInactive):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "webhook disabled"})
	default:
		s.log.Error("webhook delivery failed", zap.String("module", d.Module), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// moduleView is the wire shape for module listings. Secrets never appear.
type moduleView struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Version    string     `json:"version"`
	Status     string     `json:"status"`
	AutoSync   bool       `json:"auto_sync"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

func (s *Server) handleListModules(c echo.Context) error {
	mods, err := s.store.ListModules(c.Request().Context())
	if err != nil {
		s.log.Error("listing modules failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	views := make([]moduleView, 0, len(mods))
	for _, m := range mods {
		views = append(views, moduleView{
			Name:       m.Name,
			Path:       m.Path,
			Version:    m.Version,
			Status:     string(m.Status),
			AutoSync:   m.AutoSync,
			LastSynced: m.LastSynced,
			LastError:  m.LastSyncError,
		})
	}
	return c.JSON(http.StatusOK, views)
}

// jobView is the wire shape for queue listings.
type jobView struct {
	ID        string    `json:"id"`
	ModuleID  string    `json:"module_id"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	Priority  int       `json:"priority"`
	Attempts  int       `json:"attempts"`
	RunAt     time.Time `json:"run_at"`
	LastError string    `json:"last_error,omitempty"`
}

// handleListQueue lists jobs, filtered by ?status= when given.
func (s *Server) handleListQueue(c echo.Context) error {
	status := store.JobStatus(c.QueryParam("status"))
	jobs, err := s.store.ListJobs(c.Request().Context(), status)
	if err != nil {
		s.log.Error("listing jobs failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView{
			ID:        j.ID,
			ModuleID:  j.ModuleID,
			Direction: string(j.Direction),
			Status:    string(j.Status),
			Priority:  j.Priority,
			Attempts:  j.Attempts,
			RunAt:     j.RunAt,
			LastError: j.LastError,
		})
	}
	return c.JSON(http.StatusOK, views)
}
