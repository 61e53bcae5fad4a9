// Package api serves a read-only dataset viewer over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/datastore"
	"github.com/tmakinen/pixelset/internal/errors"
	"github.com/tmakinen/pixelset/internal/logging"
	"github.com/tmakinen/pixelset/internal/observability"
)

// defaultPageSize bounds sample listings when no limit is given.
const defaultPageSize = 50

// maxPageSize caps client-requested page sizes.
const maxPageSize = 500

// Server hosts the viewer API.
type Server struct {
	Echo     *echo.Echo
	Settings *conf.Settings
	Store    datastore.Interface

	metrics   *observability.Metrics
	logger    *slog.Logger
	closeLogs func() error
}

// New builds the server and registers its routes. Request logs go to the
// configured webserver log file when one is enabled.
func New(settings *conf.Settings, store datastore.Interface, metrics *observability.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Echo:     e,
		Settings: settings,
		Store:    store,
		metrics:  metrics,
		logger:   logging.ForService("api"),
	}
	if cfg := settings.WebServer.Log; cfg.Enabled && cfg.Path != "" {
		fileLogger, closeFunc, err := logging.NewFileLogger(cfg.Path, "api", slog.LevelInfo)
		if err != nil {
			s.logger.Warn("webserver log file unavailable, logging to stdout",
				"path", cfg.Path,
				"error", err)
		} else {
			s.logger = fileLogger
			s.closeLogs = closeFunc
		}
	}

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	s.initRoutes()
	return s
}

// Close releases the server's log writer.
func (s *Server) Close() error {
	if s.closeLogs != nil {
		return s.closeLogs()
	}
	return nil
}

// shutdownTimeout bounds the drain of in-flight requests on shutdown.
const shutdownTimeout = 5 * time.Second

// Start blocks serving on the configured port until the listener fails or
// ctx is cancelled, then drains in-flight requests and returns.
func (s *Server) Start(ctx context.Context) error {
	addr := ":" + s.Settings.WebServer.Port
	s.logger.Info("viewer API listening", "addr", addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("viewer API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("viewer API shutdown failed", "error", err)
		}
	}()

	if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(fmt.Errorf("starting viewer API: %w", err)).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("addr", addr).
			Build()
	}
	return nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				"uri", v.URI,
				"status", v.Status)
			return nil
		},
	})
}

func (s *Server) initRoutes() {
	s.Echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.Echo.Group("/api/v1")
	v1.GET("/datasets", s.handleListDatasets)
	v1.GET("/datasets/:name", s.handleGetDataset)
	v1.GET("/datasets/:name/samples", s.handleListSamples)
	v1.GET("/samples/:id", s.handleGetSample)
	v1.GET("/samples/:id/image", s.handleSampleImage)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// datasetResponse is the JSON shape for dataset listings.
type datasetResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at"`
	SampleCount int64  `json:"sample_count"`
}

func (s *Server) handleListDatasets(c echo.Context) error {
	datasets, err := s.Store.ListDatasets()
	if err != nil {
		return s.serverError(c, err)
	}

	out := make([]datasetResponse, 0, len(datasets))
	for i := range datasets {
		resp, err := s.datasetResponse(&datasets[i])
		if err != nil {
			return s.serverError(c, err)
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetDataset(c echo.Context) error {
	ds, err := s.Store.GetDataset(c.Param("name"))
	if err != nil {
		if errors.Is(err, datastore.ErrDatasetNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "dataset not found")
		}
		return s.serverError(c, err)
	}
	resp, err := s.datasetResponse(ds)
	if err != nil {
		return s.serverError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) datasetResponse(ds *datastore.Dataset) (datasetResponse, error) {
	count, err := s.Store.CountSamples(ds.ID)
	if err != nil {
		return datasetResponse{}, err
	}
	return datasetResponse{
		ID:          ds.ID,
		Name:        ds.Name,
		Type:        ds.Type,
		CreatedAt:   ds.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		SampleCount: count,
	}, nil
}

// sampleResponse is the JSON shape for one stored sample.
type sampleResponse struct {
	ID       uint   `json:"id"`
	FilePath string `json:"file_path"`
	Split    string `json:"split,omitempty"`
	Label    string `json:"label,omitempty"`
	MaskPath string `json:"mask_path,omitempty"`
}

func (s *Server) handleListSamples(c echo.Context) error {
	ds, err := s.Store.GetDataset(c.Param("name"))
	if err != nil {
		if errors.Is(err, datastore.ErrDatasetNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "dataset not found")
		}
		return s.serverError(c, err)
	}

	limit := intQuery(c, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := intQuery(c, "offset", 0)
	split := c.QueryParam("split")

	samples, err := s.Store.ListSamples(ds.ID, split, limit, offset)
	if err != nil {
		return s.serverError(c, err)
	}

	out := make([]sampleResponse, 0, len(samples))
	for i := range samples {
		out = append(out, toSampleResponse(&samples[i]))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSample(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sample id")
	}

	sample, err := s.Store.GetSample(uint(id))
	if err != nil {
		if errors.Is(err, datastore.ErrSampleNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "sample not found")
		}
		return s.serverError(c, err)
	}
	return c.JSON(http.StatusOK, toSampleResponse(sample))
}

// handleSampleImage streams the sample's source image from disk.
func (s *Server) handleSampleImage(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sample id")
	}

	sample, err := s.Store.GetSample(uint(id))
	if err != nil {
		if errors.Is(err, datastore.ErrSampleNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "sample not found")
		}
		return s.serverError(c, err)
	}

	if _, err := os.Stat(sample.FilePath); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "sample file missing on disk")
	}
	return c.File(sample.FilePath)
}

func toSampleResponse(sample *datastore.Sample) sampleResponse {
	return sampleResponse{
		ID:       sample.ID,
		FilePath: sample.FilePath,
		Split:    sample.Split,
		Label:    sample.Label,
		MaskPath: sample.MaskPath,
	}
}

func (s *Server) serverError(c echo.Context, err error) error {
	s.logger.Error("request failed",
		"uri", c.Request().RequestURI,
		"error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func intQuery(c echo.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
