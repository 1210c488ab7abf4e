package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/token"
	"github.com/kbhujbal/edunexus/core/user"
	"github.com/kbhujbal/edunexus/services/metrics"
)

type (
	// Deps are the services the API is served from.
	Deps struct {
		Tokens     *token.Service
		UserSvc    *user.Service
		CourseSvc  *course.Service
		Validate   *validator.Validate
		Translator ut.Translator

		// optional
		Metrics     *metricsvc.Collector
		Gatherer    prometheus.Gatherer
		HealthCheck func(ctx context.Context) error
	}

	Server struct {
		conf     *core.Config
		logger   core.Logger
		deps     *Deps
		app      *echo.Echo
		srv      *http.Server
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(conf *core.Config, logger core.Logger, deps *Deps) *Server {
	s := &Server{
		conf:     conf,
		logger:   logger,
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	s.srv = &http.Server{
		Addr:              conf.Server.Address,
		Handler:           otelhttp.NewHandler(s.app, conf.AppName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = s.conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger, s.deps.Translator, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.conf.CORSAllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	if s.deps.Metrics != nil {
		s.app.Use(metricsMiddleware(s.deps.Metrics))
	}

	s.app.GET("/health", s.health)
	if s.deps.Gatherer != nil {
		s.app.GET("/metrics", echo.WrapHandler(metricsvc.Handler(s.deps.Gatherer)))
	}

	api := s.app.Group("/api")
	auth := requireAuthenticated(s.deps.Tokens, s.deps.UserSvc)

	registerAuthAPI(api, authRateLimiter(s.conf), s.deps)
	registerUserAPI(api, auth, s.deps)
	registerCourseAPI(api, auth, s.deps)
}

// Start listens until the server is shut down. Failures are reported on Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.logger.Info("API listening on " + s.conf.Server.Address)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) health(ctx echo.Context) error {
	if s.deps.HealthCheck != nil {
		if err := s.deps.HealthCheck(ctx.Request().Context()); err != nil {
			s.logger.Error("health check failed", err)
			return ctx.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
