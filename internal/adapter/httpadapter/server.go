package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/guihirsch/orbee.online-sub002/internal/dataset"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NDVIService answers the resolved NDVI queries. Every method yields a value.
type NDVIService interface {
	CurrentNDVI(ctx context.Context, c domain.Coordinate) domain.Resolved[domain.NDVIReading]
	TimeSeries(ctx context.Context, c domain.Coordinate, period domain.Period) domain.Resolved[*domain.TimeSeries]
	VegetationHealth(ctx context.Context, c domain.Coordinate) domain.Resolved[domain.HealthReport]
	Alerts(ctx context.Context, c domain.Coordinate, radiusKm float64) domain.Resolved[[]domain.Alert]
	MatchRegion(c domain.Coordinate) (domain.Region, bool)
}

// MapConfig holds the assets rendered into /map/style.
type MapConfig struct {
	Center       domain.Coordinate
	Feed         []byte
	RasterPath   string
	RasterBounds orb.Bound
}

// Options configures a Server. JWTSecret enables bearer auth on the NDVI
// and AOI routes. The /aoi routes and /map/style?aoi= need AOI.
type Options struct {
	Addr        string
	Ready       sharedobs.ReadinessChecker
	Service     NDVIService
	AOI         AOIService
	Map         MapConfig
	JWTSecret   string
	CORSOrigins []string
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Server exposes the NDVI API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	service    NDVIService
	aoi        AOIService
	mapCfg     MapConfig
	feed       *dataset.Feed
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewServer builds the router and the underlying http.Server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}

	s := &Server{
		service: opts.Service,
		aoi:     opts.AOI,
		mapCfg:  opts.Map,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if len(opts.Map.Feed) > 0 {
		feed, err := dataset.ParseCriticalPoints(opts.Map.Feed)
		if err != nil {
			opts.Logger.Warn("critical point feed unreadable, aoi responses omit points", "error", err)
		} else {
			s.feed = feed
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(opts.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(pr chi.Router) {
		pr.Use(authMiddleware(opts.JWTSecret, opts.Logger))
		pr.Route("/ndvi", func(nr chi.Router) {
			nr.Get("/current", s.handleCurrent)
			nr.Get("/timeseries", s.handleTimeSeries)
			nr.Get("/health", s.handleHealth)
			nr.Get("/alerts", s.handleAlerts)
		})
		pr.Get("/regions/match", s.handleRegionMatch)
		if s.aoi != nil {
			pr.Route("/aoi", s.mountAOI)
		}
	})

	r.Get("/map/style", s.handleMapStyle)
	r.Get("/map/mosaic.tif", s.handleMosaic)

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
