// Package api exposes read-only introspection of the book engine over HTTP
// and streams opportunities and book events over WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/api/responses"
	"github.com/Aidin1998/pincex_arbfinder/internal/aggregator"
	"github.com/Aidin1998/pincex_arbfinder/internal/arbitrage"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/Aidin1998/pincex_arbfinder/internal/registry"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// BookService is the read side of the engine the API serves.
type BookService interface {
	Health() registry.Health
	BookSnapshot(venue, symbol string, depth int) (orderbook.Snapshot, error)
	Checksum(venue, symbol string) (uint32, uint64, error)
	Aggregate(symbol string) (*aggregator.AggregatedOrderBook, error)
	Evaluate(symbol string) []arbitrage.Opportunity
}

// StreamHub upgrades monitoring clients to a WebSocket stream.
type StreamHub interface {
	ServeWS(w http.ResponseWriter, r *http.Request, clientID string)
	ClientCount() int
}

type Config struct {
	AllowedOrigins []string
	ServiceName    string
}

// Server represents the API server
type Server struct {
	router *gin.Engine
	logger *zap.Logger
	books  BookService
	hub    StreamHub
	http   *http.Server
}

// NewServer builds the router. hub may be nil, in which case /ws is not
// registered.
func NewServer(cfg Config, logger *zap.Logger, books BookService, hub StreamHub) *Server {
	s := &Server{
		logger: logger.Named("api"),
		books:  books,
		hub:    hub,
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "arbfinder-api"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "X-Trace-ID"},
		MaxAge:        12 * time.Hour,
	}))

	s.router = router
	s.registerRoutes()
	return s
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting API server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	public := s.router.Group("/api/v1")
	{
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
		public.GET("/health", s.healthCheck)

		books := public.Group("/books/:venue/:symbol")
		{
			books.GET("", s.getBook)
			books.GET("/checksum", s.getChecksum)
		}
		public.GET("/aggregate/:symbol", s.getAggregate)
		public.GET("/opportunities/:symbol", s.getOpportunities)
	}

	if s.hub != nil {
		s.router.GET("/ws", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request, uuid.NewString())
		})
	}
}

type depthQuery struct {
	Depth int `form:"depth" binding:"omitempty,gte=0,lte=10000"`
}

func (s *Server) healthCheck(c *gin.Context) {
	h := s.books.Health()
	status := "ok"
	if !h.Healthy {
		status = "degraded"
	}
	resp := gin.H{
		"status":    status,
		"books":     h,
		"timestamp": time.Now().UTC(),
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getBook(c *gin.Context) {
	var q depthQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		responses.BadRequest(c, "depth", "must be an integer between 0 and 10000")
		return
	}
	snap, err := s.books.BookSnapshot(c.Param("venue"), c.Param("symbol"), q.Depth)
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, snap)
}

func (s *Server) getChecksum(c *gin.Context) {
	sum, seq, err := s.books.Checksum(c.Param("venue"), c.Param("symbol"))
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, gin.H{"checksum": sum, "sequence": seq})
}

type aggregateView struct {
	Symbol  string                  `json:"symbol"`
	Venues  int                     `json:"venues"`
	BestBid *aggregator.VenueLevel  `json:"best_bid,omitempty"`
	BestAsk *aggregator.VenueLevel  `json:"best_ask,omitempty"`
	Spread  *decimal.Decimal        `json:"spread,omitempty"`
	Crossed bool                    `json:"crossed"`
	Bids    []aggregator.VenueLevel `json:"bids"`
	Asks    []aggregator.VenueLevel `json:"asks"`
}

func (s *Server) getAggregate(c *gin.Context) {
	var q depthQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		responses.BadRequest(c, "depth", "must be an integer between 0 and 10000")
		return
	}
	if q.Depth == 0 {
		q.Depth = 10
	}
	agg, err := s.books.Aggregate(c.Param("symbol"))
	if err != nil {
		responses.Error(c, err)
		return
	}
	view := aggregateView{
		Symbol:  agg.Symbol(),
		Venues:  agg.VenueCount(),
		Crossed: agg.HasCrossedVenues(),
	}
	if bid, ok := agg.BestBidAcrossVenues(); ok {
		view.BestBid = &bid
	}
	if ask, ok := agg.BestAskAcrossVenues(); ok {
		view.BestAsk = &ask
	}
	if spread, ok := agg.CrossVenueSpread(); ok {
		view.Spread = &spread
	}
	view.Bids, view.Asks = agg.AggregateDepth(q.Depth)
	responses.Success(c, view)
}

func (s *Server) getOpportunities(c *gin.Context) {
	ops := s.books.Evaluate(c.Param("symbol"))
	if ops == nil {
		ops = []arbitrage.Opportunity{}
	}
	responses.Success(c, gin.H{"symbol": c.Param("symbol"), "opportunities": ops})
}
