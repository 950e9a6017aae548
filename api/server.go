package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/changegate/changegate/api/handler"
	"github.com/changegate/changegate/api/middleware"
	"github.com/changegate/changegate/config"
	lifecycleserv "github.com/changegate/changegate/service/lifecycle"
	pipelineserv "github.com/changegate/changegate/service/pipeline"
	reviewserv "github.com/changegate/changegate/service/review"
	userserv "github.com/changegate/changegate/service/user"
)

const (
	maxHeaderBytes = 1 << 20

	// Staging and merge calls fan out into many remote object writes;
	// the write timeout has to be generous enough for them to finish.
	readTimeout  = 30 * time.Second
	writeTimeout = 120 * time.Second
)

type Server struct {
	httpServer *http.Server
	router     *mux.Router
}

func NewServer(ctx context.Context, config config.Config) *Server {
	router := mux.NewRouter()

	wrappedRouter := middleware.RecoveryMiddleware(ctx, router)

	return &Server{
		httpServer: &http.Server{
			Addr:           config.ServerPort,
			MaxHeaderBytes: maxHeaderBytes,
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			Handler:        wrappedRouter,
		},
		router: router,
	}
}

func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) HandleRoutes(
	ctx context.Context,
	cfg config.Config,
	lifecycleService lifecycleserv.Service,
	reviewService reviewserv.Service,
	pipelineService pipelineserv.Service,
	userService userserv.Service,
) {
	s.router.HandleFunc("/changes/sync", handler.SyncChange(ctx, lifecycleService)).Methods(http.MethodPost)
	s.router.HandleFunc("/changes/get", handler.GetChange(ctx, lifecycleService)).Methods(http.MethodGet)
	s.router.HandleFunc("/changes/merge", handler.MergeChange(ctx, lifecycleService)).Methods(http.MethodPost)
	s.router.HandleFunc("/changes/submit", handler.SubmitChange(ctx, reviewService)).Methods(http.MethodPost)
	s.router.HandleFunc("/changes/reviews", handler.ListChangeReviews(ctx, reviewService)).Methods(http.MethodGet)
	s.router.HandleFunc("/reviews/start", handler.StartReview(ctx, reviewService)).Methods(http.MethodPost)
	s.router.HandleFunc("/reviews/decide", handler.DecideReview(ctx, reviewService)).Methods(http.MethodPost)
	s.router.HandleFunc("/reviews/sla", handler.ReviewSLA(ctx, reviewService)).Methods(http.MethodGet)
	s.router.HandleFunc("/changes/pipeline", handler.GetPipelineRun(ctx, pipelineService)).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook/pipeline", handler.PipelineWebhook(ctx, cfg.CIWebhookSecret, pipelineService)).Methods(http.MethodPost)
	s.router.HandleFunc("/users/setIsActive", handler.SetActive(ctx, userService)).Methods(http.MethodPost)
}
