package httpapi

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	appauth "infodigest/internal/application/auth"
	"infodigest/internal/application/marketdata"
	appmon "infodigest/internal/application/monitoring"
	appnotif "infodigest/internal/application/notification"
	appscoring "infodigest/internal/application/scoring"
	dm "infodigest/internal/domain/monitoring"
	"infodigest/internal/infra/memory"
	authinfra "infodigest/internal/infrastructure/auth"
	"infodigest/internal/infrastructure/config"
	"infodigest/internal/infrastructure/notify"
	"infodigest/internal/infrastructure/persistence/postgres"

	"github.com/gin-gonic/gin"
)

const (
	errCodeBadRequest         = "BAD_REQUEST"
	errCodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	errCodeUnauthorized       = "AUTH_UNAUTHORIZED"
	errCodeForbidden          = "AUTH_FORBIDDEN"
	errCodeNotFound           = "NOT_FOUND"
	errCodeConflict           = "CONFLICT"
	errCodeInternal           = "INTERNAL_ERROR"
)

const seedTimeout = 5 * time.Second

// RuleStore 為策略規則與臨時關注的完整存取介面，
// 涵蓋監控引擎所需的讀取與 HTTP 層的 CRUD。
type RuleStore interface {
	appmon.RuleRepository
	CreateRule(ctx context.Context, rule dm.Rule) error
	ListRulesByUser(ctx context.Context, userID string) ([]dm.Rule, error)
	GetRule(ctx context.Context, id string) (dm.Rule, error)
	UpdateRuleStatus(ctx context.Context, id, userID string, status dm.Status) error
	DeleteRule(ctx context.Context, id, userID string) error
	CreateFocus(ctx context.Context, item dm.FocusItem) error
	ListFocusByUser(ctx context.Context, userID string) ([]dm.FocusItem, error)
	CancelFocus(ctx context.Context, id, userID string) error
}

// MarketStore 為市場資料的讀寫介面：快照、K 線與技術指標。
type MarketStore interface {
	appmon.SnapshotSource
	marketdata.BarSource
	marketdata.TechnicalsSink
}

// UserStore 為使用者情境與推播裝置的查詢介面。
type UserStore interface {
	appmon.UserContextSource
	notify.DeviceSource
	notify.DeliveryLogger
}

// Server 封裝 HTTP 路由與依賴。
type Server struct {
	router     *gin.Engine
	store      *memory.Store
	db         *sql.DB
	cfg        config.Config
	loginUC    *appauth.LoginUseCase
	tokenSvc   *authinfra.JWTIssuer
	rules      RuleStore
	market     MarketStore
	news       appmon.NewsSource
	users      UserStore
	engine     *appmon.Engine
	queue      *appnotif.Queue
	refresher  *marketdata.Refresher
	evaluators *appmon.EvaluatorSet
}

// NewServer 建立 API 伺服器。db 為 nil 時使用記憶體資料存儲，
// 並以預設帳號提供登入測試。
func NewServer(cfg config.Config, db *sql.DB) *Server {
	store := memory.NewStore()

	var (
		authRepo appauth.UserRepository
		rules    RuleStore
		market   MarketStore
		news     appmon.NewsSource
		users    UserStore
	)
	if db != nil {
		pgAuth := postgres.NewAuthRepo(db)
		authRepo = pgAuth
		rules = postgres.NewMonitoringRepo(db)
		market = postgres.NewMarketRepo(db)
		news = postgres.NewNewsRepo(db)
		users = postgres.NewUserContextRepo(db)

		ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
		defer cancel()
		if err := pgAuth.SeedDefaults(ctx); err != nil {
			log.Printf("[Server] seed default users failed err=%v", err)
		}
	} else {
		store.SeedUsers()
		authRepo = store
		rules = store
		market = store
		news = store
		users = store
	}

	tokenSvc := authinfra.NewJWTIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	loginUC := appauth.NewLoginUseCase(authRepo, authinfra.BcryptHasher{}, tokenSvc)

	var pushClient *notify.PushClient
	if cfg.Push.Enabled && cfg.Push.BaseURL != "" {
		pushClient = notify.NewPushClient(cfg.Push.BaseURL, cfg.Push.AuthToken, cfg.Push.BundleID, cfg.Push.Timeout)
	}
	deliverer := notify.NewPushDeliverer(pushClient, users, users, cfg.Push.Enabled)

	queue := appnotif.NewQueue(appnotif.Config{
		DrainInterval: cfg.Queue.DrainInterval,
		BatchSize:     cfg.Queue.BatchSize,
		DedupeWindow:  cfg.Queue.DedupeWindow,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		MaxSize:       cfg.Queue.MaxSize,
	}, deliverer)

	scorer := appscoring.NewScorer()
	engine := appmon.NewEngine(appmon.Config{
		CheckInterval:      cfg.Monitor.CheckInterval,
		FetchTimeout:       cfg.Monitor.FetchTimeout,
		EventMinImportance: cfg.Monitor.EventMinImportance,
		EventBatchLimit:    cfg.Monitor.EventBatchLimit,
	}, rules, market, news, users, scorer, queue)

	s := &Server{
		store:      store,
		db:         db,
		cfg:        cfg,
		loginUC:    loginUC,
		tokenSvc:   tokenSvc,
		rules:      rules,
		market:     market,
		news:       news,
		users:      users,
		engine:     engine,
		queue:      queue,
		refresher:  marketdata.NewRefresher(market, market),
		evaluators: appmon.NewEvaluatorSet(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(s.ginLogger(), gin.Recovery(), corsMiddleware())

	api := r.Group("/api")
	api.GET("/ping", s.handlePing)
	api.GET("/health", s.handleHealth)
	api.POST("/auth/login", s.handleLogin)

	mon := api.Group("/monitoring", s.requireAuth())
	mon.GET("/status", s.handleMonitoringStatus)
	mon.POST("/start", s.handleMonitoringStart)
	mon.POST("/stop", s.handleMonitoringStop)
	mon.POST("/check-cycle", s.handleCheckCycle)
	mon.GET("/strategies", s.handleActiveStrategies)
	mon.GET("/focus-items", s.handleActiveFocusItems)
	mon.GET("/queue", s.handleQueuePending)
	mon.POST("/queue/clear", s.requireAdmin(), s.handleQueueClear)
	mon.POST("/refresh-technicals", s.requireAdmin(), s.handleRefreshTechnicals)

	strategies := api.Group("/strategies", s.requireAuth())
	strategies.POST("", s.handleCreateStrategy)
	strategies.GET("", s.handleListStrategies)
	strategies.GET("/:id", s.handleGetStrategy)
	strategies.PATCH("/:id/status", s.handleUpdateStrategyStatus)
	strategies.DELETE("/:id", s.handleDeleteStrategy)
	strategies.POST("/:id/test", s.handleTestStrategy)

	focus := api.Group("/focus", s.requireAuth())
	focus.POST("", s.handleCreateFocus)
	focus.GET("", s.handleListFocus)
	focus.DELETE("/:id", s.handleCancelFocus)

	return r
}

// Handler 回傳路由處理器，供 HTTP server 掛載。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Engine 回傳監控引擎，供 main 控制生命週期。
func (s *Server) Engine() *appmon.Engine {
	return s.engine
}

// Queue 回傳通知佇列，供 main 控制生命週期。
func (s *Server) Queue() *appnotif.Queue {
	return s.queue
}

// Store 主要用於測試注入初始資料。
func (s *Server) Store() *memory.Store {
	return s.store
}
