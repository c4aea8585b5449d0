package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"scalper/internal/api"
	"scalper/internal/bot"
	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/internal/repository"
	"scalper/internal/service"
	"scalper/internal/websocket"
	"scalper/pkg/ratelimit"
	"scalper/pkg/retry"
	"scalper/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Connected to database",
		zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	orderRepo := repository.NewOrderRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	pairRepo := repository.NewPairRepository(db)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// WebSocket hub и уведомления
	hub := websocket.NewHub()
	go hub.Run()

	notifService := service.NewNotificationService(notificationRepo, logger)
	notifService.SetWebSocketHub(hub)
	go notifService.Run(rootCtx)

	// Биржевой клиент: dry-run торгует против симулятора
	var client exchange.Client
	var paper *exchange.PaperClient
	if cfg.Trading.DryRun {
		paper = exchange.NewPaperClient()
		paper.SetBalance("USDT", 10000)
		client = paper
		logger.Warn("DRY RUN mode: trading against paper exchange")
	} else {
		// Ключи биржи расшифровываются до старта торговли: ошибка ключа
		// шифрования должна валить процесс сразу, а не на первом ордере
		if _, _, err := cfg.ExchangeCredentials(); err != nil {
			logger.Fatal("Failed to decrypt exchange API credentials", zap.Error(err))
		}
		logger.Fatal("live trading requires an exchange adapter build; run with DRY_RUN=true")
	}

	// Кэш активных пар (перечитывается задачей планировщика)
	pairCache := newPairCache(pairRepo, logger)
	if err := pairCache.refresh(rootCtx); err != nil {
		logger.Fatal("Failed to load trading pairs", zap.Error(err))
	}

	// Торговое ядро
	limiter := ratelimit.NewRateLimiter(cfg.Trading.APIRateLimit, cfg.Trading.APIBurst)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Trading.MaxRetries
	retryCfg.InitialDelay = cfg.Trading.RetryBackoff

	tracker := bot.NewOrderTracker(client, limiter, orderRepo, tradeRepo, bot.TrackerConfig{
		PollInterval:       cfg.Tracker.PollInterval,
		MaxOrderAge:        cfg.Tracker.MaxOrderAge,
		PartialFillTimeout: cfg.Tracker.PartialFillTimeout,
		MinFilledFraction:  cfg.Tracker.MinFilledFraction,
		MaxPollFailures:    cfg.Tracker.MaxPollFailures,
	}, logger)
	tracker.SetNotifyFn(notifService.Notify)

	executor := bot.NewOrderExecutor(client, orderRepo, limiter, tracker,
		pairCache.get, retryCfg, cfg.Trading.OrderTimeout, logger)

	ledger := bot.NewPositionLedger(positionRepo)
	ledger.SetQuoteFn(pairCache.quoteOf)
	ledger.SetNotifyFn(notifService.Notify)

	governor := bot.NewRiskGovernor(bot.RiskConfig{
		MaxDailyLossPct:           cfg.Risk.MaxDailyLossPct,
		EmergencyStopThresholdPct: cfg.Risk.EmergencyStopThresholdPct,
		Cooldown:                  time.Duration(cfg.Risk.CooldownMinutes) * time.Minute,
		AutoRestart:               cfg.Risk.AutoRestart,
		MaxOpenPositions:          cfg.Risk.MaxOpenPositions,
		MaxPositionSizePct:        cfg.Risk.MaxPositionSizePct,
		MaxExposurePct:            cfg.Risk.MaxExposurePct,
		MaxPositionLossPct:        cfg.Risk.MaxPositionLossPct,
		MaxConsecutiveLosses:      cfg.Risk.MaxConsecutiveLosses,
		MaxPositionsPerQuote:      cfg.Risk.MaxPositionsPerQuote,
	})
	governor.SetNotifyFn(notifService.Notify)

	strategy := bot.NewMeanReversionStrategy(0.15, 0.001)

	orchestrator := bot.NewTradingOrchestrator(
		client, strategy, executor, tracker, ledger, governor,
		pairCache.list,
		func(ctx context.Context) (float64, error) {
			return tradeRepo.RealizedPnlSince(ctx, utils.DayStart())
		},
		bot.TradingParams{
			TargetProfitPct: cfg.Trading.TargetProfitPct,
			StopLossPct:     cfg.Trading.StopLossPct,
			TrailingStopPct: cfg.Trading.TrailingStopPct,
			MaxHoldingTime:  cfg.Trading.MaxHoldingTime,
			QuoteAsset:      "USDT",
		},
		logger,
	)
	orchestrator.SetNotifyFn(notifService.Notify)
	orchestrator.SetStream(hub)

	// Восстановление после рестарта: позиции в ledger, живые ордера
	// обратно под трекинг
	recovery := bot.NewRecoveryManager(client, orderRepo, ledger, tracker, logger)
	recovery.SetNotifyFn(notifService.Notify)
	if err := recovery.Recover(rootCtx); err != nil {
		logger.Error("Recovery failed, continuing with empty state", zap.Error(err))
	}

	if err := orchestrator.RefreshBalance(rootCtx); err != nil {
		logger.Error("Failed to fetch starting balance", zap.Error(err))
	}

	// Планировщик периодических задач
	scheduler := bot.NewScheduler(logger)
	scheduler.Add("risk-monitor", cfg.Risk.MonitorInterval, func(ctx context.Context) error {
		return orchestrator.RunCycle(ctx)
	})
	scheduler.Add("expiry-sweep", cfg.Risk.ExpirySweepInterval, orchestrator.SweepExpired)
	scheduler.Add("pair-refresh", 5*time.Minute, pairCache.refresh)
	scheduler.Add("notification-cleanup", 6*time.Hour, func(ctx context.Context) error {
		return notifService.Cleanup(ctx, 30)
	})
	scheduler.AddDaily("daily-reset", cfg.Risk.DailyResetHourUTC, orchestrator.DailyReset)
	scheduler.Start(rootCtx)

	// Поллинг ордеров
	go tracker.Run(rootCtx)

	// Симулятору нужен поток цен
	if paper != nil {
		go driftPaperPrices(rootCtx, paper, pairCache)
	}

	// HTTP API
	deps := &api.Dependencies{
		Risk:             governor,
		Ledger:           ledger,
		PositionRepo:     positionRepo,
		Closer:           orchestrator,
		OrderRepo:        orderRepo,
		Notifications:    notificationRepo,
		Pairs:            pairRepo,
		Hub:              hub,
		OpenPositionsFn:  ledger.ActiveCount,
		TrackedOrdersFn:  tracker.ActiveCount,
		EmergencyStopFn:  governor.EmergencyStopActive,
		TaskNamesFn:      scheduler.TaskNames,
		ControlTokenHash: cfg.Security.APITokenHash,
	}
	router := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting server", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Server failed", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Server failed", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Сначала останавливаем HTTP, затем торговые горутины
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	rootCancel()
	scheduler.Wait()

	logger.Info("Shutdown complete")
}

// initDatabase открывает и проверяет соединение с БД
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// driftPaperPrices гоняет случайное блуждание цен в симуляторе
func driftPaperPrices(ctx context.Context, paper *exchange.PaperClient, pc *pairCache) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range pc.list() {
				price, ok := prices[p.Symbol]
				if !ok {
					price = 100 // стартовая цена симуляции
				}
				// Шаг до ±0.2%
				price *= 1 + (rng.Float64()-0.5)*0.004
				prices[p.Symbol] = price
				paper.SetPrice(p.Symbol, price)
			}
		}
	}
}

// pairCache - кэш конфигурации пар в памяти
//
// Торговый цикл читает пары на каждом проходе; ходить в БД за ними
// каждые 5 секунд незачем. Обновляется задачей планировщика.
type pairCache struct {
	repo *repository.PairRepository
	log  *utils.Logger

	mu    sync.RWMutex
	pairs map[string]*models.PairConfig
}

func newPairCache(repo *repository.PairRepository, log *utils.Logger) *pairCache {
	return &pairCache{
		repo:  repo,
		log:   log.WithComponent("pairs"),
		pairs: make(map[string]*models.PairConfig),
	}
}

func (pc *pairCache) refresh(ctx context.Context) error {
	pairs, err := pc.repo.GetActive(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]*models.PairConfig, len(pairs))
	for _, p := range pairs {
		next[p.Symbol] = p
	}

	pc.mu.Lock()
	pc.pairs = next
	pc.mu.Unlock()

	pc.log.Info("trading pairs refreshed", zap.Int("count", len(next)))
	return nil
}

func (pc *pairCache) get(symbol string) *models.PairConfig {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.pairs[symbol]
}

func (pc *pairCache) list() []*models.PairConfig {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make([]*models.PairConfig, 0, len(pc.pairs))
	for _, p := range pc.pairs {
		out = append(out, p)
	}
	return out
}

func (pc *pairCache) quoteOf(symbol string) string {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if p, ok := pc.pairs[symbol]; ok {
		return p.Quote
	}
	return ""
}
