package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scalper/internal/api/handlers"
	"scalper/internal/api/middleware"
	"scalper/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Risk          handlers.RiskController
	Ledger        handlers.PositionReader
	PositionRepo  handlers.PositionHistory
	Closer        handlers.PositionCloser
	OrderRepo     handlers.OrderReader
	Notifications handlers.NotificationReader
	Pairs         handlers.PairStore
	Hub           *websocket.Hub

	// Зависимости health endpoint'а
	OpenPositionsFn func() int
	TrackedOrdersFn func() int
	EmergencyStopFn func() bool
	TaskNamesFn     func() []string

	// bcrypt-хеш токена управляющих endpoints (пустой = auth выключен)
	ControlTokenHash string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура:
//
// /api/v1/
//
//	├── /health                      GET  - живость процесса
//	├── /risk                        GET  - состояние риск-контура
//	├── /risk/emergency-stop         POST - ручная активация (auth)
//	├── /risk/emergency-stop         DELETE - ручная деактивация (auth)
//	├── /positions                   GET  - открытые позиции
//	├── /positions/history           GET  - закрытые позиции
//	├── /positions/{symbol}/close    POST - ручное закрытие (auth)
//	├── /orders                      GET  - последние ордера
//	├── /orders/active               GET  - нетерминальные ордера
//	├── /notifications               GET  - журнал уведомлений
//	├── /pairs                       GET  - активные пары
//	├── /pairs/{symbol}              GET  - конфигурация пары
//	├── /pairs/{symbol}/start        POST - включить пару (auth)
//	└── /pairs/{symbol}/pause        POST - выключить входы по паре (auth)
//
// /ws/stream  - WebSocket для real-time обновлений
// /metrics    - Prometheus
//
// Middleware: Recovery -> Logging -> CORS для всех; TokenAuth только
// для управляющих endpoints.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	riskHandler := handlers.NewRiskHandler(deps.Risk)
	positionHandler := handlers.NewPositionHandler(deps.Ledger, deps.PositionRepo, deps.Closer)
	orderHandler := handlers.NewOrderHandler(deps.OrderRepo)
	notificationHandler := handlers.NewNotificationHandler(deps.Notifications)
	pairHandler := handlers.NewPairHandler(deps.Pairs)
	healthHandler := handlers.NewHealthHandler(
		deps.OpenPositionsFn,
		deps.TrackedOrdersFn,
		deps.EmergencyStopFn,
		deps.TaskNamesFn,
		deps.Hub.ClientCount,
	)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Читающие endpoints
	v1.HandleFunc("/health", healthHandler.Get).Methods(http.MethodGet)
	v1.HandleFunc("/risk", riskHandler.GetState).Methods(http.MethodGet)
	v1.HandleFunc("/positions", positionHandler.GetActive).Methods(http.MethodGet)
	v1.HandleFunc("/positions/history", positionHandler.GetHistory).Methods(http.MethodGet)
	v1.HandleFunc("/orders", orderHandler.GetRecent).Methods(http.MethodGet)
	v1.HandleFunc("/orders/active", orderHandler.GetActive).Methods(http.MethodGet)
	v1.HandleFunc("/notifications", notificationHandler.GetRecent).Methods(http.MethodGet)
	v1.HandleFunc("/pairs", pairHandler.GetActive).Methods(http.MethodGet)
	v1.HandleFunc("/pairs/{symbol}", pairHandler.GetBySymbol).Methods(http.MethodGet)

	// Управляющие endpoints под авторизацией
	control := v1.NewRoute().Subrouter()
	control.Use(middleware.TokenAuth(deps.ControlTokenHash))
	control.HandleFunc("/risk/emergency-stop", riskHandler.ActivateEmergencyStop).Methods(http.MethodPost)
	control.HandleFunc("/risk/emergency-stop", riskHandler.DeactivateEmergencyStop).Methods(http.MethodDelete)
	control.HandleFunc("/positions/{symbol}/close", positionHandler.Close).Methods(http.MethodPost)
	control.HandleFunc("/pairs/{symbol}/start", pairHandler.Start).Methods(http.MethodPost)
	control.HandleFunc("/pairs/{symbol}/pause", pairHandler.Pause).Methods(http.MethodPost)

	// WebSocket поток
	router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWS(deps.Hub, w, r)
	})

	// Prometheus
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}
