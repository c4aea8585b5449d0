package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================

// ============ Ордера ============

// OrdersPlaced - размещённые ордера по символу и стороне
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "placed_total",
		Help:      "Total orders submitted to the exchange",
	},
	[]string{"symbol", "side", "type"},
)

// OrdersResolved - ордера по терминальным статусам
var OrdersResolved = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "resolved_total",
		Help:      "Orders that reached a terminal status",
	},
	[]string{"symbol", "status"},
)

// OrderPlacementLatency - время размещения ордера (с retry)
var OrderPlacementLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "placement_latency_ms",
		Help:      "Order placement latency including retries in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	},
	[]string{"symbol"},
)

// OrderRetries - повторные попытки размещения
var OrderRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "retries_total",
		Help:      "Order placement retry attempts",
	},
	[]string{"symbol"},
)

// TrackingAbandoned - ордера с потерянным трекингом
var TrackingAbandoned = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "tracking_abandoned_total",
		Help:      "Orders abandoned after consecutive poll failures",
	},
)

// ActiveTrackedOrders - ордера под наблюдением трекера
var ActiveTrackedOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "tracked_active",
		Help:      "Orders currently tracked until terminal status",
	},
)

// ============ Позиции ============

// PositionsOpened - открытые за всё время позиции
var PositionsOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "positions",
		Name:      "opened_total",
		Help:      "Positions opened",
	},
	[]string{"symbol", "side"},
)

// PositionsClosed - закрытые позиции по причинам
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "positions",
		Name:      "closed_total",
		Help:      "Positions closed by reason",
	},
	[]string{"symbol", "reason"},
)

// OpenPositions - текущее количество открытых позиций
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "positions",
		Name:      "open",
		Help:      "Currently open positions",
	},
)

// TotalExposureGauge - суммарный notional открытых позиций
var TotalExposureGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "positions",
		Name:      "exposure_usdt",
		Help:      "Total notional exposure of open positions in USDT",
	},
)

// RealizedPnl - накопленный реализованный PNL (может убывать)
var RealizedPnl = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "positions",
		Name:      "realized_pnl_usdt",
		Help:      "Cumulative realized PNL in USDT",
	},
	[]string{"symbol"},
)

// DailyPnlGauge - дневной PNL (реализованный + нереализованный)
var DailyPnlGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "daily_pnl_usdt",
		Help:      "Daily PNL (realized + unrealized) in USDT",
	},
)

// ============ Риск ============

// RiskLevelGauge - уровень системного риска (0=LOW .. 4=CRITICAL)
var RiskLevelGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "level",
		Help:      "System risk level: 0=LOW 1=MEDIUM 2=HIGH 3=VERY_HIGH 4=CRITICAL",
	},
)

// EmergencyStops - активации emergency stop
var EmergencyStops = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "emergency_stops_total",
		Help:      "Emergency stop activations",
	},
)

// OpenRejections - отказы гейта открытия позиций по причинам
var OpenRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "open_rejections_total",
		Help:      "Position open attempts rejected by the risk gate",
	},
	[]string{"reason"},
)

// ============ Планировщик ============

// TaskRuns - запуски периодических задач
var TaskRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "scheduler",
		Name:      "task_runs_total",
		Help:      "Periodic task executions by outcome",
	},
	[]string{"task", "outcome"},
)

// TaskDuration - длительность задач
var TaskDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scalper",
		Subsystem: "scheduler",
		Name:      "task_duration_ms",
		Help:      "Periodic task duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	},
	[]string{"task"},
)
