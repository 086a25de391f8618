package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Prometheus implementa ports.Metrics con un registry propio.
type Prometheus struct {
	registry *prometheus.Registry

	cycleDuration     prometheus.Histogram
	signalsDetected   *prometheus.CounterVec
	signalsRejected   *prometheus.CounterVec
	positionsOpened   *prometheus.CounterVec
	positionsClosed   *prometheus.CounterVec
	realizedPnL       prometheus.Counter
	collaboratorError *prometheus.CounterVec

	capital       prometheus.Gauge
	available     prometheus.Gauge
	exposure      prometheus.Gauge
	openPositions prometheus.Gauge
	dailyPnL      prometheus.Gauge
	unrealizedPnL prometheus.Gauge
	breakerOpen   prometheus.Gauge
}

// NewPrometheus crea y registra todas las métricas del copybot.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),

		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copybot_cycle_duration_seconds",
			Help:    "Duration of each evaluation cycle in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		signalsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copybot_signals_detected_total",
			Help: "Signals detected by kind",
		}, []string{"kind"}),
		signalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copybot_signals_rejected_total",
			Help: "Signals rejected by reason",
		}, []string{"reason"}),
		positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copybot_positions_opened_total",
			Help: "Positions opened by signal kind",
		}, []string{"kind"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copybot_positions_closed_total",
			Help: "Positions closed by exit trigger and result",
		}, []string{"trigger", "result"}),
		realizedPnL: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copybot_realized_profit_usd_total",
			Help: "Sum of positive realized PnL in USD",
		}),
		collaboratorError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copybot_collaborator_errors_total",
			Help: "Failed calls to external collaborators by source",
		}, []string{"source"}),

		capital:       gauge("copybot_capital_usd", "Starting capital plus realized PnL"),
		available:     gauge("copybot_available_usd", "Capital not committed to positions or reservations"),
		exposure:      gauge("copybot_exposure_usd", "Sum of open position sizes"),
		openPositions: gauge("copybot_open_positions", "Number of open positions"),
		dailyPnL:      gauge("copybot_daily_pnl_usd", "Realized PnL of the current UTC day"),
		unrealizedPnL: gauge("copybot_unrealized_pnl_usd", "Mark-to-market PnL of open positions"),
		breakerOpen:   gauge("copybot_breaker_tripped", "1 while the circuit breaker is tripped"),
	}

	p.registry.MustRegister(
		p.cycleDuration, p.signalsDetected, p.signalsRejected,
		p.positionsOpened, p.positionsClosed, p.realizedPnL, p.collaboratorError,
		p.capital, p.available, p.exposure, p.openPositions,
		p.dailyPnL, p.unrealizedPnL, p.breakerOpen,
	)
	return p
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// Handler sirve el registry en formato de exposición de Prometheus.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) CycleCompleted(d time.Duration) {
	p.cycleDuration.Observe(d.Seconds())
}

func (p *Prometheus) SignalDetected(kind domain.SignalKind) {
	p.signalsDetected.WithLabelValues(kind.String()).Inc()
}

func (p *Prometheus) SignalRejected(reason string) {
	p.signalsRejected.WithLabelValues(reason).Inc()
}

func (p *Prometheus) PositionOpened(kind domain.SignalKind) {
	p.positionsOpened.WithLabelValues(kind.String()).Inc()
}

func (p *Prometheus) PositionClosed(trigger domain.ExitTrigger, pnl float64) {
	result := "loss"
	if pnl > 0 {
		result = "win"
		p.realizedPnL.Add(pnl)
	}
	p.positionsClosed.WithLabelValues(trigger.String(), result).Inc()
}

func (p *Prometheus) CollaboratorError(source string) {
	p.collaboratorError.WithLabelValues(source).Inc()
}

func (p *Prometheus) PortfolioUpdated(s domain.PortfolioState) {
	p.capital.Set(s.Capital)
	p.available.Set(s.Available)
	p.exposure.Set(s.Exposure)
	p.openPositions.Set(float64(len(s.OpenPositions)))
	p.dailyPnL.Set(s.DailyPnL)
	p.unrealizedPnL.Set(s.UnrealizedPnL())
	if s.Breaker.Status == domain.BreakerTripped {
		p.breakerOpen.Set(1)
	} else {
		p.breakerOpen.Set(0)
	}
}
