package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const namespace = "livequiz"

type MetricsConfig struct {
	EventBus   *event.Bus
	Registerer prometheus.Registerer

	// Connections reports the number of open websocket connections. Optional.
	Connections func() int
}

// Metrics counts session activity from the domain events on the bus.
type Metrics struct {
	GamesStarted     prometheus.Counter
	GamesEnded       prometheus.Counter
	GameResets       prometheus.Counter
	RoundsStarted    prometheus.Counter
	Answers          *prometheus.CounterVec
	ScoreReversions  prometheus.Counter
	PlayersConnected *prometheus.CounterVec
	ActivePlayers    prometheus.Gauge
}

func NewMetrics(c MetricsConfig) (*Metrics, error) {
	m := &Metrics{
		GamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "games_started_total",
			Help: "Games started by the host.",
		}),
		GamesEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "games_ended_total",
			Help: "Games that reached the end screen.",
		}),
		GameResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "game_resets_total",
			Help: "Sessions reset back to the lobby.",
		}),
		RoundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rounds_started_total",
			Help: "Questions shown to players.",
		}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "answers_total",
			Help: "Accepted answers by correctness.",
		}, []string{"correct"}),
		ScoreReversions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "score_reversions_total",
			Help: "Answers taken back because the player left mid-round.",
		}),
		PlayersConnected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "player_connections_total",
			Help: "Player joins, split by reconnects.",
		}, []string{"reconnect"}),
		ActivePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_players",
			Help: "Players currently connected to the session.",
		}),
	}

	collectors := []prometheus.Collector{
		m.GamesStarted, m.GamesEnded, m.GameResets, m.RoundsStarted,
		m.Answers, m.ScoreReversions, m.PlayersConnected, m.ActivePlayers,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_bus_dropped_total",
			Help: "Event handler invocations skipped because the worker pool was full.",
		}, func() float64 { return float64(c.EventBus.Dropped()) }),
	}
	if c.Connections != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_connections",
			Help: "Open websocket connections.",
		}, func() float64 { return float64(c.Connections()) }))
	}

	for _, col := range collectors {
		if err := c.Registerer.Register(col); err != nil {
			return nil, err
		}
	}

	m.subscribe(c.EventBus)
	return m, nil
}

func (m *Metrics) subscribe(eb *event.Bus) {
	eb.Subscribe(domain.EventNameGameStarted, func(context.Context, event.Event) error {
		m.GamesStarted.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameGameEnded, func(context.Context, event.Event) error {
		m.GamesEnded.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameGameReset, func(context.Context, event.Event) error {
		m.GameResets.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameRoundStarted, func(context.Context, event.Event) error {
		m.RoundsStarted.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameAnswerSubmitted, func(_ context.Context, e event.Event) error {
		m.Answers.WithLabelValues(strconv.FormatBool(e.(domain.EventAnswerSubmitted).Correct)).Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameScoreReverted, func(context.Context, event.Event) error {
		m.ScoreReversions.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNamePlayerConnected, func(_ context.Context, e event.Event) error {
		m.PlayersConnected.WithLabelValues(strconv.FormatBool(e.(domain.EventPlayerConnected).Reconnected)).Inc()
		m.ActivePlayers.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNamePlayerDisconnected, func(context.Context, event.Event) error {
		m.ActivePlayers.Dec()
		return nil
	})
}
