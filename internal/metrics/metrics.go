package metrics

import (
	"net/http"

	"github.com/arqiarkaan/enviro-dashboard/internal/alarm"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "enviro"

var knownAlarms = []alarm.Token{alarm.Temp, alarm.Humidity, alarm.Gas, alarm.Motion}

// Metrics exports the mirrored device state
type Metrics struct {
	sensorValue    *prometheus.GaugeVec
	threshold      *prometheus.GaugeVec
	alarmActive    *prometheus.GaugeVec
	subsystemState *prometheus.GaugeVec
	feedAvailable  *prometheus.GaugeVec
	fanOn          prometheus.Gauge
	fanManual      prometheus.Gauge
	lastReading    prometheus.Gauge
	historyEntries prometheus.Counter
	commands       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sensorValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sensor_value",
				Help:      "Latest sensor reading (°C, %, ppm, cm).",
			},
			[]string{"sensor"},
		),
		threshold: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "threshold",
				Help:      "Configured alarm threshold per sensor.",
			},
			[]string{"sensor"},
		),
		alarmActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alarm_active",
				Help:      "1 when the alarm condition holds for the latest reading.",
			},
			[]string{"alarm"},
		),
		subsystemState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subsystem_state",
				Help:      "1 when the subsystem is classified as the given state.",
			},
			[]string{"subsystem", "state"},
		),
		feedAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "feed_available",
				Help:      "1 when the remote document currently has a value.",
			},
			[]string{"doc"},
		),
		fanOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fan_on",
			Help:      "Confirmed fan state.",
		}),
		fanManual: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fan_manual",
			Help:      "1 when the fan is under manual control.",
		}),
		lastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading_timestamp_seconds",
			Help:      "Device timestamp of the latest reading.",
		}),
		historyEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_entries_total",
			Help:      "History entries appended to the local log.",
		}),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Settings and fan commands by outcome.",
			},
			[]string{"command", "result"},
		),
	}
	reg.MustRegister(m.sensorValue)
	reg.MustRegister(m.threshold)
	reg.MustRegister(m.alarmActive)
	reg.MustRegister(m.subsystemState)
	reg.MustRegister(m.feedAvailable)
	reg.MustRegister(m.fanOn)
	reg.MustRegister(m.fanManual)
	reg.MustRegister(m.lastReading)
	reg.MustRegister(m.historyEntries)
	reg.MustRegister(m.commands)
	return m
}

// NewRegistry returns a registry with the Go and build info collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// Handler serves reg in the exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) ObserveReading(r state.Reading, ev alarm.Evaluation) {
	m.sensorValue.WithLabelValues("temperature").Set(r.Temperature)
	m.sensorValue.WithLabelValues("humidity").Set(r.Humidity)
	m.sensorValue.WithLabelValues("gas").Set(r.Gas)
	m.sensorValue.WithLabelValues("distance").Set(r.Distance)
	m.lastReading.Set(float64(r.Timestamp))

	for _, t := range knownAlarms {
		m.alarmActive.WithLabelValues(string(t)).Set(boolToFloat(ev.Alarms.Has(t)))
	}

	m.subsystemState.Reset()
	for id, s := range ev.Subsystems {
		m.subsystemState.WithLabelValues(string(id), string(s.Class)).Set(1)
	}
}

func (m *Metrics) ObserveThresholds(c state.ThresholdConfig) {
	m.threshold.WithLabelValues("temperature").Set(c.TempThreshold)
	m.threshold.WithLabelValues("humidity").Set(c.HumidityThreshold)
	m.threshold.WithLabelValues("gas").Set(c.GasThreshold)
	m.threshold.WithLabelValues("distance").Set(c.DistanceThreshold)
	m.fanOn.Set(boolToFloat(c.FanStatus))
	m.fanManual.Set(boolToFloat(c.ManualControl))
}

func (m *Metrics) SetFeedAvailable(doc feed.Document, ok bool) {
	m.feedAvailable.WithLabelValues(string(doc)).Set(boolToFloat(ok))
}

func (m *Metrics) CountHistoryEntry() {
	m.historyEntries.Inc()
}

func (m *Metrics) CountCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(command, result).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
