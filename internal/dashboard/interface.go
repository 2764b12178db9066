package dashboard

import (
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/alarm"
	"github.com/arqiarkaan/enviro-dashboard/internal/fan"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/history"
	"github.com/arqiarkaan/enviro-dashboard/internal/state"
)

const (
	bannerRealtimeAbsent = "Tidak ada data realtime dari Firebase."
	bannerSettingsAbsent = "Tidak ada data settings dari Firebase."
	bannerConnectPrefix  = "Gagal terhubung ke Firebase: "
)

// Observer receives state changes for export; *metrics.Metrics satisfies it
type Observer interface {
	ObserveReading(r state.Reading, ev alarm.Evaluation)
	ObserveThresholds(c state.ThresholdConfig)
	SetFeedAvailable(doc feed.Document, ok bool)
	CountHistoryEntry()
	CountCommand(command string, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveReading(state.Reading, alarm.Evaluation) {}
func (noopObserver) ObserveThresholds(state.ThresholdConfig)        {}
func (noopObserver) SetFeedAvailable(feed.Document, bool)           {}
func (noopObserver) CountHistoryEntry()                             {}
func (noopObserver) CountCommand(string, error)                     {}

// Config holds the dashboard settings
type Config struct {
	FetchLimit int
	Window     history.SampleCount
	StaleAfter time.Duration
	ExportDir  string
}

// HistoryState describes the loaded history buffer
type HistoryState struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
	Samples int    `json:"samples"`
}

// Status is everything the dashboard shows at one instant
type Status struct {
	Loading     bool                                  `json:"loading"`
	Banner      string                                `json:"banner,omitempty"`
	Live        bool                                  `json:"live"`
	Reading     *state.Reading                        `json:"reading"`
	Thresholds  *state.ThresholdConfig                `json:"thresholds"`
	AlarmStatus string                                `json:"alarmStatus,omitempty"`
	Alarms      []string                              `json:"alarms"`
	Reported    []string                              `json:"reported"`
	Cards       []alarm.Card                          `json:"cards,omitempty"`
	Subsystems  map[alarm.SubsystemID]alarm.Subsystem `json:"subsystems,omitempty"`
	Fan         *fan.View                             `json:"fan,omitempty"`
	Unavailable []feed.Document                       `json:"unavailable"`
	History     HistoryState                          `json:"history"`
	GeneratedAt time.Time                             `json:"generatedAt"`
}
