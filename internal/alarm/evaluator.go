package alarm

import (
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/state"
)

// SubsystemID names a device subsystem
type SubsystemID string

const (
	DHT        SubsystemID = "dht"
	MQ2        SubsystemID = "mq2"
	Ultrasonic SubsystemID = "ultrasonic"
	Relay      SubsystemID = "relay"
	Gateway    SubsystemID = "gateway"
)

// Classification is the derived state of a subsystem
type Classification string

const (
	OK           Classification = "OK"
	Error        Classification = "ERROR"
	On           Classification = "ON"
	Off          Classification = "OFF"
	Connected    Classification = "CONNECTED"
	Disconnected Classification = "DISCONNECTED"
)

var classText = map[SubsystemID]map[Classification]string{
	DHT:        {OK: "Berfungsi normal", Error: "Tidak terhubung atau error"},
	MQ2:        {OK: "Berfungsi normal", Error: "Tidak terhubung atau error"},
	Ultrasonic: {OK: "Berfungsi normal", Error: "Tidak terhubung atau error"},
	Relay:      {On: "Aktif (menyala)", Off: "Tidak aktif", Error: "Error"},
	Gateway:    {Connected: "Terkoneksi dan berjalan normal", Disconnected: "Tidak terhubung atau tidak ada data baru"},
}

// Subsystem is one entry of the connectivity panel
type Subsystem struct {
	Class Classification `json:"class"`
	Text  string         `json:"text"`
}

func subsystem(id SubsystemID, c Classification) Subsystem {
	return Subsystem{Class: c, Text: classText[id][c]}
}

// SensorID names a sensor display card
type SensorID string

const (
	TemperatureCard SensorID = "temperature"
	HumidityCard    SensorID = "humidity"
	GasCard         SensorID = "gas"
	DistanceCard    SensorID = "distance"
)

// Card is the display state of one sensor against its threshold
type Card struct {
	Sensor    SensorID `json:"sensor"`
	Title     string   `json:"title"`
	Unit      string   `json:"unit"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Exceeded  bool     `json:"exceeded"`
	Badge     string   `json:"badge"`
}

// Evaluation is derived from one reading and one threshold config
type Evaluation struct {
	// Alarms is computed locally from the thresholds
	Alarms Set
	// Reported is the set the device itself published in alarmStatus
	Reported   Set
	Cards      []Card
	Subsystems map[SubsystemID]Subsystem
}

// SampleCheck reports whether a reading carries a real DHT sample
type SampleCheck func(state.Reading) bool

// NonZeroTemperature treats a temperature of exactly 0 as "no sample".
// The firmware has no dedicated code for a missing DHT sample.
func NonZeroTemperature(r state.Reading) bool {
	return r.Temperature != 0
}

// Evaluator derives alarms and subsystem classifications
type Evaluator struct {
	SampleCheck SampleCheck
	StaleAfter  time.Duration
}

var defaultEvaluator = Evaluator{SampleCheck: NonZeroTemperature, StaleAfter: state.StaleAfter}

// Evaluate uses the default evaluator
func Evaluate(r state.Reading, t state.ThresholdConfig, now time.Time) Evaluation {
	return defaultEvaluator.Evaluate(r, t, now)
}

func (e Evaluator) Evaluate(r state.Reading, t state.ThresholdConfig, now time.Time) Evaluation {
	return Evaluation{
		Alarms:     Alarms(r, t),
		Reported:   ParseSet(r.AlarmStatus),
		Cards:      Cards(r, t),
		Subsystems: e.Subsystems(r, now),
	}
}

// Alarms compares each sensor with its threshold. Equality never alarms.
func Alarms(r state.Reading, t state.ThresholdConfig) Set {
	var s Set
	if r.Temperature > t.TempThreshold {
		s = s.With(Temp)
	}
	if r.Humidity > t.HumidityThreshold {
		s = s.With(Humidity)
	}
	if r.Gas > t.GasThreshold {
		s = s.With(Gas)
	}
	if r.MotionDetected {
		s = s.With(Motion)
	}
	return s
}

// Cards builds the four sensor cards. The distance card is exceeded when
// the object is closer than the threshold or motion is detected.
func Cards(r state.Reading, t state.ThresholdConfig) []Card {
	cards := []Card{
		{Sensor: TemperatureCard, Title: "Suhu", Unit: "°C", Value: r.Temperature, Threshold: t.TempThreshold, Exceeded: r.Temperature > t.TempThreshold},
		{Sensor: HumidityCard, Title: "Kelembapan", Unit: "%", Value: r.Humidity, Threshold: t.HumidityThreshold, Exceeded: r.Humidity > t.HumidityThreshold},
		{Sensor: GasCard, Title: "Gas", Unit: "ppm", Value: r.Gas, Threshold: t.GasThreshold, Exceeded: r.Gas > t.GasThreshold},
		{Sensor: DistanceCard, Title: "Jarak", Unit: "cm", Value: r.Distance, Threshold: t.DistanceThreshold, Exceeded: r.Distance < t.DistanceThreshold || r.MotionDetected},
	}
	for i := range cards {
		cards[i].Badge = "Normal"
		if cards[i].Exceeded {
			cards[i].Badge = "Alert"
		}
	}
	return cards
}

// Subsystems classifies each subsystem from its status and the reading age
func (e Evaluator) Subsystems(r state.Reading, now time.Time) map[SubsystemID]Subsystem {
	check := e.SampleCheck
	if check == nil {
		check = NonZeroTemperature
	}
	staleAfter := e.StaleAfter
	if staleAfter <= 0 {
		staleAfter = state.StaleAfter
	}

	dht := Error
	if r.StatusDHT == state.StatusReady && check(r) {
		dht = OK
	}

	relay := Error
	switch r.StatusRelay {
	case state.StatusOn:
		relay = On
	case state.StatusOff:
		relay = Off
	}

	gateway := Disconnected
	if state.IsLiveWithin(r, now, staleAfter) {
		gateway = Connected
	}

	return map[SubsystemID]Subsystem{
		DHT:        subsystem(DHT, dht),
		MQ2:        subsystem(MQ2, readyOrError(r.StatusMQ2)),
		Ultrasonic: subsystem(Ultrasonic, readyOrError(r.StatusUltrasonic)),
		Relay:      subsystem(Relay, relay),
		Gateway:    subsystem(Gateway, gateway),
	}
}

func readyOrError(s state.Status) Classification {
	if s == state.StatusReady {
		return OK
	}
	return Error
}
