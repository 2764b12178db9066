package dashboard_test

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/alarm"
	"github.com/arqiarkaan/enviro-dashboard/internal/dashboard"
	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/fan"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/history"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	"github.com/arqiarkaan/enviro-dashboard/internal/settings"
	"github.com/arqiarkaan/enviro-dashboard/internal/state"
	"github.com/arqiarkaan/enviro-dashboard/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Unix(1700000010, 0).UTC()

type fakeObserver struct {
	mu        sync.Mutex
	readings  int
	available map[feed.Document]bool
	history   int
	commands  map[string]int
	failures  map[string]int
	lastEval  alarm.Evaluation
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		available: make(map[feed.Document]bool),
		commands:  make(map[string]int),
		failures:  make(map[string]int),
	}
}

func (o *fakeObserver) ObserveReading(_ state.Reading, ev alarm.Evaluation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readings++
	o.lastEval = ev
}

func (o *fakeObserver) ObserveThresholds(state.ThresholdConfig) {}

func (o *fakeObserver) SetFeedAvailable(doc feed.Document, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.available[doc] = ok
}

func (o *fakeObserver) CountHistoryEntry() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history++
}

func (o *fakeObserver) CountCommand(command string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands[command]++
	if err != nil {
		o.failures[command]++
	}
}

type fixture struct {
	feed     *feed.Memory
	recorder telemetry.Recorder
	observer *fakeObserver
	svc      *dashboard.Service
}

func newFixture(t *testing.T, cfg dashboard.Config) *fixture {
	t.Helper()

	rec, err := telemetry.NewService(telemetry.Config{DBPath: "unused", Enabled: false}, logger.New("telemetry"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })

	m := feed.NewMemory()
	obs := newFakeObserver()
	svc := dashboard.New(cfg, dashboard.Deps{
		Feed:     m,
		History:  m,
		Recorder: rec,
		Location: time.UTC,
		Observer: obs,
		Log:      logger.New("dashboard"),
		Clock:    func() time.Time { return now },
	})
	t.Cleanup(svc.Stop)

	return &fixture{feed: m, recorder: rec, observer: obs, svc: svc}
}

func reading() map[string]any {
	return map[string]any{
		"temperature": 31.2, "humidity": 60, "gas": 410, "distance": 120,
		"motionDetected": false, "statusDHT": "READY", "statusMQ2": "READY",
		"statusUltrasonic": "READY", "statusRelay": "ON",
		"alarmStatus": "ALARM_TEMP", "timestamp": now.Unix() - 5,
	}
}

func thresholds() map[string]any {
	return map[string]any{
		"tempThreshold": 30, "humidityThreshold": 80, "gasThreshold": 500,
		"distanceThreshold": 50, "fanStatus": true, "manualControl": true,
	}
}

func TestLoadingUntilBothDocuments(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	require.NoError(t, f.svc.Start())

	st := f.svc.Status()
	assert.True(t, st.Loading)
	assert.Nil(t, st.Reading)
	assert.Nil(t, st.Thresholds)

	require.NoError(t, f.feed.Set(feed.RealtimeData, reading()))
	st = f.svc.Status()
	assert.True(t, st.Loading, "thresholds still missing")
	require.NotNil(t, st.Reading)
	assert.Empty(t, st.Alarms, "local alarms need thresholds")
	assert.Equal(t, []string{"ALARM_TEMP"}, st.Reported)

	require.NoError(t, f.feed.Set(feed.Settings, thresholds()))
	st = f.svc.Status()
	assert.False(t, st.Loading)
	assert.Empty(t, st.Banner)
	assert.True(t, st.Live)
	assert.Equal(t, []string{"ALARM_TEMP"}, st.Alarms)
	assert.Equal(t, "ALARM_TEMP", st.AlarmStatus)
	require.Len(t, st.Cards, 4)
	assert.Equal(t, "Alert", st.Cards[0].Badge)
	assert.Equal(t, alarm.On, st.Subsystems[alarm.Relay].Class)
	assert.Equal(t, alarm.Connected, st.Subsystems[alarm.Gateway].Class)
	require.NotNil(t, st.Fan)
	assert.Equal(t, fan.StatusOn, st.Fan.Status)
	assert.Equal(t, "Manual", st.Fan.Mode)
}

func TestBannerFollowsAbsentDocuments(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	require.NoError(t, f.feed.Set(feed.Settings, thresholds()))
	require.NoError(t, f.svc.Start())

	st := f.svc.Status()
	assert.Equal(t, "Tidak ada data realtime dari Firebase.", st.Banner)
	assert.Equal(t, []feed.Document{feed.RealtimeData}, st.Unavailable)

	require.NoError(t, f.feed.Set(feed.RealtimeData, reading()))
	assert.Empty(t, f.svc.Status().Banner)

	f.feed.Publish(feed.Settings, nil)
	st = f.svc.Status()
	assert.Equal(t, "Tidak ada data settings dari Firebase.", st.Banner)
	require.NotNil(t, st.Thresholds, "last known thresholds are kept")
	assert.InDelta(t, 30.0, st.Thresholds.TempThreshold, 0)
	assert.False(t, f.observer.available[feed.Settings])
	assert.True(t, f.observer.available[feed.RealtimeData])
}

func TestConnectErrorBannerClearedBySnapshot(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	f.svc.ReportConnectError(stderrors.New("network unreachable"))

	assert.Equal(t, "Gagal terhubung ke Firebase: network unreachable", f.svc.Status().Banner)

	require.NoError(t, f.svc.Start())
	assert.Equal(t, "Gagal terhubung ke Firebase: network unreachable", f.svc.Status().Banner,
		"absent documents do not clear a connection failure")

	require.NoError(t, f.feed.Set(feed.RealtimeData, reading()))
	assert.Equal(t, "Tidak ada data settings dari Firebase.", f.svc.Status().Banner)
}

func TestStartFailsOnClosedFeed(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	require.NoError(t, f.feed.Close())

	err := f.svc.Start()
	require.Error(t, err)
	assert.Contains(t, f.svc.Status().Banner, "Gagal terhubung ke Firebase: ")
	assert.False(t, f.svc.Started())
}

func TestStaleReadingNotLive(t *testing.T) {
	f := newFixture(t, dashboard.Config{StaleAfter: 10 * time.Second})
	require.NoError(t, f.svc.Start())

	r := reading()
	r["timestamp"] = now.Unix() - 11
	require.NoError(t, f.feed.Set(feed.RealtimeData, r))

	st := f.svc.Status()
	assert.False(t, st.Live)
	assert.Equal(t, alarm.Disconnected, st.Subsystems[alarm.Gateway].Class)
}

func TestLoadHistoryAndWindows(t *testing.T) {
	f := newFixture(t, dashboard.Config{FetchLimit: 10})
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		key := int64(1700000000 + i*3600)
		require.NoError(t, f.recorder.Append(ctx, telemetry.Entry{
			Key:         strconv.FormatInt(key, 10),
			Temperature: float64(20 + i),
		}))
	}

	require.NoError(t, f.svc.LoadHistory(ctx))
	assert.Len(t, f.svc.Samples(), 10)
	assert.Equal(t, 10, f.svc.Status().History.Samples)
	assert.False(t, f.svc.Status().History.Loading)

	rows, err := f.svc.History(history.Last6)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.InDelta(t, 27.0, rows[0].Temperature, 0)
	assert.InDelta(t, 32.0, rows[5].Temperature, 0)

	_, err = f.svc.History(history.SampleCount(12))
	assert.True(t, errors.HasCode(err, history.ErrInvalidWindow))
}

func TestHistoryFeedAppendsAndReloads(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	require.NoError(t, f.svc.Start())

	f.feed.AppendHistory("1700003600", []byte(`{"temperature":25,"humidity":55,"gas":300}`))
	f.feed.AppendHistory("1700007200", []byte(`null`))

	samples := f.svc.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, "1700003600", samples[0].Key)
	assert.Equal(t, 1, f.observer.history)

	entries, err := f.recorder.LastN(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// heldRecorder holds back the result of the first LastN call until released
type heldRecorder struct {
	telemetry.Recorder
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *heldRecorder) LastN(ctx context.Context, n int) ([]telemetry.Entry, error) {
	entries, err := r.Recorder.LastN(ctx, n)
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return entries, err
}

func TestOlderHistoryLoadDoesNotOverwriteNewer(t *testing.T) {
	ctx := context.Background()
	rec, err := telemetry.NewService(telemetry.Config{DBPath: "unused", Enabled: false}, logger.New("telemetry"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })
	require.NoError(t, rec.Append(ctx, telemetry.Entry{Key: "1700000000", Temperature: 24}))

	held := &heldRecorder{Recorder: rec, entered: make(chan struct{}), release: make(chan struct{})}
	m := feed.NewMemory()
	svc := dashboard.New(dashboard.Config{}, dashboard.Deps{
		Feed:     m,
		History:  m,
		Recorder: held,
		Location: time.UTC,
		Log:      logger.New("dashboard"),
		Clock:    func() time.Time { return now },
	})
	t.Cleanup(svc.Stop)
	require.NoError(t, svc.Start())

	initial := make(chan error, 1)
	go func() { initial <- svc.LoadHistory(ctx) }()
	<-held.entered

	m.AppendHistory("1700003600", []byte(`{"temperature":25,"humidity":55,"gas":300}`))
	require.Len(t, svc.Samples(), 2)
	assert.False(t, svc.Status().History.Loading, "newest load already applied")

	close(held.release)
	require.NoError(t, <-initial)

	samples := svc.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, "1700003600", samples[1].Key)
	assert.False(t, svc.Status().History.Loading)
}

func TestLoadHistoryAfterStop(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	f.svc.Stop()

	err := f.svc.LoadHistory(context.Background())
	assert.True(t, errors.HasCode(err, dashboard.ErrStopped))
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dashboard.Config{ExportDir: dir})
	ctx := context.Background()

	_, err := f.svc.Export(history.Last6)
	assert.True(t, errors.HasCode(err, history.ErrEmptyExport))

	require.NoError(t, f.recorder.Append(ctx, telemetry.Entry{Key: "1700000000", Temperature: 25.55, Humidity: 60, Gas: 300}))
	require.NoError(t, f.svc.LoadHistory(ctx))

	a, err := f.svc.Export(history.Last6)
	require.NoError(t, err)
	assert.Equal(t, "sensor-data-2023-11-14.csv", a.Name)
	assert.Equal(t, history.ContentType, a.ContentType)

	written, err := os.ReadFile(filepath.Join(dir, a.Name))
	require.NoError(t, err)
	assert.Equal(t, a.Body, written)
}

func TestUpdateSettingsSendsPatch(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	require.NoError(t, f.feed.Set(feed.Settings, thresholds()))
	require.NoError(t, f.svc.Start())

	patch, err := f.svc.UpdateSettings(context.Background(), settings.Edit{settings.Temperature: "32.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tempThreshold": 32.5}, patch)
	assert.InDelta(t, 32.5, f.svc.Status().Thresholds.TempThreshold, 0)
	assert.Equal(t, 1, f.observer.commands["settings"])
}

func TestFanCommands(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	require.NoError(t, f.feed.Set(feed.Settings, thresholds()))
	require.NoError(t, f.svc.Start())
	ctx := context.Background()

	require.NoError(t, f.svc.SetFanState(ctx, false))
	updates := f.feed.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, map[string]any{"manualControl": true, "fanStatus": false}, updates[0].Patch)

	// The memory feed echoes the write, which confirms the command
	st := f.svc.Status()
	assert.False(t, st.Fan.Pending)
	assert.Equal(t, fan.StatusOff, st.Fan.Status)

	require.NoError(t, f.svc.SetFanMode(ctx, false))
	assert.Equal(t, "Otomatis", f.svc.Status().Fan.Mode)

	f.feed.FailUpdates(stderrors.New("permission denied"))
	require.Error(t, f.svc.SetFanMode(ctx, true))
	assert.False(t, f.svc.Status().Fan.Pending)
	assert.Equal(t, 1, f.observer.failures["fan_mode"])
	assert.Equal(t, 2, f.observer.commands["fan_mode"])
}

func TestWatchCoalescesAndCloses(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	ch, cancel := f.svc.Watch()
	defer cancel()

	require.NoError(t, f.svc.Start())
	require.NoError(t, f.feed.Set(feed.RealtimeData, reading()))
	require.NoError(t, f.feed.Set(feed.Settings, thresholds()))

	select {
	case _, ok := <-ch:
		assert.True(t, ok)
	default:
		t.Fatal("expected a change notification")
	}
	select {
	case <-ch:
		t.Fatal("bursts should coalesce into one notification")
	default:
	}

	f.svc.Stop()
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := f.svc.Watch()
	_, ok = <-late
	assert.False(t, ok)
}

func TestStopDropsLateNotifications(t *testing.T) {
	f := newFixture(t, dashboard.Config{})
	require.NoError(t, f.svc.Start())
	require.NoError(t, f.feed.Set(feed.RealtimeData, reading()))
	f.svc.Stop()

	assert.Zero(t, f.feed.Subscribers(feed.RealtimeData))

	before := f.observer.readings
	r := reading()
	r["temperature"] = 40
	require.NoError(t, f.feed.Set(feed.RealtimeData, r))
	assert.Equal(t, before, f.observer.readings)
	assert.InDelta(t, 31.2, f.svc.Status().Reading.Temperature, 0)
}
