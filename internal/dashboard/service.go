package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/alarm"
	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/fan"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/history"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	"github.com/arqiarkaan/enviro-dashboard/internal/settings"
	"github.com/arqiarkaan/enviro-dashboard/internal/state"
	"github.com/arqiarkaan/enviro-dashboard/internal/telemetry"
)

// Deps are the collaborators of a Service. History and Observer are optional.
type Deps struct {
	Feed     feed.Feed
	History  feed.HistoryFeed
	Recorder telemetry.Recorder
	Location *time.Location
	Observer Observer
	Log      logger.Logger
	Clock    func() time.Time
}

// Service merges the realtime and settings channels into one view and
// routes user commands back to the feed.
type Service struct {
	cfg       Config
	log       logger.Logger
	now       func() time.Time
	observer  Observer
	evaluator alarm.Evaluator

	syncer    *state.Synchronizer
	fan       fan.Controller
	settings  *settings.Manager
	history   *history.Aggregator
	recorder  telemetry.Recorder
	histFeed  feed.HistoryFeed
	startOnce sync.Once
	started   atomic.Bool
	stopped   atomic.Bool

	mu          sync.RWMutex
	connectErr  string
	absent      map[feed.Document]bool
	samples     []history.Sample
	histLoading bool
	histErr     string
	// histIssued counts started loads; histStored is the newest one applied
	histIssued uint64
	histStored uint64
	sub         *state.Subscription
	histUnsub   feed.Unsubscribe

	watchMu  sync.Mutex
	watchers map[uint64]chan struct{}
	nextID   uint64
}

func New(cfg Config, deps Deps) *Service {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = history.DefaultFetchLimit
	}
	if !cfg.Window.Valid() {
		cfg.Window = history.DefaultWindow
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = state.StaleAfter
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}

	log := deps.Log
	return &Service{
		cfg:       cfg,
		log:       log,
		now:       deps.Clock,
		observer:  deps.Observer,
		evaluator: alarm.Evaluator{SampleCheck: alarm.NonZeroTemperature, StaleAfter: cfg.StaleAfter},
		syncer:    state.New(deps.Feed, log.With("state"), state.WithClock(deps.Clock)),
		fan:       fan.New(deps.Feed, log.With("fan")),
		settings:  settings.NewManager(deps.Feed, log.With("settings")),
		history:   history.NewAggregator(deps.Recorder, deps.Location, log.With("history")),
		recorder:  deps.Recorder,
		histFeed:  deps.History,
		absent:    make(map[feed.Document]bool),
		watchers:  make(map[uint64]chan struct{}),
	}
}

// Start subscribes to both documents and, when configured, to the history
// feed. The history buffer is not loaded; call LoadHistory for that.
func (s *Service) Start() error {
	var err error
	s.startOnce.Do(func() {
		err = s.start()
	})
	return err
}

func (s *Service) start() error {
	sub, err := s.syncer.Subscribe(state.Handlers{
		OnReading:     s.onReading,
		OnThresholds:  s.onThresholds,
		OnUnavailable: s.onUnavailable,
	})
	if err != nil {
		s.ReportConnectError(err)
		return err
	}

	var histUnsub feed.Unsubscribe
	if s.histFeed != nil {
		histUnsub, err = s.histFeed.SubscribeHistory(s.onHistoryEntry)
		if err != nil {
			sub.Unsubscribe()
			s.ReportConnectError(err)
			return err
		}
	}

	s.mu.Lock()
	s.sub = sub
	s.histUnsub = histUnsub
	s.mu.Unlock()
	s.started.Store(true)

	s.log.Info().Bool("history_feed", s.histFeed != nil).Msg("Dashboard started")
	return nil
}

// Stop releases every subscription. Notifications and history results that
// arrive afterwards are discarded.
func (s *Service) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	sub, histUnsub := s.sub, s.histUnsub
	s.sub, s.histUnsub = nil, nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if histUnsub != nil {
		histUnsub()
	}

	s.watchMu.Lock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.watchMu.Unlock()

	s.log.Info().Msg("Dashboard stopped")
}

// ReportConnectError raises the connection banner. It stays up until a
// valid snapshot arrives.
func (s *Service) ReportConnectError(err error) {
	s.mu.Lock()
	s.connectErr = bannerConnectPrefix + err.Error()
	s.mu.Unlock()

	s.log.Error().Err(err).Msg("Failed to connect to device feed")
	s.notify()
}

func (s *Service) onReading(_ state.Reading) {
	s.markPresent(feed.RealtimeData)
	s.observe()
	s.notify()
}

func (s *Service) onThresholds(c state.ThresholdConfig) {
	s.markPresent(feed.Settings)
	s.fan.Observe(c)
	s.observer.ObserveThresholds(c)
	s.observe()
	s.notify()
}

// observe exports the current evaluation. Local alarms need thresholds.
func (s *Service) observe() {
	snap := s.syncer.Snapshot()
	if !snap.HasReading {
		return
	}
	ev := s.evaluator.Evaluate(snap.Reading, snap.Thresholds, s.now())
	if !snap.HasThresholds {
		ev.Alarms = nil
	}
	s.observer.ObserveReading(snap.Reading, ev)
}

func (s *Service) onUnavailable(doc feed.Document, err error) {
	s.mu.Lock()
	s.absent[doc] = true
	s.mu.Unlock()

	s.observer.SetFeedAvailable(doc, false)
	s.log.Debug().Str("doc", string(doc)).Err(err).Msg("Document unavailable")
	s.notify()
}

func (s *Service) markPresent(doc feed.Document) {
	s.mu.Lock()
	delete(s.absent, doc)
	s.connectErr = ""
	s.mu.Unlock()

	s.observer.SetFeedAvailable(doc, true)
}

// onHistoryEntry persists a history entry and reloads the buffer
func (s *Service) onHistoryEntry(key string, payload []byte) {
	if s.stopped.Load() {
		return
	}

	entry, err := telemetry.DecodeEntry(key, payload)
	if err != nil {
		s.log.Debug().Str("key", key).Err(err).Msg("Ignoring history entry")
		return
	}

	ctx := context.Background()
	if err := s.recorder.Append(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to record history entry")
		return
	}
	s.observer.CountHistoryEntry()

	if err := s.LoadHistory(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to reload history after new entry")
	}
}

// LoadHistory fetches the most recent FetchLimit entries into the buffer.
// Loads may overlap; a result older than one already applied is dropped,
// as is any result that lands after Stop.
func (s *Service) LoadHistory(ctx context.Context) error {
	if s.stopped.Load() {
		return errors.New().New(ErrStopped)
	}

	s.mu.Lock()
	s.histIssued++
	gen := s.histIssued
	s.histLoading = true
	s.mu.Unlock()
	s.notify()

	samples, err := s.history.FetchWindow(ctx, s.cfg.FetchLimit)
	if s.stopped.Load() {
		s.log.Debug().Msg("Discarding history fetched after stop")
		return errors.New().New(ErrStopped)
	}

	s.mu.Lock()
	if applied := s.histStored; gen < applied {
		s.mu.Unlock()
		s.log.Debug().Uint64("load", gen).Uint64("applied", applied).Msg("Discarding superseded history load")
		return err
	}
	s.histStored = gen
	s.histLoading = gen != s.histIssued
	if err != nil {
		s.histErr = err.Error()
	} else {
		s.samples = samples
		s.histErr = ""
	}
	s.mu.Unlock()
	s.notify()

	return err
}

// Samples returns a copy of the history buffer
func (s *Service) Samples() []history.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]history.Sample(nil), s.samples...)
}

// History returns the chart rows of the selected window
func (s *Service) History(n history.SampleCount) ([]history.Row, error) {
	if !n.Valid() {
		return nil, errors.New().WithData(history.ErrInvalidWindow, int(n))
	}
	return s.history.Slice(s.Samples(), n), nil
}

// DefaultWindow is the configured window used when a request names none
func (s *Service) DefaultWindow() history.SampleCount {
	return s.cfg.Window
}

// Export renders the selected window as CSV. When an export directory is
// configured the artifact is also written there.
func (s *Service) Export(n history.SampleCount) (history.Artifact, error) {
	rows, err := s.History(n)
	if err != nil {
		return history.Artifact{}, err
	}

	a, err := history.Export(rows, s.now())
	if err != nil {
		return history.Artifact{}, err
	}

	if s.cfg.ExportDir != "" {
		path, err := history.ExportToDir(s.cfg.ExportDir, a)
		if err != nil {
			s.log.Error().Err(err).Str("dir", s.cfg.ExportDir).Msg("Failed to write export")
			return history.Artifact{}, err
		}
		s.log.Info().Str("path", path).Int("rows", len(rows)).Msg("History exported")
	}
	return a, nil
}

// UpdateSettings sends a threshold edit
func (s *Service) UpdateSettings(ctx context.Context, e settings.Edit) (map[string]any, error) {
	patch, err := s.settings.Update(ctx, e)
	s.observer.CountCommand("settings", err)
	return patch, err
}

// SetFanMode switches the fan between manual and automatic control
func (s *Service) SetFanMode(ctx context.Context, manual bool) error {
	err := s.fan.SetMode(ctx, manual)
	s.observer.CountCommand("fan_mode", err)
	s.notify()
	return err
}

// SetFanState turns the fan on or off
func (s *Service) SetFanState(ctx context.Context, on bool) error {
	err := s.fan.SetState(ctx, on)
	s.observer.CountCommand("fan_state", err)
	s.notify()
	return err
}

// Status assembles the current view
func (s *Service) Status() Status {
	now := s.now()
	snap := s.syncer.Snapshot()

	unavailable := s.syncer.Unavailable()

	s.mu.RLock()
	st := Status{
		Loading: !snap.HasReading || !snap.HasThresholds,
		Banner:  s.bannerLocked(),
		History: HistoryState{
			Loading: s.histLoading,
			Error:   s.histErr,
			Samples: len(s.samples),
		},
		Alarms:      []string{},
		Reported:    []string{},
		Unavailable: unavailable,
		GeneratedAt: now,
	}
	s.mu.RUnlock()

	if snap.HasReading {
		r := snap.Reading
		st.Reading = &r
		st.Live = state.IsLiveWithin(r, now, s.cfg.StaleAfter)
		st.Subsystems = s.evaluator.Subsystems(r, now)
		st.Reported = tokens(alarm.ParseSet(r.AlarmStatus))
	}
	if snap.HasThresholds {
		c := snap.Thresholds
		st.Thresholds = &c
		v := s.fan.View(c)
		st.Fan = &v
	}
	if snap.HasReading && snap.HasThresholds {
		local := alarm.Alarms(snap.Reading, snap.Thresholds)
		st.Alarms = tokens(local)
		st.AlarmStatus = local.String()
		st.Cards = alarm.Cards(snap.Reading, snap.Thresholds)
	}

	return st
}

// bannerLocked picks the message to show. A connection failure wins over
// a missing document; realtime wins over settings.
func (s *Service) bannerLocked() string {
	switch {
	case s.connectErr != "":
		return s.connectErr
	case s.absent[feed.RealtimeData]:
		return bannerRealtimeAbsent
	case s.absent[feed.Settings]:
		return bannerSettingsAbsent
	}
	return ""
}

func tokens(set alarm.Set) []string {
	out := make([]string, 0, len(set))
	for _, t := range set {
		out = append(out, string(t))
	}
	return out
}

// Watch returns a channel that receives a value whenever the view may have
// changed. Bursts coalesce into one signal. The channel is closed by Stop
// or by the returned cancel func.
func (s *Service) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.watchMu.Lock()
	if s.stopped.Load() {
		s.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			if c, ok := s.watchers[id]; ok {
				close(c)
				delete(s.watchers, id)
			}
			s.watchMu.Unlock()
		})
	}
}

func (s *Service) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Started reports whether Start succeeded
func (s *Service) Started() bool {
	return s.started.Load()
}
