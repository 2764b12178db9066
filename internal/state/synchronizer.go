package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
)

// Handlers receive notifications from a Synchronizer. Any of them may be nil.
// Calls never overlap.
type Handlers struct {
	OnReading     func(Reading)
	OnThresholds  func(ThresholdConfig)
	OnUnavailable func(doc feed.Document, err error)
}

// Snapshot is a copy of the last known documents
type Snapshot struct {
	Reading       Reading
	HasReading    bool
	ReadingAt     time.Time
	Thresholds    ThresholdConfig
	HasThresholds bool
	ThresholdsAt  time.Time
}

// Synchronizer mirrors the realtime and settings documents of a feed
type Synchronizer struct {
	feed feed.Feed
	log  logger.Logger
	now  func() time.Time

	// dispatchMu serializes handler execution; mu guards the snapshot
	dispatchMu sync.Mutex
	mu         sync.RWMutex
	snap       Snapshot
	absent     map[feed.Document]bool
}

type Option func(*Synchronizer)

// WithClock overrides the clock used to stamp snapshots
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

func New(f feed.Feed, log logger.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		feed:   f,
		log:    log,
		now:    time.Now,
		absent: make(map[feed.Document]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscription is returned by Subscribe
type Subscription struct {
	closed atomic.Bool
	once   sync.Once
	unsubs []feed.Unsubscribe
}

// Unsubscribe releases both feed subscriptions. Later calls are no-ops and
// notifications already in flight are dropped.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		for _, u := range s.unsubs {
			u()
		}
	})
}

// Subscribe starts mirroring both documents. The two feed subscriptions
// are independent: absence of one never touches the other's snapshot.
func (s *Synchronizer) Subscribe(h Handlers) (*Subscription, error) {
	sub := &Subscription{}

	for _, doc := range []feed.Document{feed.RealtimeData, feed.Settings} {
		doc := doc
		unsub, err := s.feed.Subscribe(doc, func(payload []byte) {
			s.dispatch(sub, doc, payload, h)
		})
		if err != nil {
			sub.Unsubscribe()
			s.log.Error().Err(err).Str("doc", string(doc)).Msg("Failed to subscribe to document")
			return nil, errors.New().Wrap(ErrSubscribe, err)
		}
		sub.unsubs = append(sub.unsubs, unsub)
	}

	s.log.Debug().Msg("Subscribed to realtime and settings documents")
	return sub, nil
}

func (s *Synchronizer) dispatch(sub *Subscription, doc feed.Document, payload []byte, h Handlers) {
	if sub.closed.Load() {
		return
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	// Unsubscribed while waiting for the previous handler
	if sub.closed.Load() {
		return
	}

	if payload == nil {
		s.markAbsent(doc, errors.New().WithData(ErrAbsent, doc), h)
		return
	}

	switch doc {
	case feed.RealtimeData:
		r, err := DecodeReading(payload)
		if err != nil {
			s.markAbsent(doc, errors.New().Wrap(ErrDecode, err), h)
			return
		}
		s.mu.Lock()
		s.snap.Reading = r
		s.snap.HasReading = true
		s.snap.ReadingAt = s.now()
		delete(s.absent, doc)
		s.mu.Unlock()

		if h.OnReading != nil {
			h.OnReading(r)
		}

	case feed.Settings:
		c, err := DecodeThresholds(payload)
		if err != nil {
			s.markAbsent(doc, errors.New().Wrap(ErrDecode, err), h)
			return
		}
		s.mu.Lock()
		s.snap.Thresholds = c
		s.snap.HasThresholds = true
		s.snap.ThresholdsAt = s.now()
		delete(s.absent, doc)
		s.mu.Unlock()

		if h.OnThresholds != nil {
			h.OnThresholds(c)
		}
	}
}

// markAbsent keeps the last snapshot and raises the unavailable signal
func (s *Synchronizer) markAbsent(doc feed.Document, err errors.Error, h Handlers) {
	s.mu.Lock()
	s.absent[doc] = true
	s.mu.Unlock()

	s.log.Warn().
		Str("doc", string(doc)).
		Str("error_code", string(err.Code())).
		Err(err).
		Msg("Document unavailable, keeping last known snapshot")

	if h.OnUnavailable != nil {
		h.OnUnavailable(doc, err)
	}
}

// Snapshot returns a copy of the last known documents
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Unavailable lists the documents whose latest notification had no value
func (s *Synchronizer) Unavailable() []feed.Document {
	s.mu.RLock()
	docs := make([]feed.Document, 0, len(s.absent))
	for d := range s.absent {
		docs = append(docs, d)
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })
	return docs
}
