package feed

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	qosAtLeastOnce   = byte(1)
	historySegment   = "history"
	setSuffix        = "set"
	connectPoll      = 200 * time.Millisecond
	subscribeTimeout = 5 * time.Second
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	ConnectTimeout time.Duration
}

// MQTT maps documents onto retained topics `<prefix>/<doc>` and partial
// updates onto `<prefix>/<doc>/set`.
type MQTT struct {
	client    mqtt.Client
	cfg       MQTTConfig
	log       logger.Logger
	mu        sync.RWMutex
	connected bool

	subMu       sync.Mutex
	nextID      uint64
	handlers    map[Document]map[uint64]Handler
	historySubs map[uint64]HistoryHandler

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTT(cfg MQTTConfig, log logger.Logger) *MQTT {
	m := &MQTT{
		cfg:         cfg,
		log:         log,
		handlers:    make(map[Document]map[uint64]Handler),
		historySubs: make(map[uint64]HistoryHandler),
		stopCh:      make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID(cfg.ClientID))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		m.setConnected(true)
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		// Clean sessions drop subscriptions on reconnect
		m.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.setConnected(false)
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	m.client = mqtt.NewClient(opts)
	return m
}

func clientID(base string) string {
	return base + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Connect establishes the broker connection, bounded by ctx and the
// configured connect timeout.
func (m *MQTT) Connect(ctx context.Context) error {
	errFactory := errors.New()

	select {
	case <-m.stopCh:
		return errFactory.New(ErrClosed)
	default:
	}

	if m.IsConnected() {
		return nil
	}

	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	token := m.client.Connect()
	for !token.WaitTimeout(connectPoll) {
		select {
		case <-ctx.Done():
			m.client.Disconnect(0)
			return errFactory.Wrap(ErrConnect, ctx.Err())
		case <-m.stopCh:
			m.client.Disconnect(0)
			return errFactory.New(ErrClosed)
		default:
		}
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrConnect, err)
	}

	return nil
}

func (m *MQTT) Subscribe(doc Document, h Handler) (Unsubscribe, error) {
	errFactory := errors.New()

	if !doc.Valid() {
		return nil, errFactory.WithData(ErrUnknownDocument, doc)
	}

	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	first := len(m.handlers[doc]) == 0
	if m.handlers[doc] == nil {
		m.handlers[doc] = make(map[uint64]Handler)
	}
	m.handlers[doc][id] = h
	m.subMu.Unlock()

	if first && m.IsConnected() {
		if err := m.subscribeTopic(m.documentTopic(doc), m.documentCallback(doc)); err != nil {
			m.removeHandler(doc, id)
			return nil, errFactory.Wrap(ErrSubscribe, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if m.removeHandler(doc, id) && m.IsConnected() {
				m.client.Unsubscribe(m.documentTopic(doc)).WaitTimeout(2 * time.Second)
			}
		})
	}, nil
}

// removeHandler reports whether doc has no handlers left
func (m *MQTT) removeHandler(doc Document, id uint64) bool {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	delete(m.handlers[doc], id)
	return len(m.handlers[doc]) == 0
}

func (m *MQTT) SubscribeHistory(h HistoryHandler) (Unsubscribe, error) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	first := len(m.historySubs) == 0
	m.historySubs[id] = h
	m.subMu.Unlock()

	if first && m.IsConnected() {
		if err := m.subscribeTopic(m.historyTopic(), m.handleHistory); err != nil {
			m.subMu.Lock()
			delete(m.historySubs, id)
			m.subMu.Unlock()
			return nil, errors.New().Wrap(ErrSubscribe, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.historySubs, id)
			empty := len(m.historySubs) == 0
			m.subMu.Unlock()
			if empty && m.IsConnected() {
				m.client.Unsubscribe(m.historyTopic()).WaitTimeout(2 * time.Second)
			}
		})
	}, nil
}

// Update publishes patch as JSON to `<prefix>/<doc>/set`
func (m *MQTT) Update(ctx context.Context, doc Document, patch map[string]any) error {
	errFactory := errors.New()

	if !doc.Valid() {
		return errFactory.WithData(ErrUnknownDocument, doc)
	}

	payload, err := json.Marshal(patch)
	if err != nil {
		return errFactory.Wrap(ErrInvalidPatch, err)
	}

	topic := m.documentTopic(doc) + "/" + setSuffix
	token := m.client.Publish(topic, qosAtLeastOnce, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return errFactory.Wrap(ErrWrite, ctx.Err())
	case <-m.stopCh:
		return errFactory.New(ErrClosed)
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	m.log.Debug().
		Str("topic", topic).
		Int("size", len(payload)).
		Msg("Published partial update")

	return nil
}

func (m *MQTT) subscribeTopic(topic string, cb mqtt.MessageHandler) error {
	token := m.client.Subscribe(topic, qosAtLeastOnce, cb)
	if !token.WaitTimeout(subscribeTimeout) {
		return errors.New().WithData(errors.ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return err
	}

	m.log.Info().Str("topic", topic).Msg("Subscribed to MQTT topic")
	return nil
}

func (m *MQTT) resubscribe() {
	m.subMu.Lock()
	docs := make([]Document, 0, len(m.handlers))
	for doc, hs := range m.handlers {
		if len(hs) > 0 {
			docs = append(docs, doc)
		}
	}
	history := len(m.historySubs) > 0
	m.subMu.Unlock()

	// Runs on the client's callback goroutine; waiting here would block it.
	for _, doc := range docs {
		m.client.Subscribe(m.documentTopic(doc), qosAtLeastOnce, m.documentCallback(doc))
	}
	if history {
		m.client.Subscribe(m.historyTopic(), qosAtLeastOnce, m.handleHistory)
	}
}

func (m *MQTT) documentCallback(doc Document) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := normalize(msg.Payload())

		m.log.Debug().
			Str("topic", msg.Topic()).
			Int("size", len(payload)).
			Msg("Received document snapshot")

		m.subMu.Lock()
		hs := make([]Handler, 0, len(m.handlers[doc]))
		for _, h := range m.handlers[doc] {
			hs = append(hs, h)
		}
		m.subMu.Unlock()

		for _, h := range hs {
			h(payload)
		}
	}
}

func (m *MQTT) handleHistory(_ mqtt.Client, msg mqtt.Message) {
	key, ok := historyKey(m.cfg.TopicPrefix, msg.Topic())
	if !ok {
		m.log.Debug().Str("topic", msg.Topic()).Msg("Ignoring message outside history log")
		return
	}

	m.subMu.Lock()
	hs := make([]HistoryHandler, 0, len(m.historySubs))
	for _, h := range m.historySubs {
		hs = append(hs, h)
	}
	m.subMu.Unlock()

	for _, h := range hs {
		h(key, msg.Payload())
	}
}

func (m *MQTT) documentTopic(doc Document) string {
	return topicJoin(m.cfg.TopicPrefix, string(doc))
}

func (m *MQTT) historyTopic() string {
	return topicJoin(m.cfg.TopicPrefix, historySegment, "+")
}

func topicJoin(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return strings.Join(trimmed, "/")
}

// historyKey extracts <key> from `<prefix>/history/<key>`
func historyKey(prefix, topic string) (string, bool) {
	base := topicJoin(prefix, historySegment) + "/"
	if !strings.HasPrefix(topic, base) {
		return "", false
	}
	key := strings.TrimPrefix(topic, base)
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// IsConnected returns whether the client is connected
func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected && m.client.IsConnected()
}

// Close stops the feed and disconnects. Safe to call multiple times.
func (m *MQTT) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.client != nil {
			m.client.Disconnect(250)
		}
		m.setConnected(false)
		m.log.Info().Msg("MQTT feed disconnected")
	})
	return nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}
