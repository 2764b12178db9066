package telemetry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// NewService opens the history log. When persistence is disabled the log
// lives in an in-memory database for the lifetime of the process.
func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("History persistence disabled, using in-memory database")
		cfg.DBPath = memoryDBPath
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Bool("enabled", cfg.Enabled).
		Msg("History service initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Append(ctx context.Context, entry Entry) error {
	errFactory := errors.New()

	if strings.TrimSpace(entry.Key) == "" {
		return errFactory.WithMessage(ErrInvalidEntry, "history entry has no key")
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Append(entry); err != nil {
			return errFactory.Wrap(ErrAppendFailed, err)
		}
	}

	return nil
}

func (s *service) LastN(ctx context.Context, n int) ([]Entry, error) {
	select {
	case <-ctx.Done():
		return nil, errors.New().Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.LastN(n)
	}
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

type entryPayload struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Gas         float64 `json:"gas"`
}

// DecodeEntry parses a `/history/<key>` document. Missing fields read as 0;
// an empty or null document is rejected.
func DecodeEntry(key string, payload []byte) (Entry, error) {
	errFactory := errors.New()

	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return Entry{}, errFactory.WithData(ErrInvalidEntry, key)
	}

	var p entryPayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return Entry{}, errFactory.Wrap(ErrInvalidEntry, err)
	}

	return Entry{
		Key:         key,
		Temperature: p.Temperature,
		Humidity:    p.Humidity,
		Gas:         p.Gas,
	}, nil
}
