package fan

import (
	"context"
	"sync"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	"github.com/arqiarkaan/enviro-dashboard/internal/state"
)

const (
	keyManualControl = "manualControl"
	keyFanStatus     = "fanStatus"

	modeManual    = "Manual"
	modeAutomatic = "Otomatis"
)

type coordinator struct {
	feed    feed.Feed
	mu      sync.RWMutex
	pending bool
	logger  logger.Logger
}

func New(f feed.Feed, log logger.Logger) Controller {
	return &coordinator{
		feed:   f,
		logger: log,
	}
}

// ModePatch is the payload of a mode command
func ModePatch(manual bool) map[string]any {
	return map[string]any{keyManualControl: manual}
}

// StatePatch is the payload of a state command
func StatePatch(on bool) map[string]any {
	return map[string]any{keyManualControl: true, keyFanStatus: on}
}

func (c *coordinator) SetMode(ctx context.Context, manual bool) error {
	if err := c.send(ctx, ModePatch(manual)); err != nil {
		return errors.New().Wrap(ErrSetMode, err)
	}

	c.logger.Info().Bool("manual", manual).Msg("Fan mode command sent")
	return nil
}

func (c *coordinator) SetState(ctx context.Context, on bool) error {
	if err := c.send(ctx, StatePatch(on)); err != nil {
		return errors.New().Wrap(ErrSetState, err)
	}

	c.logger.Info().Bool("on", on).Msg("Fan state command sent")
	return nil
}

// send issues a fire-and-forget partial update. Until the next settings
// snapshot arrives the actuator state is unknown.
func (c *coordinator) send(ctx context.Context, patch map[string]any) error {
	c.mu.Lock()
	prev := c.pending
	c.pending = true
	c.mu.Unlock()

	if err := c.feed.Update(ctx, feed.Settings, patch); err != nil {
		// Nothing reached the store
		c.mu.Lock()
		c.pending = prev
		c.mu.Unlock()
		c.logger.Error().Err(err).Interface("patch", patch).Msg("Fan command failed")
		return err
	}
	return nil
}

func (c *coordinator) Observe(_ state.ThresholdConfig) {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
}

func (c *coordinator) Pending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending
}

func (c *coordinator) View(cfg state.ThresholdConfig) View {
	v := View{
		Manual:   cfg.ManualControl,
		Mode:     modeAutomatic,
		Status:   StatusOff,
		Pending:  c.Pending(),
		Switches: cfg.ManualControl,
	}
	if cfg.ManualControl {
		v.Mode = modeManual
	}
	if cfg.FanStatus {
		v.Status = StatusOn
	}
	if v.Pending {
		v.Status = StatusUnknown
	}
	return v
}
