package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"envmon/internal/modules/env/types"
)

// State of the stale-read controller.
type State int

const (
	StateNormal State = iota
	StateRecoveryPending
	StateRecoveryFailed
)

func (s State) String() string {
	switch s {
	case StateRecoveryPending:
		return "recovery_pending"
	case StateRecoveryFailed:
		return "recovery_failed"
	default:
		return "normal"
	}
}

const (
	// DefaultStaleThreshold is how many consecutive field-identical readings
	// signal frozen firmware.
	DefaultStaleThreshold = 10
	// DefaultCooldown is how long after a failed recovery the controller
	// waits before it may attempt another.
	DefaultCooldown = 5 * time.Minute

	powerOffInterval  = 3 * time.Second
	deviceWaitTimeout = 10 * time.Second
)

// Controller watches successive readings for firmware freeze and drives the
// hardware resetter when the duplicate threshold is hit. Owned by the
// acquisition loop; not safe for concurrent use.
type Controller struct {
	resetter Resetter
	logger   *slog.Logger

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state         State
	last          *types.Reading
	dups          int
	cooldownUntil time.Time
}

func NewController(resetter Resetter, logger *slog.Logger) *Controller {
	return &Controller{
		resetter:  resetter,
		logger:    logger,
		threshold: DefaultStaleThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
}

// Observe feeds one decoded reading through the staleness check and reports
// whether it should be forwarded downstream. Duplicates are still forwarded
// (a gap in the store is indistinguishable from real silence); only the
// reading that trips an active recovery is suppressed. Observe blocks for
// the full power-cycle when it triggers one.
func (c *Controller) Observe(ctx context.Context, r types.Reading) bool {
	if c.state == StateRecoveryFailed && !c.now().Before(c.cooldownUntil) {
		c.state = StateNormal
	}

	if c.last == nil || !r.FieldsEqual(*c.last) {
		c.dups = 0
		last := r
		c.last = &last
		return true
	}

	c.dups++
	if c.dups >= c.threshold && c.state == StateNormal {
		c.runRecovery(ctx)
		return false
	}
	return true
}

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// Duplicates returns the consecutive-duplicate count.
func (c *Controller) Duplicates() int { return c.dups }

func (c *Controller) runRecovery(ctx context.Context) {
	c.state = StateRecoveryPending
	c.logger.Warn("sensor stale, starting hardware recovery", "duplicates", c.dups)

	err := c.reset(ctx)

	// Fresh baseline either way: the device just power-cycled, or it is
	// about to keep repeating itself and we only re-trigger after another
	// full run of duplicates.
	c.dups = 0
	c.last = nil

	if err != nil {
		c.state = StateRecoveryFailed
		c.cooldownUntil = c.now().Add(c.cooldown)
		c.logger.Warn("hardware recovery failed, continuing with stale readings",
			"error", err,
			"retry_after", c.cooldown,
		)
		return
	}
	c.state = StateNormal
	c.logger.Info("hardware recovery complete")
}

func (c *Controller) reset(ctx context.Context) error {
	if err := c.resetter.CutPower(ctx, powerOffInterval); err != nil {
		return fmt.Errorf("cut power: %w", err)
	}
	if err := c.resetter.RestorePower(ctx); err != nil {
		return fmt.Errorf("restore power: %w", err)
	}
	if err := c.resetter.WaitForDevice(ctx, deviceWaitTimeout); err != nil {
		return fmt.Errorf("wait for device: %w", err)
	}
	return nil
}
