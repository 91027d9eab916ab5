// Package stops ratchets protective stops of open positions: a trailing stop
// that follows price once a profit threshold is reached, and a one-shot move
// to breakeven.
package stops

import (
	"context"
	"errors"
	"fmt"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/metrics"
	"github.com/evdnx/smartbot/position"
	"github.com/evdnx/smartbot/types"
)

// ErrExchangeUpdate is returned when the local stop moved but the exchange
// refused or failed the update.
var ErrExchangeUpdate = errors.New("exchange stop update failed")

// StopUpdater pushes a stop price to wherever the order lives.
type StopUpdater interface {
	UpdateStop(ctx context.Context, positionID string, newStop float64) (bool, error)
}

// tightens reports whether next is strictly more protective than cur. A zero
// current stop counts as unset.
func tightens(side types.Side, cur, next float64) bool {
	if cur == 0 {
		return true
	}
	if side == types.Buy {
		return next > cur
	}
	return next < cur
}

// apply records stop locally first, then forwards it to updater. A failed
// exchange update leaves the local stop in place.
func apply(ctx context.Context, kind string, tracker *position.Tracker, updater StopUpdater, log logger.Logger, id string, stop float64) error {
	if err := tracker.UpdateStop(id, stop); err != nil {
		metrics.StopUpdates.WithLabelValues(kind, "rejected").Inc()
		return err
	}
	if updater == nil {
		metrics.StopUpdates.WithLabelValues(kind, "ok").Inc()
		return nil
	}
	ok, err := updater.UpdateStop(ctx, id, stop)
	if err != nil {
		metrics.StopUpdates.WithLabelValues(kind, "error").Inc()
		log.Error("stop_update_failed",
			logger.String("kind", kind),
			logger.String("id", id),
			logger.Float64("stop", stop),
			logger.Err(err))
		return fmt.Errorf("%w: %w", ErrExchangeUpdate, err)
	}
	if !ok {
		metrics.StopUpdates.WithLabelValues(kind, "refused").Inc()
		log.Error("stop_update_refused",
			logger.String("kind", kind),
			logger.String("id", id),
			logger.Float64("stop", stop))
		return ErrExchangeUpdate
	}
	metrics.StopUpdates.WithLabelValues(kind, "ok").Inc()
	log.Info("stop_updated",
		logger.String("kind", kind),
		logger.String("id", id),
		logger.Float64("stop", stop))
	return nil
}
