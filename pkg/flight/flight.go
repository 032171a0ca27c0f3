// Package flight implements the Flight State Machine: the DO/UNDO loop
// that drives one operation's steps to a terminal status, journaling at
// every boundary so a crash can resume exactly where the state machine
// left off (spec: determinism of reconstruction).
package flight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/metrics"
	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

// Builder reconstructs a flight's step list from its class name and
// inputs. pkg/factory.Registry satisfies this.
type Builder interface {
	Build(className string, inputParams types.InputParams, appContext any) ([]types.StepEntry, error)
}

// Runner drives one flight's state machine from its current journal state
// to a terminal status. A Runner is stateless between flights; the
// worker pool constructs one call to Run per flight execution.
type Runner struct {
	Journal  journal.Journal
	Factory  Builder
	Hooks    types.Hook
	Instance string
}

// Run reconstructs flightID from the journal and executes its state
// machine until the flight reaches a terminal status, is released back to
// READY (STOP), or is disowned to wait for an external signal (WAIT).
//
// Run returns nil in all of those cases. It returns a non-nil error when
// it cannot begin (reconstruction failure, factory failure, or an empty
// step list), when ctx is cancelled between steps, or when the journal
// write that ends or releases the flight fails. A reconstruction failing
// with stairwayerr.ErrUnrecoverableMap first marks the flight FATAL; any
// other failure to begin leaves the flight as the journal had it.
func (r *Runner) Run(ctx context.Context, flightID string) error {
	ec, err := r.Journal.Reconstruct(ctx, flightID)
	if err != nil {
		if errors.Is(err, stairwayerr.ErrUnrecoverableMap) {
			if exitErr := r.Journal.Exit(ctx, flightID, types.StatusFatal, err.Error()); exitErr != nil {
				return fmt.Errorf("flight: mark %s FATAL after unrecoverable map: %w", flightID, exitErr)
			}
		}
		return fmt.Errorf("flight: reconstruct %s: %w", flightID, err)
	}

	steps, err := r.Factory.Build(ec.ClassName, ec.Inputs, appContextFrom(ctx))
	if err != nil {
		return fmt.Errorf("flight: build steps for %s (%s): %w", flightID, ec.ClassName, err)
	}
	if len(steps) == 0 {
		return fmt.Errorf("flight: class %q produced an empty step list", ec.ClassName)
	}

	fc := &types.FlightContext{
		FlightID:    flightID,
		FlightClass: ec.ClassName,
		Instance:    r.Instance,
		AppContext:  appContextFrom(ctx),
		WorkingMap:  ec.WorkingMap,
	}

	r.Hooks.OnFlightStart(ctx, fc)

	k := ec.StepIndex
	d := ec.Direction
	lastException := ec.LastException

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fc.StepIndex = k
		fc.StepDirection = d

		entry := steps[k]
		outcome, stepErr := r.runStep(ctx, fc, entry, d, k)

		switch outcome {
		case outcomeAdvance:
			if d == types.DirectionDo {
				if k == len(steps)-1 {
					return r.finish(ctx, fc, types.StatusSuccess, "")
				}
				k++
				continue
			}
			// d == UNDO
			if k == 0 {
				return r.finish(ctx, fc, types.StatusError, lastException)
			}
			k--
			continue

		case outcomeWait:
			return r.releaseOwnerOnly(ctx, fc, types.StatusWaiting)

		case outcomeStop:
			return r.releaseToStatus(ctx, fc, types.StatusReady)

		case outcomeTransitionToUndo:
			lastException = stepErr.Error()
			d = types.DirectionUndo
			continue

		case outcomeDismalFailure:
			combined := fmt.Sprintf("forward failure: %s; undo failure: %s", lastException, stepErr.Error())
			log.Logger.Error().
				Str("flight_id", flightID).
				Str("class_name", ec.ClassName).
				Msg("DISMAL FAILURE: undo failed after forward failure, flight is terminally FATAL")
			return r.finish(ctx, fc, types.StatusFatal, combined)
		}
	}
}

type stepOutcome int

const (
	outcomeAdvance stepOutcome = iota
	outcomeWait
	outcomeStop
	outcomeTransitionToUndo
	outcomeDismalFailure
)

// runStep executes one step index to completion: it loops internally over
// RERUN outcomes (always logged) and FAILURE_RETRY outcomes (never
// logged, retried in memory per the step's RetryRule) until the step
// yields SUCCESS, WAIT, STOP, or an outcome that ends the flight's current
// direction.
func (r *Runner) runStep(ctx context.Context, fc *types.FlightContext, entry types.StepEntry, d types.Direction, k int) (stepOutcome, error) {
	entry.RetryRule.Reset()
	r.Hooks.OnStepStart(ctx, fc)

	for {
		timer := metrics.NewTimer()
		var result types.StepResult
		if d == types.DirectionDo {
			result = entry.Step.Do(ctx, fc)
		} else {
			result = entry.Step.Undo(ctx, fc)
		}
		timer.ObserveDurationVec(metrics.StepDuration, string(d))
		metrics.StepsExecutedTotal.WithLabelValues(string(d), result.Kind.String()).Inc()

		r.Hooks.OnStepEnd(ctx, fc, result)

		kind := result.Kind
		if kind == types.OutcomeFailureFatal && errors.Is(result.Err, stairwayerr.ErrRetry) {
			kind = types.OutcomeFailureRetry
		}

		switch kind {
		case types.OutcomeSuccess:
			if err := r.journalStep(ctx, fc, d, k, false, ""); err != nil {
				return outcomeDismalFailure, err
			}
			return outcomeAdvance, nil

		case types.OutcomeRerun:
			if err := r.journalStep(ctx, fc, d, k, true, ""); err != nil {
				return outcomeDismalFailure, err
			}
			continue

		case types.OutcomeWait:
			if err := r.journalWait(ctx, fc, d, k); err != nil {
				return outcomeDismalFailure, err
			}
			return outcomeWait, nil

		case types.OutcomeStop:
			if err := r.journalStep(ctx, fc, d, k, false, ""); err != nil {
				return outcomeDismalFailure, err
			}
			return outcomeStop, nil

		case types.OutcomeFailureRetry:
			if delay, retry := entry.RetryRule.NextDelay(); retry {
				if !sleep(ctx, delay) {
					return outcomeDismalFailure, ctx.Err()
				}
				continue
			}
			return r.handleFatal(ctx, fc, d, k, result.Err)

		case types.OutcomeFailureFatal:
			return r.handleFatal(ctx, fc, d, k, result.Err)

		default:
			return r.handleFatal(ctx, fc, d, k, fmt.Errorf("unknown step outcome %v", result.Kind))
		}
	}
}

func (r *Runner) handleFatal(ctx context.Context, fc *types.FlightContext, d types.Direction, k int, stepErr error) (stepOutcome, error) {
	if stepErr == nil {
		stepErr = fmt.Errorf("step failed with no error recorded")
	}
	if err := r.journalStep(ctx, fc, d, k, false, stepErr.Error()); err != nil {
		return outcomeDismalFailure, err
	}

	if d == types.DirectionUndo {
		return outcomeDismalFailure, stepErr
	}

	// FAILURE_FATAL during DO: write the mandatory direction-transition
	// log row carrying the working map, then resume in UNDO at the same
	// step index.
	if err := r.journalTransition(ctx, fc, k); err != nil {
		return outcomeDismalFailure, err
	}
	return outcomeTransitionToUndo, stepErr
}

func (r *Runner) journalStep(ctx context.Context, fc *types.FlightContext, d types.Direction, k int, rerun bool, serializedException string) error {
	return r.Journal.StepLog(ctx, journal.StepLogEntry{
		FlightID:            fc.FlightID,
		StepIndex:           k,
		Direction:           d,
		Rerun:               rerun,
		SerializedException: serializedException,
		WorkingMap:          fc.WorkingMap.Clone(),
	})
}

// journalWait commits the WAIT step's log row and marks the flight's
// status WAITING in the same transaction, so a crash between this commit
// and the owner-clearing release below still leaves the flight correctly
// distinguished from a STOP-released (READY) one on recovery.
func (r *Runner) journalWait(ctx context.Context, fc *types.FlightContext, d types.Direction, k int) error {
	return r.Journal.StepLog(ctx, journal.StepLogEntry{
		FlightID:      fc.FlightID,
		StepIndex:     k,
		Direction:     d,
		WorkingMap:    fc.WorkingMap.Clone(),
		StatusChanged: true,
		NewStatus:     types.StatusWaiting,
	})
}

func (r *Runner) journalTransition(ctx context.Context, fc *types.FlightContext, k int) error {
	return r.Journal.StepLog(ctx, journal.StepLogEntry{
		FlightID:   fc.FlightID,
		StepIndex:  k,
		Direction:  types.DirectionUndo,
		WorkingMap: fc.WorkingMap.Clone(),
	})
}

func (r *Runner) finish(ctx context.Context, fc *types.FlightContext, status types.Status, serializedException string) error {
	if err := r.Journal.Exit(ctx, fc.FlightID, status, serializedException); err != nil {
		return err
	}
	if status == types.StatusFatal {
		metrics.DismalFailuresTotal.Inc()
	}
	r.Hooks.OnStateTransition(ctx, fc, types.StatusRunning, status)
	r.Hooks.OnFlightEnd(ctx, fc, status)
	return nil
}

// releaseToStatus handles STOP: Disown moves the flight from RUNNING back
// to READY and clears ownership in one compare-and-set update.
func (r *Runner) releaseToStatus(ctx context.Context, fc *types.FlightContext, status types.Status) error {
	if ok, err := r.Journal.Disown(ctx, fc.FlightID, r.Instance); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("flight: disown %s: owner/status precondition no longer held", fc.FlightID)
	}
	r.Hooks.OnStateTransition(ctx, fc, types.StatusRunning, status)
	r.Hooks.OnFlightEnd(ctx, fc, status)
	return nil
}

// releaseOwnerOnly handles WAIT: journalWait has already moved the flight's
// status to WAITING, so releasing it only needs to drop ownership, leaving
// status as WAITING until an external signal moves it back to READY.
func (r *Runner) releaseOwnerOnly(ctx context.Context, fc *types.FlightContext, status types.Status) error {
	if ok, err := r.Journal.ClearOwner(ctx, fc.FlightID, r.Instance); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("flight: clear owner %s: owner precondition no longer held", fc.FlightID)
	}
	r.Hooks.OnStateTransition(ctx, fc, types.StatusRunning, status)
	r.Hooks.OnFlightEnd(ctx, fc, status)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

type appContextKey struct{}

// WithAppContext attaches the engine's configured application_context to
// ctx so Run can hand it to the factory without widening Runner's API.
func WithAppContext(ctx context.Context, appContext any) context.Context {
	return context.WithValue(ctx, appContextKey{}, appContext)
}

func appContextFrom(ctx context.Context) any {
	return ctx.Value(appContextKey{})
}
