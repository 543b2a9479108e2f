// Package runner executes named issuance scenarios against a hub and
// reports their results.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hubcred/hubcred-go/internal/harness/reporter"
	"github.com/hubcred/hubcred-go/internal/harness/scenario"
	"github.com/hubcred/hubcred-go/pkg/issuance"
	"github.com/hubcred/hubcred-go/pkg/log"
)

// scenarioFunc runs one scenario, filling res as it goes. A returned
// error marks the run failed outside the exchange itself.
type scenarioFunc func(ctx context.Context, res *scenario.Result) error

type registration struct {
	info scenario.Info
	run  scenarioFunc
}

// Runner executes registered scenarios against the configured hub.
type Runner struct {
	cfg       *Config
	reporter  reporter.Reporter
	logger    *slog.Logger
	scenarios []registration
}

// New creates a Runner with defaults applied. The config is not
// validated until Run, so a runner can list scenarios without auth
// settings.
func New(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()

	r := &Runner{cfg: cfg, logger: cfg.Logger}

	switch cfg.OutputFormat {
	case "json":
		r.reporter = reporter.NewJSONReporter(cfg.Output, true)
	case "junit":
		r.reporter = reporter.NewJUnitReporter(cfg.Output)
	default:
		r.reporter = reporter.NewTextReporter(cfg.Output, cfg.Verbose)
	}

	r.register(scenario.HappyPath,
		"issue one certificate over an uninterrupted session", r.runHappyPath)
	r.register(scenario.DisconnectReconnect,
		"drop the session after acceptance, reconnect, and receive the held result", r.runDisconnectReconnect)

	return r
}

func (r *Runner) register(name, description string, fn scenarioFunc) {
	r.scenarios = append(r.scenarios, registration{
		info: scenario.Info{Name: name, Description: description},
		run:  fn,
	})
}

// Scenarios lists the registered scenarios in registration order.
func (r *Runner) Scenarios() []scenario.Info {
	infos := make([]scenario.Info, 0, len(r.scenarios))
	for _, reg := range r.scenarios {
		infos = append(infos, reg.info)
	}
	return infos
}

func (r *Runner) lookup(name string) (scenarioFunc, error) {
	for _, reg := range r.scenarios {
		if reg.info.Name == name {
			return reg.run, nil
		}
	}
	known := make([]string, 0, len(r.scenarios))
	for _, reg := range r.scenarios {
		known = append(known, reg.info.Name)
	}
	return nil, &UnknownScenarioError{Name: name, Known: known}
}

// Run executes one scenario under the configured wall-clock budget and
// reports its result. Unknown names and invalid configs fail before
// anything connects.
func (r *Runner) Run(ctx context.Context, name string) (*scenario.Result, error) {
	fn, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}

	res := &scenario.Result{
		Scenario:  name,
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	logger := r.logger.With("scenario", name, "run_id", res.RunID)

	// One budget covers the whole run, reconnects included.
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	r.logScenarioState(res, "Idle", "Running", "scenario started")
	logger.Info("scenario starting",
		"device", r.cfg.DeviceID,
		"hub", r.cfg.Host,
		"timeout", r.cfg.Timeout)

	runErr := fn(ctx, res)

	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	if runErr != nil {
		// Errors outside the exchange (dial, subscribe, reconnect) fail
		// the run even though no exchange outcome was produced.
		res.Outcome = issuance.OutcomeFailure
		if res.Err == nil {
			res.Err = runErr
		}
	}
	res.Passed = res.Err == nil && res.Outcome == issuance.OutcomeSuccess

	r.logScenarioState(res, "Running", "Finished", res.Outcome.String())
	logger.Info("scenario finished",
		"outcome", res.Outcome,
		"passed", res.Passed,
		"elapsed", res.Duration)

	r.reporter.Report(res)
	return res, nil
}

// logScenarioState emits a scenario-layer lifecycle event. The run id
// serves as the correlation id at this layer.
func (r *Runner) logScenarioState(res *scenario.Result, oldState, newState, reason string) {
	if r.cfg.ProtocolLogger == nil {
		return
	}
	r.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: res.RunID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerScenario,
		Category:     log.CategoryState,
		DeviceID:     r.cfg.DeviceID,
		HubHost:      r.cfg.Host,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityScenario,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
