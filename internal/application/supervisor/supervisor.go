// Package supervisor launches, monitors and tears down the helper processes
// of a trading session.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/observ"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

const (
	defaultGrace     = 10 * time.Second
	defaultStopCheck = 5 * time.Second
	killWait         = 5 * time.Second
	statusTimeout    = 3 * time.Second
)

type exitEvent struct {
	name string
	code int
	err  error
}

type running struct {
	unit   Unit
	proc   Process
	handle domain.ProcessHandle
}

// Supervisor owns every ProcessHandle it creates.
type Supervisor struct {
	cfg     Config
	status  ports.UnitStatusStore
	metrics *observ.Metrics
	now     func() time.Time

	running map[string]*running
	exits   chan exitEvent
}

// New creates a supervisor. status may be nil.
func New(cfg Config, status ports.UnitStatusStore, metrics *observ.Metrics) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGrace
	}
	if cfg.StopCheck <= 0 {
		cfg.StopCheck = defaultStopCheck
	}
	if metrics == nil {
		metrics = observ.NewMetrics()
	}
	return &Supervisor{
		cfg:     cfg,
		status:  status,
		metrics: metrics,
		now:     time.Now,
		running: make(map[string]*running),
		exits:   make(chan exitEvent, 16),
	}
}

// Run starts the long-running units, runs the one-shot units on the cadence
// and blocks until ctx ends, the stop file appears or a fatal unit exits.
// Every child is stopped before Run returns. A fatal unit exit is returned as
// domain.ErrUnitFailed; signal and stop-file shutdowns return nil.
func (s *Supervisor) Run(ctx context.Context, units []Unit) error {
	var oneShots []Unit
	for _, u := range units {
		if !u.LongRunning {
			oneShots = append(oneShots, u)
			continue
		}
		if err := s.launch(ctx, u); err != nil {
			if u.Policy == PolicyFatal {
				s.shutdown("launch failed: " + u.Name)
				return fmt.Errorf("supervisor.Run: %s: %w: %w", u.Name, domain.ErrUnitFailed, err)
			}
			slog.Error("unit failed to launch, continuing degraded", "unit", u.Name, "err", err)
		}
	}

	s.runOneShots(ctx, oneShots)

	var cadence <-chan time.Time
	if len(oneShots) > 0 && s.cfg.Cadence > 0 {
		t := time.NewTicker(s.cfg.Cadence)
		defer t.Stop()
		cadence = t.C
	}
	stopCheck := time.NewTicker(s.cfg.StopCheck)
	defer stopCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown("signal")
			return nil

		case ev := <-s.exits:
			if err := s.handleExit(ev); err != nil {
				s.shutdown("fatal unit exit: " + ev.name)
				return err
			}

		case <-cadence:
			s.runOneShots(ctx, oneShots)

		case <-stopCheck.C:
			if s.stopRequested() {
				s.shutdown("stop file " + s.cfg.StopFile)
				return nil
			}
		}
	}
}

func (s *Supervisor) launch(ctx context.Context, u Unit) error {
	h := domain.ProcessHandle{
		Name:      u.Name,
		StartedAt: s.now().UTC(),
		LogSink:   u.LogSink,
		Status:    domain.UnitStarting,
	}
	s.save(h)

	proc, err := u.Launch(ctx)
	if err != nil {
		now := s.now().UTC()
		h.Status = domain.UnitFailed
		h.ExitCode = -1
		h.ExitedAt = &now
		s.save(h)
		s.metrics.UnitExits.WithLabelValues(u.Name, string(h.Status)).Inc()
		return err
	}

	h.PID = proc.PID()
	h.Status = domain.UnitRunning
	s.running[u.Name] = &running{unit: u, proc: proc, handle: h}
	s.save(h)
	slog.Info("unit started", "unit", u.Name, "pid", h.PID, "long_running", u.LongRunning, "log_sink", u.LogSink)

	go func() {
		code, err := proc.Wait()
		s.exits <- exitEvent{name: u.Name, code: code, err: err}
	}()
	return nil
}

// runOneShots launches every one-shot unit that is not still running.
func (s *Supervisor) runOneShots(ctx context.Context, units []Unit) {
	for _, u := range units {
		if r, ok := s.running[u.Name]; ok {
			slog.Warn("previous run still active, skipping tick", "unit", u.Name, "pid", r.handle.PID)
			continue
		}
		if err := s.launch(ctx, u); err != nil {
			slog.Error("one-shot unit failed to launch", "unit", u.Name, "err", err)
		}
	}
}

// handleExit records the exit and applies the unit's policy.
func (s *Supervisor) handleExit(ev exitEvent) error {
	r, ok := s.running[ev.name]
	if !ok {
		return nil
	}
	delete(s.running, ev.name)
	s.record(r, ev)

	if !r.unit.LongRunning {
		slog.Info("one-shot unit finished", "unit", ev.name, "pid", r.handle.PID, "exit_code", ev.code)
		return nil
	}

	slog.Error("long-running unit exited", "unit", ev.name, "pid", r.handle.PID,
		"exit_code", ev.code, "err", ev.err, "policy", r.unit.Policy)
	if r.unit.Policy == PolicyFatal {
		return fmt.Errorf("supervisor.Run: %s exited with code %d: %w", ev.name, ev.code, domain.ErrUnitFailed)
	}
	slog.Warn("restart decision: not restarting", "unit", ev.name, "reason", "degraded operation continues")
	return nil
}

func (s *Supervisor) record(r *running, ev exitEvent) {
	now := s.now().UTC()
	r.handle.ExitCode = ev.code
	r.handle.ExitedAt = &now
	r.handle.Status = domain.UnitExited
	if ev.code != 0 || (ev.err != nil && !errors.Is(ev.err, os.ErrProcessDone)) {
		r.handle.Status = domain.UnitFailed
	}
	s.save(r.handle)
	s.metrics.UnitExits.WithLabelValues(r.handle.Name, string(r.handle.Status)).Inc()
}

// shutdown stops every running unit: graceful stop, grace period, then kill.
func (s *Supervisor) shutdown(reason string) {
	slog.Info("shutting down", "reason", reason, "running", len(s.running))
	if len(s.running) == 0 {
		return
	}

	for name, r := range s.running {
		if err := r.proc.Stop(); err != nil {
			slog.Warn("graceful stop failed", "unit", name, "pid", r.handle.PID, "err", err)
		}
	}
	s.drain(s.cfg.GracePeriod)

	for name, r := range s.running {
		slog.Warn("unit still alive after grace period, killing", "unit", name, "pid", r.handle.PID)
		if err := r.proc.Kill(); err != nil {
			slog.Error("kill failed", "unit", name, "pid", r.handle.PID, "err", err)
		}
	}
	s.drain(killWait)

	for name, r := range s.running {
		slog.Error("unit did not exit", "unit", name, "pid", r.handle.PID)
	}
	slog.Info("shutdown complete", "reason", reason)
}

// drain records exits until none are running or d elapses.
func (s *Supervisor) drain(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for len(s.running) > 0 {
		select {
		case ev := <-s.exits:
			if r, ok := s.running[ev.name]; ok {
				delete(s.running, ev.name)
				s.record(r, ev)
				slog.Info("unit stopped", "unit", ev.name, "pid", r.handle.PID, "exit_code", ev.code)
			}
		case <-timer.C:
			return
		}
	}
}

func (s *Supervisor) stopRequested() bool {
	if s.cfg.StopFile == "" {
		return false
	}
	if _, err := os.Stat(s.cfg.StopFile); err != nil {
		return false
	}
	if err := os.Remove(s.cfg.StopFile); err != nil {
		slog.Warn("could not remove stop file", "path", s.cfg.StopFile, "err", err)
	}
	return true
}

func (s *Supervisor) save(h domain.ProcessHandle) {
	if s.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := s.status.SaveUnit(ctx, h); err != nil {
		slog.Warn("could not persist unit status", "unit", h.Name, "err", err)
	}
}
