// Package runner implements the runner supervisor (C3): a finite-state
// machine around one long-lived shell command, its process-group lifetime,
// its line-by-line case matching, and its stateful alert notifications.
package runner

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/runnerd/pkg/config"
	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/log"
	"github.com/cuemby/runnerd/pkg/metrics"
	"github.com/cuemby/runnerd/pkg/notify"
	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/storage"
	"github.com/cuemby/runnerd/pkg/types"
)

// State is one point in a runner's lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateScheduled State = "scheduled"
	StatePaused    State = "paused"
)

// Stop escalation timings: SIGINT, wait, then SIGTERM, wait, then SIGKILL
// with no further wait.
const (
	sigintGrace = 1500 * time.Millisecond
	sigtermGrace = 2000 * time.Millisecond
)

// Snapshot is the read-only view of a supervisor's state, safe to publish
// or serialize.
type Snapshot struct {
	RunnerID             string
	State                State
	RunCount             int
	ConsecutiveFailures  int
	ActiveSessionTS      time.Time
	LastCase             string
	LastCaseTS           time.Time
	LastExitCode         int
}

// Supervisor owns one runner's process lifetime.
type Supervisor struct {
	dataDir      string
	store        storage.Store
	broker       *events.Broker
	notifyWorker *notify.Worker
	logger       zerolog.Logger

	mu                  sync.Mutex
	cfg                 *config.RuntimeConfig
	state               State
	cmd                 *exec.Cmd
	exitedCh            chan struct{}
	stopRequested       bool
	runCount            int
	consecutiveFailures int
	activeSessionTS     time.Time
	lastCase            string
	lastCaseTS          time.Time
	lastExitCode        int
	resolvers           map[string]*alertResolver
	scheduleTimer       *time.Timer
}

// NewSupervisor builds a Supervisor for one compiled runner config.
func NewSupervisor(cfg *config.RuntimeConfig, dataDir string, store storage.Store, broker *events.Broker, nw *notify.Worker) *Supervisor {
	return &Supervisor{
		dataDir:      dataDir,
		store:        store,
		broker:       broker,
		notifyWorker: nw,
		logger:       log.WithRunnerID(cfg.RunnerID),
		cfg:          cfg,
		state:        StateIdle,
		resolvers:    make(map[string]*alertResolver),
	}
}

// UpdateConfig hot-swaps the compiled config. Alert-resolver state, run
// counts, and active_session_ts are untouched — only RuntimeConfig itself
// is replaced.
func (s *Supervisor) UpdateConfig(cfg *config.RuntimeConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Snapshot returns a copy of the supervisor's current state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		RunnerID:            s.cfg.RunnerID,
		State:               s.state,
		RunCount:            s.runCount,
		ConsecutiveFailures: s.consecutiveFailures,
		ActiveSessionTS:     s.activeSessionTS,
		LastCase:            s.lastCase,
		LastCaseTS:          s.lastCaseTS,
		LastExitCode:        s.lastExitCode,
	}
}

// Start begins one invocation. trigger is "manual", "scheduled", or
// "group"; any trigger other than "scheduled" resets the run count and the
// failure streak like a manual start. A non-scheduled start while already
// active returns rerr.Conflict; a scheduled
// start while already active is a silent no-op (the timer fired during an
// overlapping run, matching the original's overlap guard).
func (s *Supervisor) Start(trigger string) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting || s.state == StateStopping {
		s.mu.Unlock()
		if trigger == "scheduled" {
			return nil
		}
		return rerr.New(rerr.Conflict, "runner is already active")
	}
	if s.scheduleTimer != nil {
		s.scheduleTimer.Stop()
		s.scheduleTimer = nil
	}
	s.state = StateStarting
	s.stopRequested = false
	if trigger != "scheduled" {
		s.runCount = 0
		s.consecutiveFailures = 0
	}
	s.mu.Unlock()

	metrics.RunnerStartsTotal.WithLabelValues(s.cfg.RunnerID, trigger).Inc()
	go s.runOnce(trigger)
	return nil
}

// Stop requests termination of the active or scheduled invocation.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateScheduled:
		if s.scheduleTimer != nil {
			s.scheduleTimer.Stop()
			s.scheduleTimer = nil
		}
		s.state = StateIdle
		s.mu.Unlock()
		s.publishStatus()
		return nil
	case StateRunning, StateStarting:
		s.stopRequested = true
		cmd := s.cmd
		exited := s.exitedCh
		s.state = StateStopping
		s.mu.Unlock()
		s.publishStatus()
		if cmd != nil {
			go escalateStop(cmd, exited)
		}
		return nil
	default:
		s.mu.Unlock()
		return rerr.New(rerr.Conflict, "runner is not active")
	}
}

// escalateStop delivers the three-step signal escalation to the process
// group: SIGINT, wait sigintGrace; SIGTERM, wait sigtermGrace; SIGKILL,
// no further wait. It returns as soon as exited closes.
func escalateStop(cmd *exec.Cmd, exited chan struct{}) {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return
	}

	signalGroup(pgid, syscall.SIGINT)
	select {
	case <-exited:
		return
	case <-time.After(sigintGrace):
	}

	signalGroup(pgid, syscall.SIGTERM)
	select {
	case <-exited:
		return
	case <-time.After(sigtermGrace):
	}

	signalGroup(pgid, syscall.SIGKILL)
}

func signalGroup(pgid int, sig syscall.Signal) {
	_ = syscall.Kill(-pgid, sig)
}

func (s *Supervisor) runOnce(trigger string) {
	cfg := s.cfgSnapshot()
	startedAt := time.Now()

	cmd := exec.Command("sh", "-c", cfg.Command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	r, w, err := os.Pipe()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create output pipe")
		s.finishFailedToStart()
		return
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		s.logger.Error().Err(err).Msg("failed to start runner command")
		s.finishFailedToStart()
		return
	}
	w.Close()

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.exitedCh = exited
	s.state = StateRunning
	s.mu.Unlock()
	s.publishStatus()

	var output strings.Builder
	var lastLine string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		output.WriteString(line)
		output.WriteByte('\n')
		lastLine = line
		s.matchLine(cfg, line)
	}
	r.Close()

	waitErr := cmd.Wait()
	close(exited)

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.mu.Lock()
	stopped := s.stopRequested
	s.cmd = nil
	s.exitedCh = nil
	s.mu.Unlock()

	metrics.RunnerRunDuration.WithLabelValues(cfg.RunnerID).Observe(time.Since(startedAt).Seconds())

	if cfg.LoggingEnabled {
		if err := appendRunLogFile(s.dataDir, cfg.RunnerID, cfg.Name, cfg.Command, startedAt, exitCode, stopped, output.String()); err != nil {
			s.logger.Error().Err(err).Msg("failed to append run log")
		}
	}

	if cfg.SendLastLineOnFinish {
		s.dispatchFinishNotification(cfg, lastLine)
	}

	exitClass := "success"
	success := exitCode == 0 && !stopped
	if !success {
		exitClass = "failure"
	}
	metrics.RunnerFinishesTotal.WithLabelValues(cfg.RunnerID, exitClass).Inc()

	s.mu.Lock()
	s.lastExitCode = exitCode
	if success {
		s.consecutiveFailures = 0
	} else if !stopped {
		s.consecutiveFailures++
	}
	s.runCount++
	consecutiveFailures := s.consecutiveFailures
	runCount := s.runCount
	s.mu.Unlock()

	s.broker.Publish(events.Event{
		"type":      "runner_finished",
		"runner_id": cfg.RunnerID,
		"exit_code": exitCode,
		"stopped":   stopped,
		"trigger":   trigger,
	})

	if !stopped && cfg.FailurePauseThreshold > 0 && consecutiveFailures >= cfg.FailurePauseThreshold {
		s.mu.Lock()
		s.state = StatePaused
		s.mu.Unlock()
		metrics.RunnerPausesTotal.WithLabelValues(cfg.RunnerID).Inc()
		s.publishStatus()
		return
	}

	if cfg.MaxRuns != config.MaxRunsUnbounded && runCount >= cfg.MaxRuns {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.publishStatus()
		return
	}

	if stopped {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.publishStatus()
		return
	}

	s.scheduleNext(cfg)
}

func (s *Supervisor) scheduleNext(cfg *config.RuntimeConfig) {
	s.mu.Lock()
	s.state = StateScheduled
	s.scheduleTimer = time.AfterFunc(time.Duration(cfg.IntervalSeconds)*time.Second, func() {
		_ = s.Start("scheduled")
	})
	s.mu.Unlock()
	s.publishStatus()
}

func (s *Supervisor) finishFailedToStart() {
	s.mu.Lock()
	s.consecutiveFailures++
	s.state = StateIdle
	s.mu.Unlock()
	metrics.RunnerFinishesTotal.WithLabelValues(s.cfg.RunnerID, "spawn_failed").Inc()
	s.publishStatus()
}

func (s *Supervisor) cfgSnapshot() *config.RuntimeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Supervisor) publishStatus() {
	snap := s.Snapshot()
	s.broker.Publish(events.Event{
		"type":      "runner_status",
		"runner_id": snap.RunnerID,
		"state":     string(snap.State),
	})
}

func (s *Supervisor) matchLine(cfg *config.RuntimeConfig, line string) {
	for _, c := range cfg.Cases {
		if !c.Regex.MatchString(line) {
			continue
		}

		message := RenderTemplate(c.MessageTemplate, c.Regex, line)
		now := time.Now()

		s.mu.Lock()
		resolver, ok := s.resolvers[c.ID]
		if !ok {
			resolver = &alertResolver{}
			s.resolvers[c.ID] = resolver
		}
		shouldNotify, rendered := resolver.resolve(c.State, message, now, time.Duration(cfg.AlertCooldownSeconds)*time.Second, time.Duration(cfg.AlertEscalationSeconds)*time.Second)
		s.lastCase = rendered
		s.lastCaseTS = now
		if c.State != types.CaseStateUp {
			s.activeSessionTS = resolver.activeSessionTS
		} else {
			s.activeSessionTS = time.Time{}
		}
		s.mu.Unlock()

		if err := s.store.SaveRuntimeStatus(cfg.RunnerID, types.RuntimeStatus{LastCase: rendered, LastCaseTS: now}); err != nil {
			s.logger.Error().Err(err).Msg("failed to checkpoint runtime status")
		}

		metrics.CaseMatchesTotal.WithLabelValues(cfg.RunnerID, string(c.State)).Inc()
		s.broker.Publish(events.Event{
			"type":      "case_match",
			"runner_id": cfg.RunnerID,
			"case_id":   c.ID,
			"state":     string(c.State),
			"message":   rendered,
		})

		if shouldNotify {
			s.dispatchNotification(cfg, c.State, fmt.Sprintf("%s: %s", cfg.Name, c.ID), rendered)
		}
	}
}

func (s *Supervisor) dispatchNotification(cfg *config.RuntimeConfig, state types.CaseState, title, message string) {
	for _, target := range cfg.NotifyTargets {
		err := s.notifyWorker.Enqueue(notify.Notification{
			RunnerID:    cfg.RunnerID,
			RunnerName:  cfg.Name,
			ProfileID:   target.ProfileID,
			Title:       title,
			Message:     message,
			State:       state,
			UpdatesOnly: target.UpdatesOnly,
		})
		if err != nil {
			metrics.CaseErrorsTotal.WithLabelValues(cfg.RunnerID).Inc()
			s.broker.Publish(events.Event{
				"type":       "case_error",
				"runner_id":  cfg.RunnerID,
				"profile_id": target.ProfileID,
				"error":      err.Error(),
			})
		}
	}
}

func (s *Supervisor) dispatchFinishNotification(cfg *config.RuntimeConfig, lastLine string) {
	message := lastLine
	if message == "" {
		message = "(no output)"
	}

	s.broker.Publish(events.Event{
		"type":      "case_match",
		"runner_id": cfg.RunnerID,
		"pattern":   "__on_finish__",
		"state":     string(types.CaseStateNone),
		"message":   message,
	})

	title := fmt.Sprintf("%s (last line)", cfg.Name)
	for _, target := range cfg.NotifyTargets {
		_ = s.notifyWorker.Enqueue(notify.Notification{
			RunnerID:    cfg.RunnerID,
			RunnerName:  cfg.Name,
			ProfileID:   target.ProfileID,
			Title:       title,
			Message:     message,
			State:       types.CaseStateNone,
			UpdatesOnly: target.UpdatesOnly,
		})
	}
}
