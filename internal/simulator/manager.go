// Package simulator runs snippet configs in the ESPHome host-platform
// simulator and tracks the resulting processes.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koios/esphome-designer/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrNoYAML is returned when Start is called without a config
	ErrNoYAML = errors.New("no YAML content provided")
	// ErrESPHomeMissing is returned when the esphome CLI cannot be found
	ErrESPHomeMissing = errors.New("esphome CLI not installed")
	// ErrNotFound is returned for unknown process ids
	ErrNotFound = errors.New("simulator process not found")
)

// stopGrace is how long a terminated simulator may take before it is killed
const stopGrace = 500 * time.Millisecond

// Info describes a tracked simulator
type Info struct {
	ProcessID string `json:"process_id"`
	PID       int    `json:"pid"`
	YAMLPath  string `json:"yaml_path"`
	State     State  `json:"state"`
}

type entry struct {
	id       string
	state    State
	process  Process
	tempDir  string
	yamlPath string
}

func (e *entry) info() Info {
	pid := 0
	if e.process != nil {
		pid = e.process.Pid()
	}
	return Info{ProcessID: e.id, PID: pid, YAMLPath: e.yamlPath, State: e.state}
}

// Manager owns every simulator process started through it
type Manager struct {
	mu        sync.Mutex
	entries   map[string]*entry
	toolchain Toolchain
	pool      *CompilePool
	workDir   string
	grace     time.Duration
	logger    *zap.Logger
}

// NewManager creates a manager and starts its compile pool
func NewManager(toolchain Toolchain, cfg config.SimulatorConfig, logger *zap.Logger) *Manager {
	timeout := time.Duration(cfg.CompileTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	pool := NewCompilePool(cfg.CompileWorkers, toolchain, timeout, logger)
	pool.Start()

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	return &Manager{
		entries:   make(map[string]*entry),
		toolchain: toolchain,
		pool:      pool,
		workDir:   workDir,
		grace:     stopGrace,
		logger:    logger,
	}
}

// Check reports whether the simulator toolchain is usable
func (m *Manager) Check(ctx context.Context) Availability {
	return m.toolchain.Check(ctx)
}

// setState moves an entry to the next state under the lock
func (m *Manager) setState(e *entry, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkTransition(e.state, next); err != nil {
		return err
	}
	e.state = next
	if next == StateTerminated {
		delete(m.entries, e.id)
	}
	return nil
}

func (m *Manager) register(tempDir, yamlPath string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()[:8]
	for m.entries[id] != nil {
		id = uuid.NewString()[:8]
	}
	e := &entry{id: id, state: StateStarting, tempDir: tempDir, yamlPath: yamlPath}
	m.entries[id] = e
	return e
}

// Start writes the config to a fresh directory, compiles it and launches
// the simulator. Nothing is left behind when any step fails.
func (m *Manager) Start(ctx context.Context, yamlContent string) (Info, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return Info{}, ErrNoYAML
	}
	if !m.toolchain.Check(ctx).ESPHomeInstalled {
		return Info{}, ErrESPHomeMissing
	}

	tempDir, err := os.MkdirTemp(m.workDir, "esphome_sim_")
	if err != nil {
		return Info{}, fmt.Errorf("failed to create simulator directory: %w", err)
	}
	yamlPath := filepath.Join(tempDir, "simulator.yaml")
	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0o644); err != nil {
		os.RemoveAll(tempDir)
		return Info{}, fmt.Errorf("failed to write simulator config: %w", err)
	}

	e := m.register(tempDir, yamlPath)
	log := m.logger.With(zap.String("process_id", e.id))
	log.Info("Compiling simulator project", zap.String("yaml_path", yamlPath))

	fail := func(err error) (Info, error) {
		_ = m.setState(e, StateTerminated)
		os.RemoveAll(tempDir)
		return Info{}, err
	}

	if err := m.pool.Compile(ctx, yamlPath, tempDir); err != nil {
		log.Error("Simulator compilation failed", zap.Error(err))
		return fail(err)
	}

	proc, err := m.toolchain.Launch(yamlPath, tempDir)
	if err != nil {
		log.Error("Failed to launch simulator", zap.Error(err))
		return fail(err)
	}

	m.mu.Lock()
	e.process = proc
	m.mu.Unlock()
	if err := m.setState(e, StateRunning); err != nil {
		_ = proc.Kill()
		return fail(err)
	}

	log.Info("Simulator started", zap.Int("pid", proc.Pid()))
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.info(), nil
}

// Stop terminates a simulator, escalating to a kill after a short grace
// period, and removes its working directory.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := m.setState(e, StateStopping); err != nil {
		return err
	}

	m.terminate(ctx, e)
	_ = m.setState(e, StateTerminated)

	m.logger.Info("Simulator stopped", zap.String("process_id", id))
	return nil
}

func (m *Manager) terminate(ctx context.Context, e *entry) {
	proc := e.process
	if err := proc.Terminate(); err != nil {
		m.logger.Warn("Error terminating simulator", zap.String("process_id", e.id), zap.Error(err))
	}

	timer := time.NewTimer(m.grace)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-timer.C:
		_ = proc.Kill()
	case <-ctx.Done():
		_ = proc.Kill()
	}

	if err := os.RemoveAll(e.tempDir); err != nil {
		m.logger.Warn("Error cleaning up simulator directory", zap.String("process_id", e.id), zap.Error(err))
	}
}

// Status reaps simulators that exited on their own and lists the running ones
func (m *Manager) Status() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := make([]Info, 0, len(m.entries))
	for id, e := range m.entries {
		if e.state == StateRunning && exited(e.process) {
			e.state = StateTerminated
			delete(m.entries, id)
			os.RemoveAll(e.tempDir)
			m.logger.Info("Simulator exited", zap.String("process_id", id))
			continue
		}
		if e.state == StateRunning {
			running = append(running, e.info())
		}
	}

	sort.Slice(running, func(i, j int) bool { return running[i].ProcessID < running[j].ProcessID })
	return running
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// Shutdown stops every running simulator and the compile pool
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id, e := range m.entries {
		if e.state == StateRunning {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Failed to stop simulator", zap.String("process_id", id), zap.Error(err))
		}
	}
	m.pool.Stop()
}
