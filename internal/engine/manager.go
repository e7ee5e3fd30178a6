package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/RealZimboGuy/seqflow/internal/config"
	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/internal/repository"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/core"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
	"golang.org/x/sync/errgroup"
)

type MachineManager struct {
	MachineRepo       MachineRepo
	MachineActionRepo MachineActionRepo
	executorRepo      ExecutorRepo
	Engine            *Engine
	Operator          *Operator
	executorGroup     string
	wakeup            chan struct{}
	clock             core.Clock
}

func NewMachineManager(machineRepo MachineRepo, machineActionRepo MachineActionRepo, executorRepo ExecutorRepo,
	tasks TaskManager, clock core.Clock) *MachineManager {
	e := NewEngine(machineRepo, tasks, clock)
	return &MachineManager{
		MachineRepo:       machineRepo,
		MachineActionRepo: machineActionRepo,
		executorRepo:      executorRepo,
		Engine:            e,
		Operator:          NewOperator(e),
		executorGroup:     config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
		wakeup:            make(chan struct{}, 1),
		clock:             clock,
	}
}

// ListExecutors returns recent executors ordered by last_active desc.
func (mm *MachineManager) ListExecutors(limit int) ([]*internal.Executor, error) {
	return mm.executorRepo.GetExecutorsByLastActive(limit)
}

func (mm *MachineManager) SearchMachines(req repository.MachineSearch) ([]*domain.FiniteStateMachine, error) {
	return mm.MachineRepo.SearchMachines(req)
}

func (mm *MachineManager) GetMachine(id string) (*domain.FiniteStateMachine, error) {
	return mm.MachineRepo.FindByID(id)
}

func (mm *MachineManager) GetTask(id string) (*domain.Task, error) {
	return mm.MachineRepo.FindTaskByID(id)
}

func (mm *MachineManager) Actions(machineID string) ([]*internal.MachineAction, error) {
	return mm.MachineActionRepo.FindAllByMachineID(machineID)
}

// Submit persists a machine built by the factory and wakes the engine up.
func (mm *MachineManager) Submit(ctx context.Context, m *domain.FiniteStateMachine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := mm.MachineRepo.SaveMachine(ctx, m); err != nil {
		return fmt.Errorf("save machine %s: %w", m.Name, err)
	}
	slog.InfoContext(ctx, "Machine submitted", "machine_id", m.ID, "name", m.Name, "states", len(m.States))
	mm.Wakeup()
	return nil
}

// StartEngine ticks due machines at the given interval until ctx is done.
func (mm *MachineManager) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	mm.registerExecutorInstance(ctx)

	go mm.startRepairService(ctx)

	slog.Info("Machine engine started", "poll_interval", pollInterval.String(),
		"executors", config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE), "executor_group", mm.executorGroup)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Machine engine stopping due to context cancel")
			return
		case <-ticker.C:
			mm.TickDueMachines(ctx)
		case <-mm.wakeup:
			mm.TickDueMachines(ctx)
		}
	}
}

// startRepairService releases claims held by executors that stopped sending
// heartbeats, so another executor can tick those machines.
func (mm *MachineManager) startRepairService(ctx context.Context) {
	dur := config.GetSystemSettingDuration(config.ENGINE_STUCK_MACHINES_INTERVAL)
	if dur <= 0 {
		dur = time.Minute
	}
	ticker := time.NewTicker(dur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Machine repair service stopping due to context cancel")
			return
		case <-ticker.C:
			mm.RepairStuckMachines(ctx)
		}
	}
}

func (mm *MachineManager) RepairStuckMachines(ctx context.Context) int {
	stuck, err := mm.MachineRepo.FindStuckMachines(
		config.GetSystemSettingString(config.ENGINE_STUCK_MACHINES_REPAIR_AFTER_MINUTES), mm.executorGroup, 100)
	if err != nil {
		slog.ErrorContext(ctx, "Error finding stuck machines", "error", err)
		return 0
	}
	repaired := 0
	for _, m := range stuck {
		previous := m.ExecutorID.Int64
		slog.WarnContext(ctx, "Repairing stuck machine", "machine_id", m.ID, "name", m.Name, "status", m.Status, "executor_id", previous)
		if !mm.MachineRepo.ClearExecutorID(m.ID, previous) {
			continue
		}
		repaired++
		err := mm.MachineRepo.SaveAction(&internal.MachineAction{
			MachineID:  m.ID,
			ExecutorID: mm.Engine.ExecutorID(),
			Type:       internal.ActionRepaired,
			Name:       internal.ActionRepaired,
			Text:       fmt.Sprintf("Claim released, previous executor was: %d", previous),
			DateTime:   mm.clock.Now(),
		})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to record repair", "machine_id", m.ID, "error", err)
		}
	}
	return repaired
}

func (mm *MachineManager) registerExecutorInstance(ctx context.Context) {
	name := config.GetSystemSettingString(config.EXECUTOR_NAME)
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "seqflow-engine"
		} else {
			name = hostname
		}
	}
	now := mm.clock.Now()
	exec := &internal.Executor{Name: name, ExecutorGroup: mm.executorGroup, Started: now, LastActive: now}
	id, err := mm.executorRepo.Save(exec)
	if err != nil {
		slog.Error("Failed to register executor", "error", err)
		return
	}
	mm.Engine.SetExecutorID(id)
	slog.Info("Registered executor", "executor_id", id, "name", name)

	interval := config.GetSystemSettingDuration(config.ENGINE_HEARTBEAT_INTERVAL)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func(executorID int64) {
		hb := time.NewTicker(interval)
		defer hb.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-hb.C:
				if err := mm.executorRepo.UpdateLastActive(executorID, mm.clock.Now()); err != nil {
					slog.Error("Failed to update executor last_active", "executor_id", executorID, "error", err)
				} else {
					slog.Debug("Updated executor last_active", "executor_id", executorID)
				}
			}
		}
	}(id)
}

// TickDueMachines ticks every due machine of this executor group, several
// machines at a time.
func (mm *MachineManager) TickDueMachines(ctx context.Context) {
	slog.Debug("Polling for due machines")

	machines, err := mm.MachineRepo.FindDueMachines(
		config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE),
		mm.executorGroup,
	)
	if err != nil {
		slog.Error("Error fetching due machines", "error", err)
		return
	}

	size := config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE)
	if size <= 0 {
		size = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(size)
	for _, m := range machines {
		g.Go(func() error {
			mm.tick(gctx, m)
			return nil
		})
	}
	_ = g.Wait()
}

func (mm *MachineManager) tick(ctx context.Context, m *domain.FiniteStateMachine) {
	report, err := mm.Engine.Tick(ctx, m.ID)
	switch {
	case errors.Is(err, domain.ErrMachineLocked):
		slog.InfoContext(ctx, "Unable to claim machine, possibly picked up by another executor", "machine_id", m.ID, "name", m.Name)
		if err := mm.MachineRepo.SaveAction(&internal.MachineAction{MachineID: m.ID, ExecutorID: mm.Engine.ExecutorID(),
			Type: internal.ActionLockFailed, Name: internal.ActionLockFailed, Text: "Failed to acquire a claim on the machine",
			DateTime: mm.clock.Now()}); err != nil {
			slog.ErrorContext(ctx, "Failed to record lock failure", "machine_id", m.ID, "error", err)
		}
	case errors.Is(err, domain.ErrMachineNotRunnable):
		slog.DebugContext(ctx, "Skipping machine", "machine_id", m.ID, "error", err)
	case err != nil:
		slog.ErrorContext(ctx, "Tick failed", "machine_id", m.ID, "name", m.Name, "error", err)
	default:
		slog.DebugContext(ctx, "Tick finished", "machine_id", m.ID, "status", report.Status, "committed", report.Committed)
	}
}

func (mm *MachineManager) Wakeup() {
	slog.Info("Wakeup Manager called")
	select {
	case mm.wakeup <- struct{}{}:
	default:
	}
}
