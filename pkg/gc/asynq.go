package gc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/marmos91/dittomedia/internal/logger"
)

const (
	// MaintenanceTask runs one maintenance pass on whichever worker
	// dequeues it.
	MaintenanceTask = "dittomedia:maintenance"

	// DefaultCron schedules a maintenance pass every hour.
	DefaultCron = "@every 1h"
)

// maintenanceResult is written as the task result for inspection tools.
type maintenanceResult struct {
	ExpiredSessions int    `json:"expired_sessions"`
	Unreferenced    int    `json:"unreferenced"`
	PendingDeleted  int    `json:"pending_deleted"`
	Failed          int    `json:"failed"`
	Duration        string `json:"duration"`
}

// NewMaintenanceTask builds the maintenance task.
func NewMaintenanceTask() *asynq.Task {
	return asynq.NewTask(MaintenanceTask, nil)
}

// TaskHandler runs maintenance passes dispatched through asynq.
type TaskHandler struct {
	collector *Collector
}

// NewTaskHandler wraps a collector as an asynq handler.
func NewTaskHandler(c *Collector) *TaskHandler {
	return &TaskHandler{collector: c}
}

// Handler registers the maintenance task handler on a new mux.
func (h *TaskHandler) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(MaintenanceTask, h)
	return mux
}

// ProcessTask implements asynq.Handler.
func (h *TaskHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	stats, err := h.collector.collect(ctx)
	if err != nil {
		logger.Error("Maintenance task failed: %v (%s)", err, stats.Summary())
		return err
	}
	logger.Info("Maintenance task completed: %s", stats.Summary())

	if w := task.ResultWriter(); w != nil {
		data, err := json.Marshal(maintenanceResult{
			ExpiredSessions: stats.ExpiredSessions,
			Unreferenced:    stats.Unreferenced,
			PendingDeleted:  stats.PendingDeleted,
			Failed:          stats.Failed,
			Duration:        stats.Duration().String(),
		})
		if err == nil {
			_, _ = w.Write(data)
		}
	}
	return nil
}

// RegisterSchedule registers the maintenance task with s on cronspec. The
// task is not retried: the next tick runs a fresh pass.
func RegisterSchedule(s *asynq.Scheduler, cronspec string, timeout time.Duration) (string, error) {
	if cronspec == "" {
		cronspec = DefaultCron
	}
	opts := []asynq.Option{asynq.MaxRetry(0)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	id, err := s.Register(cronspec, NewMaintenanceTask(), opts...)
	if err != nil {
		return "", fmt.Errorf("register maintenance schedule %q: %w", cronspec, err)
	}
	return id, nil
}

// AsynqConfig configures the distributed scheduler.
type AsynqConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Cron          string
	Concurrency   int
	Timeout       time.Duration
}

// AsynqRunner owns the asynq worker server and scheduler running
// maintenance tasks.
type AsynqRunner struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	handler   *TaskHandler
	cfg       AsynqConfig
}

// NewAsynqRunner prepares (without starting) an asynq worker and scheduler
// for c.
func NewAsynqRunner(c *Collector, cfg AsynqConfig) *AsynqRunner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	redis := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	return &AsynqRunner{
		server:    asynq.NewServer(redis, asynq.Config{Concurrency: cfg.Concurrency}),
		scheduler: asynq.NewScheduler(redis, nil),
		handler:   NewTaskHandler(c),
		cfg:       cfg,
	}
}

// Start registers the schedule and starts the scheduler and the worker.
func (r *AsynqRunner) Start() error {
	if _, err := RegisterSchedule(r.scheduler, r.cfg.Cron, r.cfg.Timeout); err != nil {
		return err
	}
	if err := r.server.Start(r.handler.Handler()); err != nil {
		return fmt.Errorf("start asynq worker: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.server.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	logger.Info("Maintenance scheduled through asynq: redis=%s cron=%q", r.cfg.RedisAddr, r.cfg.Cron)
	return nil
}

// Shutdown stops the scheduler and drains the worker.
func (r *AsynqRunner) Shutdown() {
	r.scheduler.Shutdown()
	r.server.Shutdown()
}
