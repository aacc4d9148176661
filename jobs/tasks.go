package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity compares stored balances with the transaction log.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskDashboardWarmup recomputes and caches dashboard totals.
	TaskDashboardWarmup = "dashboard:warmup"
)

// Cron specs used by cmd/worker.
const (
	IntegrityCron = "@hourly"
	WarmupCron    = "@every 5m"
)

// LedgerIntegrityPayload configures one integrity run.
type LedgerIntegrityPayload struct {
	// Trigger records who asked for the run ("cron", "cli", ...).
	Trigger string `json:"trigger"`
}

// NewLedgerIntegrityTask constructs an integrity task.
func NewLedgerIntegrityTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// DashboardWarmupPayload configures one warmup run.
type DashboardWarmupPayload struct {
	Trigger string `json:"trigger"`
}

// NewDashboardWarmupTask constructs a warmup task.
func NewDashboardWarmupTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(DashboardWarmupPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDashboardWarmup, data), nil
}
