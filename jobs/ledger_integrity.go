package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fintrack/fintrack/internal/jobs"
	"github.com/fintrack/fintrack/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ErrIntegrity reports that the ledger disagrees with itself.
var ErrIntegrity = errors.New("ledger integrity check failed")

// IntegrityChecker runs the ledger consistency checks.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (ledger.IntegrityReport, error)
}

// LedgerIntegrityJob verifies that every balance equals the sum of its transactions and that
// every transfer pairing is intact.
type LedgerIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob wires dependencies for the integrity handler.
func NewLedgerIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle processes integrity tasks. Discrepancies are not retried; they need an operator.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	report, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		resultErr = err
		logger.Error("run integrity check", slog.Any("error", err))
		return resultErr
	}

	for _, d := range report.Discrepancies {
		logger.Error("balance discrepancy",
			slog.String("account_id", d.AccountID.String()),
			slog.String("stored", d.Stored.String()),
			slog.String("computed", d.Computed.String()),
		)
	}
	for _, id := range report.BrokenPairings {
		logger.Error("broken transfer pairing", slog.String("pairing_id", id.String()))
	}
	j.metrics().AddDiscrepancies("balance", len(report.Discrepancies))
	j.metrics().AddDiscrepancies("pairing", len(report.BrokenPairings))

	if !report.OK() {
		resultErr = fmt.Errorf("%w: %d balance, %d pairing: %w", ErrIntegrity,
			len(report.Discrepancies), len(report.BrokenPairings), asynq.SkipRetry)
		return resultErr
	}
	logger.Info("ledger integrity verified", slog.Int("accounts", report.Accounts), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
