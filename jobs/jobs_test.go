package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/fintrack/fintrack/internal/jobs"
	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/ledger/store/memory"
	_ "github.com/fintrack/fintrack/testing"
)

type stubChecker struct {
	report ledger.IntegrityReport
	err    error
}

func (s stubChecker) CheckIntegrity(context.Context) (ledger.IntegrityReport, error) {
	return s.report, s.err
}

type stubWarmer struct {
	calls int
	err   error
}

func (s *stubWarmer) Warm(ctx context.Context) error {
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected deadline")
	}
	return s.err
}

func integrityTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewLedgerIntegrityTask("test")
	require.NoError(t, err)
	return task
}

func TestIntegrityJobPassesOnConsistentLedger(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.New())
	a, err := svc.OpenAccount(ctx, ledger.OpenAccountInput{Type: ledger.AccountTypePersonal, Name: "A", Currency: "IDR", InitialBalance: decimal.NewFromInt(100)})
	require.NoError(t, err)
	b, err := svc.OpenAccount(ctx, ledger.OpenAccountInput{Type: ledger.AccountTypePersonal, Name: "B", Currency: "IDR"})
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, ledger.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(40)})
	require.NoError(t, err)

	job := NewLedgerIntegrityJob(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	assert.NoError(t, job.Handle(ctx, integrityTask(t)))
}

func TestIntegrityJobFailsWithoutRetryOnDiscrepancy(t *testing.T) {
	report := ledger.IntegrityReport{
		Accounts: 1,
		Discrepancies: []ledger.BalanceCheck{{
			AccountID: uuid.New(),
			Stored:    decimal.NewFromInt(10),
			Computed:  decimal.NewFromInt(9),
		}},
		BrokenPairings: []uuid.UUID{uuid.New()},
	}
	job := NewLedgerIntegrityJob(stubChecker{report: report}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), integrityTask(t))
	require.ErrorIs(t, err, ErrIntegrity)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIntegrityJobPropagatesStorageErrors(t *testing.T) {
	boom := ledger.Storage("audit", errors.New("connection reset"))
	job := NewLedgerIntegrityJob(stubChecker{err: boom}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), integrityTask(t))
	assert.ErrorIs(t, err, ledger.ErrStorage)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestJobsRejectMalformedPayload(t *testing.T) {
	bad := asynq.NewTask(TaskLedgerIntegrity, []byte("{"))
	job := NewLedgerIntegrityJob(stubChecker{}, nil, nil)
	assert.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)

	warm := NewDashboardWarmupJob(&stubWarmer{}, nil, nil)
	assert.ErrorIs(t, warm.Handle(context.Background(), asynq.NewTask(TaskDashboardWarmup, []byte("x"))), asynq.SkipRetry)
}

func TestDashboardWarmupJob(t *testing.T) {
	task, err := NewDashboardWarmupTask("cron")
	require.NoError(t, err)
	var payload DashboardWarmupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "cron", payload.Trigger)

	warmer := &stubWarmer{}
	job := NewDashboardWarmupJob(warmer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, warmer.calls)

	warmer.err = errors.New("redis down")
	assert.Error(t, job.Handle(context.Background(), task))
}

func TestUnconfiguredHandlers(t *testing.T) {
	var integrity *LedgerIntegrityJob
	assert.Error(t, integrity.Handle(context.Background(), integrityTask(t)))
	var warmup *DashboardWarmupJob
	assert.Error(t, warmup.Handle(context.Background(), integrityTask(t)))
}

func TestHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, nil)
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","paused":false,"pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"failed_today":0}`, rr.Body.String())
}
