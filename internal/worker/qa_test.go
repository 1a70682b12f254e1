package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/worker"
)

func globalColumns() []string {
	return []string{
		"total_requests", "success_count", "error_count",
		"status_2xx", "status_3xx", "status_4xx", "status_5xx",
		"avg_response", "min_response", "max_response",
		"p50_response", "p90_response", "p95_response", "p99_response",
		"min_timestamp", "max_timestamp",
	}
}

func qaJobRows(jobID, ingJobID uuid.UUID, question string) *sqlmock.Rows {
	input, _ := json.Marshal(map[string]string{
		"ingestion_job_id": ingJobID.String(),
		"question":         question,
	})

	return sqlmock.NewRows(jobColumns()).AddRow(
		jobID, "qa", "in_progress", nil, nil, ingJobID,
		input, nil, nil, 0, true,
		workerNow, workerNow, nil,
	)
}

func TestQAHandler_AnswersPercentileQuestion(t *testing.T) {
	t.Parallel()

	db, mock := newMockStore(t)

	jobID := uuid.New()
	ingJobID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM jobs`).WithArgs(jobID).
		WillReturnRows(qaJobRows(jobID, ingJobID, "What was the p95?"))

	globalRows := sqlmock.NewRows(globalColumns()).AddRow(
		1000, 990, 10,
		950, 40, 5, 5,
		80.0, 5.0, 2000.0,
		60.0, 200.0, 450.0, 900.0,
		workerNow, workerNow.Add(time.Minute),
	)
	mock.ExpectQuery("FROM request_logs").WithArgs(ingJobID).WillReturnRows(globalRows)

	handler := worker.NewQAHandler(db)

	payload, err := handler.Run(context.Background(), queue.NewTask(jobs.KindQA, jobID))
	require.NoError(t, err)

	var result struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Contains(t, result.Answer, "p95 response time was 450.0 ms")
}

func TestQAHandler_AnswersErrorQuestion(t *testing.T) {
	t.Parallel()

	db, mock := newMockStore(t)

	jobID := uuid.New()
	ingJobID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM jobs`).WithArgs(jobID).
		WillReturnRows(qaJobRows(jobID, ingJobID, "Which endpoint had the most errors?"))

	globalRows := sqlmock.NewRows(globalColumns()).AddRow(
		1000, 950, 50,
		950, 0, 40, 10,
		80.0, 5.0, 2000.0,
		60.0, 200.0, 450.0, 900.0,
		workerNow, workerNow.Add(time.Minute),
	)
	mock.ExpectQuery("FROM request_logs").WithArgs(ingJobID).WillReturnRows(globalRows)

	rankRows := sqlmock.NewRows([]string{"url", "total_requests", "value"}).
		AddRow("https://test.k6.io/news.php", 200, 0.25)
	mock.ExpectQuery("ORDER BY value DESC").WithArgs(ingJobID).WillReturnRows(rankRows)

	handler := worker.NewQAHandler(db)

	payload, err := handler.Run(context.Background(), queue.NewTask(jobs.KindQA, jobID))
	require.NoError(t, err)

	var result struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Contains(t, result.Answer, "error rate was 5.00%")
	assert.Contains(t, result.Answer, "news.php")
}

func TestQAHandler_ShortQuestion(t *testing.T) {
	t.Parallel()

	db, mock := newMockStore(t)

	jobID := uuid.New()
	ingJobID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM jobs`).WithArgs(jobID).
		WillReturnRows(qaJobRows(jobID, ingJobID, "  p95  "))

	handler := worker.NewQAHandler(db)

	_, err := handler.Run(context.Background(), queue.NewTask(jobs.KindQA, jobID))
	require.ErrorIs(t, err, worker.ErrShortQuestion)
}

func TestQAHandler_NoDataIngested(t *testing.T) {
	t.Parallel()

	db, mock := newMockStore(t)

	jobID := uuid.New()
	ingJobID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM jobs`).WithArgs(jobID).
		WillReturnRows(qaJobRows(jobID, ingJobID, "How slow was it?"))

	emptyRows := sqlmock.NewRows(globalColumns()).AddRow(
		0, 0, 0,
		0, 0, 0, 0,
		nil, nil, nil,
		nil, nil, nil, nil,
		nil, nil,
	)
	mock.ExpectQuery("FROM request_logs").WithArgs(ingJobID).WillReturnRows(emptyRows)

	handler := worker.NewQAHandler(db)

	payload, err := handler.Run(context.Background(), queue.NewTask(jobs.KindQA, jobID))
	require.NoError(t, err)

	var result struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Contains(t, result.Answer, "No request data")
}
