package report_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/internal/report"
	"github.com/Sumatoshi-tech/loadgauge/internal/store"
)

var reportNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func globalColumns() []string {
	return []string{
		"total_requests", "success_count", "error_count",
		"status_2xx", "status_3xx", "status_4xx", "status_5xx",
		"avg_response", "min_response", "max_response",
		"p50_response", "p90_response", "p95_response", "p99_response",
		"min_timestamp", "max_timestamp",
	}
}

func newMockStore(t *testing.T) (*store.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = mockDB.Close() })

	return store.NewWithConn(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestBuilder_Render(t *testing.T) {
	t.Parallel()

	db, mock := newMockStore(t)

	jobID := uuid.New()

	globalRows := sqlmock.NewRows(globalColumns()).AddRow(
		100, 95, 5,
		95, 0, 4, 1,
		80.0, 5.0, 900.0,
		60.0, 200.0, 450.0, 800.0,
		reportNow, reportNow.Add(time.Minute),
	)
	mock.ExpectQuery("FROM request_logs").WithArgs(jobID).WillReturnRows(globalRows)

	rpsRows := sqlmock.NewRows([]string{"bucket", "value"}).
		AddRow(reportNow, 10.0).
		AddRow(reportNow.Add(time.Second), 12.0)
	mock.ExpectQuery(`date_trunc\('second'`).WithArgs(jobID).WillReturnRows(rpsRows)

	latencyRows := sqlmock.NewRows([]string{"bucket", "p50", "p95"}).
		AddRow(reportNow, 60.0, 450.0)
	mock.ExpectQuery(`date_trunc\('minute'`).WithArgs(jobID).WillReturnRows(latencyRows)

	errorRows := sqlmock.NewRows([]string{"bucket", "value"}).
		AddRow(reportNow, 0.05)
	mock.ExpectQuery(`date_trunc\('minute'`).WithArgs(jobID).WillReturnRows(errorRows)

	slowestRows := sqlmock.NewRows([]string{"url", "total_requests", "value"}).
		AddRow("https://test.k6.io/news.php", 40, 320.5).
		AddRow("https://test.k6.io/", 60, 55.0)
	mock.ExpectQuery("ORDER BY value DESC").WithArgs(jobID, 10).WillReturnRows(slowestRows)

	statusRows := sqlmock.NewRows([]string{"status_code", "count"}).
		AddRow(200, 95).
		AddRow(500, 5)
	mock.ExpectQuery("GROUP BY status_code").WithArgs(jobID).WillReturnRows(statusRows)

	builder := report.NewBuilder(db)

	var buf bytes.Buffer

	require.NoError(t, builder.Render(context.Background(), jobID, &buf))
	require.NoError(t, mock.ExpectationsWereMet())

	html := buf.String()
	assert.Contains(t, html, "Requests per Second")
	assert.Contains(t, html, "Response Time Percentiles")
	assert.Contains(t, html, "Error Rate per Minute")
	assert.Contains(t, html, "Slowest Endpoints by Average Latency")
	assert.Contains(t, html, "Status Code Distribution")
	assert.Contains(t, html, "news.php")
}

func TestBuilder_Generate(t *testing.T) {
	t.Parallel()

	db, mock := newMockStore(t)

	jobID := uuid.New()

	globalRows := sqlmock.NewRows(globalColumns()).AddRow(
		100, 95, 5,
		95, 0, 4, 1,
		80.0, 5.0, 900.0,
		60.0, 200.0, 450.0, 800.0,
		reportNow, reportNow.Add(time.Minute),
	)
	mock.ExpectQuery("FROM request_logs").WithArgs(jobID).WillReturnRows(globalRows)
	mock.ExpectQuery(`date_trunc\('second'`).WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "value"}).AddRow(reportNow, 10.0))
	mock.ExpectQuery(`date_trunc\('minute'`).WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "p50", "p95"}).AddRow(reportNow, 60.0, 450.0))
	mock.ExpectQuery(`date_trunc\('minute'`).WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "value"}).AddRow(reportNow, 0.05))
	mock.ExpectQuery("ORDER BY value DESC").WithArgs(jobID, 10).
		WillReturnRows(sqlmock.NewRows([]string{"url", "total_requests", "value"}).
			AddRow("https://test.k6.io/news.php", 40, 320.5))
	mock.ExpectQuery("GROUP BY status_code").WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"status_code", "count"}).AddRow(200, 95))

	files, err := report.NewStore(t.TempDir())
	require.NoError(t, err)

	generated, err := report.NewBuilder(db).Generate(context.Background(), jobID, files)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.NotEqual(t, uuid.Nil, generated.ReportID)
	assert.Equal(t, jobID, generated.IngestionJobID)
	assert.Equal(t, files.Path(generated.ReportID), generated.ReportPath)
	assert.GreaterOrEqual(t, generated.ProcessingTimeSeconds, 0.0)

	f, err := files.Open(generated.ReportID)
	require.NoError(t, err)

	t.Cleanup(func() { _ = f.Close() })

	saved, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "Requests per Second")
}

func TestStore_OpenMissing(t *testing.T) {
	t.Parallel()

	files, err := report.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = files.Open(uuid.New())
	require.ErrorIs(t, err, report.ErrReportMissing)
}

func TestBuilder_RenderNoData(t *testing.T) {
	t.Parallel()

	db, mock := newMockStore(t)

	jobID := uuid.New()

	emptyRows := sqlmock.NewRows(globalColumns()).AddRow(
		0, 0, 0,
		0, 0, 0, 0,
		nil, nil, nil,
		nil, nil, nil, nil,
		nil, nil,
	)
	mock.ExpectQuery("FROM request_logs").WithArgs(jobID).WillReturnRows(emptyRows)

	builder := report.NewBuilder(db)

	var buf bytes.Buffer

	err := builder.Render(context.Background(), jobID, &buf)
	require.ErrorIs(t, err, report.ErrNoData)
	assert.Zero(t, buf.Len())
}
