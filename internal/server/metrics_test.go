package server_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/internal/report"
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

func TestGlobalMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ingJobID := uuid.New()
	rows := sqlmock.NewRows(globalColumns()).AddRow(
		100, 95, 5,
		95, 0, 4, 1,
		80.0, 5.0, 900.0,
		60.0, 200.0, 450.0, 800.0,
		serverNow, serverNow.Add(50*time.Second),
	)
	env.mock.ExpectQuery("FROM request_logs").WithArgs(ingJobID).WillReturnRows(rows)

	rec := env.do(t, http.MethodGet, "/api/v1/ingestions/"+ingJobID.String()+"/metrics/global", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TotalRequests int64    `json:"total_requests"`
		SuccessRate   float64  `json:"success_rate"`
		RPS           *float64 `json:"rps"`
	}

	decodeBody(t, rec, &resp)
	assert.Equal(t, int64(100), resp.TotalRequests)
	assert.InDelta(t, 0.95, resp.SuccessRate, 1e-9)
	require.NotNil(t, resp.RPS)
	assert.InDelta(t, 2.0, *resp.RPS, 1e-9)
}

func TestGlobalMetrics_NoData(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ingJobID := uuid.New()
	rows := sqlmock.NewRows(globalColumns()).AddRow(
		0, 0, 0,
		0, 0, 0, 0,
		nil, nil, nil,
		nil, nil, nil, nil,
		nil, nil,
	)
	env.mock.ExpectQuery("FROM request_logs").WithArgs(ingJobID).WillReturnRows(rows)

	rec := env.do(t, http.MethodGet, "/api/v1/ingestions/"+ingJobID.String()+"/metrics/global", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSlowestEndpoints_LimitValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ingJobID := uuid.New()

	rec := env.do(t, http.MethodGet,
		"/api/v1/ingestions/"+ingJobID.String()+"/metrics/slowest-endpoints?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlowestEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ingJobID := uuid.New()
	rows := sqlmock.NewRows([]string{"url", "total_requests", "value"}).
		AddRow("https://test.k6.io/news.php", 40, 320.5)
	env.mock.ExpectQuery("ORDER BY value DESC").WithArgs(ingJobID, 5).WillReturnRows(rows)

	rec := env.do(t, http.MethodGet,
		"/api/v1/ingestions/"+ingJobID.String()+"/metrics/slowest-endpoints?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ranks []struct {
		URL   string  `json:"url"`
		Value float64 `json:"value"`
	}

	decodeBody(t, rec, &ranks)
	require.Len(t, ranks, 1)
	assert.Equal(t, "https://test.k6.io/news.php", ranks[0].URL)
}

func TestStatusHistogram(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ingJobID := uuid.New()
	rows := sqlmock.NewRows([]string{"status_code", "count"}).
		AddRow(200, 95).
		AddRow(500, 5)
	env.mock.ExpectQuery("GROUP BY status_code").WithArgs(ingJobID).WillReturnRows(rows)

	rec := env.do(t, http.MethodGet,
		"/api/v1/ingestions/"+ingJobID.String()+"/metrics/status-histogram", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var counts []struct {
		StatusCode int   `json:"status_code"`
		Count      int64 `json:"count"`
	}

	decodeBody(t, rec, &counts)
	require.Len(t, counts, 2)
	assert.Equal(t, 200, counts[0].StatusCode)
}

// expectReportQueries queues the six metric reads one rendered report
// performs.
func expectReportQueries(env *testEnv, ingJobID uuid.UUID) {
	globalRows := sqlmock.NewRows(globalColumns()).AddRow(
		100, 95, 5,
		95, 0, 4, 1,
		80.0, 5.0, 900.0,
		60.0, 200.0, 450.0, 800.0,
		serverNow, serverNow.Add(time.Minute),
	)
	env.mock.ExpectQuery("FROM request_logs").WithArgs(ingJobID).WillReturnRows(globalRows)
	env.mock.ExpectQuery(`date_trunc\('second'`).WithArgs(ingJobID).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "value"}).AddRow(serverNow, 10.0))
	env.mock.ExpectQuery(`date_trunc\('minute'`).WithArgs(ingJobID).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "p50", "p95"}).AddRow(serverNow, 60.0, 450.0))
	env.mock.ExpectQuery(`date_trunc\('minute'`).WithArgs(ingJobID).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "value"}).AddRow(serverNow, 0.05))
	env.mock.ExpectQuery("ORDER BY value DESC").WithArgs(ingJobID, 10).
		WillReturnRows(sqlmock.NewRows([]string{"url", "total_requests", "value"}).
			AddRow("https://test.k6.io/news.php", 40, 320.5))
	env.mock.ExpectQuery("GROUP BY status_code").WithArgs(ingJobID).
		WillReturnRows(sqlmock.NewRows([]string{"status_code", "count"}).AddRow(200, 95))
}

func TestGenerateReport(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ingJobID := uuid.New()
	expectReportQueries(env, ingJobID)

	body, _ := json.Marshal(map[string]string{"ingestion_job_id": ingJobID.String()})

	rec := env.do(t, http.MethodPost, "/api/v1/reports", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, env.mock.ExpectationsWereMet())

	var generated report.Generated

	decodeBody(t, rec, &generated)
	assert.NotEqual(t, uuid.Nil, generated.ReportID)
	assert.Equal(t, ingJobID, generated.IngestionJobID)
	assert.FileExists(t, generated.ReportPath)
	assert.GreaterOrEqual(t, generated.ProcessingTimeSeconds, 0.0)

	get := env.do(t, http.MethodGet, "/api/v1/reports/"+generated.ReportID.String(), nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Contains(t, get.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, get.Body.String(), "Requests per Second")
}

func TestGenerateReport_NoData(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ingJobID := uuid.New()
	rows := sqlmock.NewRows(globalColumns()).AddRow(
		0, 0, 0,
		0, 0, 0, 0,
		nil, nil, nil,
		nil, nil, nil, nil,
		nil, nil,
	)
	env.mock.ExpectQuery("FROM request_logs").WithArgs(ingJobID).WillReturnRows(rows)

	body, _ := json.Marshal(map[string]string{"ingestion_job_id": ingJobID.String()})

	rec := env.do(t, http.MethodPost, "/api/v1/reports", body)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateReport_RequiresIngestionJobID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/reports", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetReport_Missing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/reports/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReport_NoData(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ingJobID := uuid.New()
	rows := sqlmock.NewRows(globalColumns()).AddRow(
		0, 0, 0,
		0, 0, 0, 0,
		nil, nil, nil,
		nil, nil, nil, nil,
		nil, nil,
	)
	env.mock.ExpectQuery("FROM request_logs").WithArgs(ingJobID).WillReturnRows(rows)

	rec := env.do(t, http.MethodGet, "/api/v1/ingestions/"+ingJobID.String()+"/report", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
