package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/store"
)

// minQuestionLen mirrors the API-side floor; tasks written before the
// check existed still fail cleanly here.
const minQuestionLen = 5

var ErrShortQuestion = errors.New("question must be at least 5 characters")

// qaResult is the result blob for a QA task.
type qaResult struct {
	IngestionJobID uuid.UUID `json:"ingestion_job_id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
}

// QAHandler answers questions about a persisted run by extracting the
// relevant figures from the SQL metrics views. Answers are assembled
// from the data itself; there is no language model behind this.
type QAHandler struct {
	db *store.DB
}

// NewQAHandler builds the handler.
func NewQAHandler(db *store.DB) *QAHandler {
	return &QAHandler{db: db}
}

// Run executes one QA task.
func (h *QAHandler) Run(ctx context.Context, task queue.Task) (json.RawMessage, error) {
	input, err := loadAnalysisInput(ctx, h.db, task)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(input.Question)) < minQuestionLen {
		return nil, ErrShortQuestion
	}

	answer, err := h.answer(ctx, input.IngestionJobID, input.Question)
	if err != nil {
		return nil, err
	}

	payload, marshalErr := json.Marshal(qaResult{
		IngestionJobID: input.IngestionJobID,
		Question:       input.Question,
		Answer:         answer,
	})
	if marshalErr != nil {
		return nil, fmt.Errorf("marshal qa result: %w", marshalErr)
	}

	return payload, nil
}

func (h *QAHandler) answer(ctx context.Context, ingestionJobID uuid.UUID, question string) (string, error) {
	global, err := h.db.Metrics().Global(ctx, ingestionJobID)
	if err != nil {
		return "", err
	}

	if global == nil {
		return "No request data has been ingested for this job.", nil
	}

	q := strings.ToLower(question)

	var parts []string

	switch {
	case containsAny(q, "p99", "99th"):
		parts = appendMetric(parts, "p99 response time", global.P99ResponseTime, "ms")
	case containsAny(q, "p95", "95th"):
		parts = appendMetric(parts, "p95 response time", global.P95ResponseTime, "ms")
	case containsAny(q, "p90", "90th"):
		parts = appendMetric(parts, "p90 response time", global.P90ResponseTime, "ms")
	case containsAny(q, "median", "p50", "50th"):
		parts = appendMetric(parts, "median response time", global.MedianResponseTime, "ms")
	case containsAny(q, "average", "avg", "mean"):
		parts = appendMetric(parts, "average response time", global.AvgResponseTime, "ms")
	}

	if containsAny(q, "error", "fail") {
		parts = append(parts, fmt.Sprintf("error rate was %.2f%%", global.RequestStatusError*100))

		ranking, rankErr := h.db.Metrics().EndpointsByErrorRate(ctx, ingestionJobID)
		if rankErr == nil && len(ranking) > 0 && ranking[0].Value > 0 {
			parts = append(parts, fmt.Sprintf("the worst endpoint was %s at %.2f%%", ranking[0].URL, ranking[0].Value*100))
		}
	}

	if containsAny(q, "slow", "latency", "response time") && len(parts) == 0 {
		slowest, slowErr := h.db.Metrics().SlowestEndpoints(ctx, ingestionJobID, 1)
		if slowErr == nil && len(slowest) > 0 {
			parts = append(parts, fmt.Sprintf("the slowest endpoint was %s averaging %.1f ms", slowest[0].URL, slowest[0].Value))
		}
	}

	if containsAny(q, "rps", "throughput", "requests per second") {
		parts = appendMetric(parts, "throughput", global.RPS, "requests/s")
	}

	if containsAny(q, "how many", "total", "count") {
		parts = append(parts, fmt.Sprintf("the run contains %s requests", humanize.Comma(global.TotalRequests)))
	}

	if len(parts) == 0 {
		parts = append(parts,
			fmt.Sprintf("the run contains %s requests with a %.2f%% success rate",
				humanize.Comma(global.TotalRequests), global.SuccessRate*100))
		parts = appendMetric(parts, "average response time", global.AvgResponseTime, "ms")
	}

	answer := strings.Join(parts, "; ")

	return strings.ToUpper(answer[:1]) + answer[1:] + ".", nil
}

func appendMetric(parts []string, name string, value *float64, unit string) []string {
	if value == nil {
		return append(parts, name+" is unavailable")
	}

	return append(parts, fmt.Sprintf("%s was %.1f %s", name, *value, unit))
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}

	return false
}
