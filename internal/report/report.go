// Package report renders an HTML exploratory report for one ingested
// run from the SQL metrics views.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/loadgauge/internal/store"
)

const (
	chartWidth  = "1100px"
	chartHeight = "420px"

	timeLabelFormat = "15:04:05"

	slowestLimit = 10
)

// ErrNoData is returned when the job has no promoted rows to plot.
var ErrNoData = errors.New("no request data for report")

// Builder renders reports from persisted metrics.
type Builder struct {
	metrics *store.MetricsReader
}

// NewBuilder creates a report builder over the store.
func NewBuilder(db *store.DB) *Builder {
	return &Builder{metrics: db.Metrics()}
}

// Render writes the full HTML report for an ingestion job.
func (b *Builder) Render(ctx context.Context, ingestionJobID uuid.UUID, w io.Writer) error {
	global, err := b.metrics.Global(ctx, ingestionJobID)
	if err != nil {
		return err
	}

	if global == nil {
		return fmt.Errorf("job %s: %w", ingestionJobID, ErrNoData)
	}

	page := components.NewPage()
	page.PageTitle = "Load Test Report " + ingestionJobID.String()

	rpsChart, err := b.buildRPSChart(ctx, ingestionJobID)
	if err != nil {
		return err
	}

	latencyChart, err := b.buildLatencyChart(ctx, ingestionJobID)
	if err != nil {
		return err
	}

	errorChart, err := b.buildErrorRateChart(ctx, ingestionJobID)
	if err != nil {
		return err
	}

	slowestChart, err := b.buildSlowestChart(ctx, ingestionJobID)
	if err != nil {
		return err
	}

	statusChart, err := b.buildStatusChart(ctx, ingestionJobID)
	if err != nil {
		return err
	}

	page.AddCharts(rpsChart, latencyChart, errorChart, slowestChart, statusChart)

	if renderErr := page.Render(w); renderErr != nil {
		return fmt.Errorf("render report: %w", renderErr)
	}

	return nil
}

func (b *Builder) buildRPSChart(ctx context.Context, jobID uuid.UUID) (components.Charter, error) {
	points, err := b.metrics.RequestsPerSecond(ctx, jobID)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(points))
	data := make([]opts.LineData, len(points))

	for i, point := range points {
		labels[i] = point.Bucket.Format(timeLabelFormat)
		data[i] = opts.LineData{Value: point.Value}
	}

	line := newLine("Requests per Second", "req/s")
	line.SetXAxis(labels)
	line.AddSeries("RPS", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
	)

	return line, nil
}

func (b *Builder) buildLatencyChart(ctx context.Context, jobID uuid.UUID) (components.Charter, error) {
	points, err := b.metrics.LatencyPercentilesPerMinute(ctx, jobID)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(points))
	p50 := make([]opts.LineData, len(points))
	p95 := make([]opts.LineData, len(points))

	for i, point := range points {
		labels[i] = point.Bucket.Format(timeLabelFormat)
		p50[i] = opts.LineData{Value: point.P50}
		p95[i] = opts.LineData{Value: point.P95}
	}

	line := newLine("Response Time Percentiles", "ms")
	line.SetXAxis(labels)
	line.AddSeries("p50", p50)
	line.AddSeries("p95", p95)

	return line, nil
}

func (b *Builder) buildErrorRateChart(ctx context.Context, jobID uuid.UUID) (components.Charter, error) {
	points, err := b.metrics.ErrorRatePerMinute(ctx, jobID)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(points))
	data := make([]opts.BarData, len(points))

	for i, point := range points {
		labels[i] = point.Bucket.Format(timeLabelFormat)
		data[i] = opts.BarData{Value: point.Value * 100}
	}

	bar := newBar("Error Rate per Minute", "%")
	bar.SetXAxis(labels)
	bar.AddSeries("error rate", data)

	return bar, nil
}

func (b *Builder) buildSlowestChart(ctx context.Context, jobID uuid.UUID) (components.Charter, error) {
	ranks, err := b.metrics.SlowestEndpoints(ctx, jobID, slowestLimit)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(ranks))
	data := make([]opts.BarData, len(ranks))

	for i, rank := range ranks {
		labels[i] = rank.URL
		data[i] = opts.BarData{Value: rank.Value}
	}

	bar := newBar("Slowest Endpoints by Average Latency", "ms")
	bar.SetXAxis(labels)
	bar.AddSeries("avg latency", data)

	return bar, nil
}

func (b *Builder) buildStatusChart(ctx context.Context, jobID uuid.UUID) (components.Charter, error) {
	counts, err := b.metrics.StatusHistogram(ctx, jobID)
	if err != nil {
		return nil, err
	}

	data := make([]opts.PieData, len(counts))
	for i, count := range counts {
		data[i] = opts.PieData{
			Name:  fmt.Sprintf("%d (%s)", count.StatusCode, humanize.Comma(count.Count)),
			Value: count.Count,
		}
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: "Status Code Distribution"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("status codes", data)

	return pie, nil
}

func newLine(title, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	return line
}

func newBar(title, yName string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)

	return bar
}
