// Command tuneplot renders a tuning session's telemetry from the sqlite
// database to a standalone HTML chart.
//
// Usage:
//
//	tuneplot -db autotune.db -session <id> -out tune.html
//
// With no -session it plots the most recently recorded session.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/autotune/internal/telemetry"
)

var (
	dbPath  = flag.String("db", "autotune.db", "Path to the telemetry database")
	session = flag.String("session", "", "Session ID to plot (default: most recent)")
	out     = flag.String("out", "tune.html", "Output HTML file")
)

func main() {
	flag.Parse()

	store, err := telemetry.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("failed to open telemetry database: %v", err)
	}
	defer store.Close()

	id := *session
	if id == "" {
		results, err := store.Results(1)
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		if len(results) == 0 {
			log.Fatal("no recorded sessions; pass -session explicitly")
		}
		id = results[0].SessionID
	}

	points, err := store.TuningPoints(id)
	if err != nil {
		log.Fatalf("failed to read telemetry: %v", err)
	}
	if len(points) == 0 {
		log.Fatalf("no telemetry for session %s", id)
	}

	line, err := renderProgress(id, points)
	if err != nil {
		log.Fatal(err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		log.Fatalf("failed to render chart: %v", err)
	}
	log.Printf("wrote %s (%d points, session %s)", *out, len(points), id)
}

func renderProgress(id string, points []telemetry.TuningPoint) (*charts.Line, error) {
	xAxis := make([]string, 0, len(points))
	progress := make([]opts.LineData, 0, len(points))
	state := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		xAxis = append(xAxis, fmt.Sprintf("%.0fs", p.ElapsedSeconds))
		progress = append(progress, opts.LineData{Value: p.Progress})
		state = append(state, opts.LineData{Value: p.State})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Autotune Session", Theme: "dark", Width: "1100px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Relay autotune progress", Subtitle: fmt.Sprintf("session=%s points=%d", id, len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "elapsed"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "progress (%)", Min: 0, Max: 100}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("progress", progress, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}))
	line.AddSeries("state", state)
	return line, nil
}
