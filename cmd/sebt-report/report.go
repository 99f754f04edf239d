package main

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/channel"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/store"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
)

// radarMaxMm is the radar axis ceiling. Completion values are always below
// the 2000mm validity bound, so the scale never clips.
const radarMaxMm = 2000

// channelColors assigns each direction a stable line colour across the
// PNG plots.
var channelColors = [channel.Count]color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255},
	color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 255},
	color.RGBA{R: 0x8c, G: 0x56, B: 0x4b, A: 255},
	color.RGBA{R: 0xe3, G: 0x77, B: 0xc2, A: 255},
	color.RGBA{R: 0x7f, G: 0x7f, B: 0x7f, A: 255},
}

// completionValues extracts the final completed distance per channel from
// the journalled events. A channel completed more than once (reset and
// redone within the same run) keeps the latest value.
func completionValues(evs []store.EventRow) map[int]int {
	out := make(map[int]int)
	for _, ev := range evs {
		if ev.Kind != string(events.KindChannelCompleted) {
			continue
		}
		if !channel.ValidIndex(ev.Channel) {
			continue
		}
		out[ev.Channel] = ev.DistanceMm
	}
	return out
}

// buildCompletionRadar renders the completed reach per direction. Channels
// without a completion plot at zero.
func buildCompletionRadar(run store.Run, completions map[int]int) *charts.Radar {
	indicators := make([]*opts.Indicator, 0, channel.Count)
	values := make([]int, 0, channel.Count)
	for _, d := range channel.Directions {
		indicators = append(indicators, &opts.Indicator{
			Name: fmt.Sprintf("%s %s", d.Code, d.Name),
			Max:  radarMaxMm,
		})
		values = append(values, completions[d.Index])
	}

	radar := charts.NewRadar()
	radar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SEBT Session Report", Theme: "dark", Width: "700px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Completed Reach (mm)",
			Subtitle: fmt.Sprintf("run=%s completed=%d/%d", run.RunID, len(completions), channel.Count),
		}),
		charts.WithRadarComponentOpts(opts.RadarComponent{
			Indicator:   indicators,
			Shape:       "circle",
			SplitNumber: 5,
			SplitLine:   &opts.SplitLine{Show: opts.Bool(true)},
			SplitArea:   &opts.SplitArea{Show: opts.Bool(true)},
		}),
	)
	radar.AddSeries("completed", []opts.RadarData{{Name: "completed", Value: values}})
	return radar
}

// buildTimelineChart renders every channel's journalled distances against
// seconds since the run started. Dropout readings (zero) leave gaps.
func buildTimelineChart(run store.Run, frames []store.FrameRow) *charts.Line {
	x := make([]string, 0, len(frames))
	for _, fr := range frames {
		x = append(x, fmt.Sprintf("%.1fs", fr.RecvTime.Sub(run.StartedAt).Seconds()))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1400px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Channel Distances (mm)",
			Subtitle: fmt.Sprintf("%d frames", len(frames)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	line.SetXAxis(x)
	for _, d := range channel.Directions {
		series := make([]opts.LineData, 0, len(frames))
		for _, fr := range frames {
			if v := fr.Distances[d.Index]; v > 0 {
				series = append(series, opts.LineData{Value: v})
			} else {
				series = append(series, opts.LineData{Value: nil})
			}
		}
		line.AddSeries(d.Code, series)
	}
	return line
}

// writeDistancesPNG plots all eight channel timelines into one PNG, one
// coloured line per direction. Reports false without writing when every
// reading in the run was a dropout.
func writeDistancesPNG(run store.Run, frames []store.FrameRow, path string) (bool, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Channel Distances - run %s", run.RunID)
	p.X.Label.Text = "Seconds"
	p.Y.Label.Text = "Distance (mm)"

	series := 0
	for _, d := range channel.Directions {
		pts := make(plotter.XYs, 0, len(frames))
		for _, fr := range frames {
			if v := fr.Distances[d.Index]; v > 0 {
				pts = append(pts, plotter.XY{
					X: fr.RecvTime.Sub(run.StartedAt).Seconds(),
					Y: float64(v),
				})
			}
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return false, err
		}
		line.Color = channelColors[d.Index]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(d.Code, line)
		series++
	}
	if series == 0 {
		return false, nil
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return false, fmt.Errorf("save distances plot: %w", err)
	}
	return true, nil
}

// writeMinimumPNG plots the rig's own minimum-distance output over the run.
// Reports false without writing when the rig never reported a minimum.
func writeMinimumPNG(run store.Run, frames []store.FrameRow, path string) (bool, error) {
	pts := make(plotter.XYs, 0, len(frames))
	for _, fr := range frames {
		if fr.MinDirection == int(telemetry.NoMinDirection) || fr.MinDistance <= 0 {
			continue
		}
		pts = append(pts, plotter.XY{
			X: fr.RecvTime.Sub(run.StartedAt).Seconds(),
			Y: float64(fr.MinDistance),
		})
	}
	if len(pts) == 0 {
		return false, nil
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Device Minimum Distance - run %s", run.RunID)
	p.X.Label.Text = "Seconds"
	p.Y.Label.Text = "Distance (mm)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return false, err
	}
	line.Color = channelColors[0]
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return false, fmt.Errorf("save minimum plot: %w", err)
	}
	return true, nil
}

// writeReport renders the HTML report plus the PNG plots into outDir and
// returns the paths written. The HTML is always produced; the PNGs are
// skipped when the run journalled no usable frames.
func writeReport(run store.Run, frames []store.FrameRow, evs []store.EventRow, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var written []string

	page := components.NewPage()
	page.AddCharts(
		buildCompletionRadar(run, completionValues(evs)),
		buildTimelineChart(run, frames),
	)

	htmlPath := filepath.Join(outDir, "report.html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", htmlPath, err)
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	written = append(written, htmlPath)

	if len(frames) == 0 {
		return written, nil
	}

	distancesPath := filepath.Join(outDir, "distances.png")
	wrote, err := writeDistancesPNG(run, frames, distancesPath)
	if err != nil {
		return written, err
	}
	if wrote {
		written = append(written, distancesPath)
	}

	minimumPath := filepath.Join(outDir, "minimum.png")
	wrote, err = writeMinimumPNG(run, frames, minimumPath)
	if err != nil {
		return written, err
	}
	if wrote {
		written = append(written, minimumPath)
	}

	return written, nil
}
