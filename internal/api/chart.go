package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/lockengine"
)

// chartReloadScript re-renders the page every couple of seconds so the
// chart tracks the live stream without a websocket.
const chartReloadScript = `<script>setTimeout(function () { location.reload(); }, 2000);</script>`

// showDistanceChart renders a radar plot (HTML) of the latest distance per
// direction using go-echarts. This is a debugging-only endpoint (no auth)
// to eyeball the rig without the dashboard frontend.
func (s *Server) showDistanceChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	statuses := s.engine.Channels()

	maxMm := float32(s.settings.GetMaxValidDistanceMm())
	indicators := make([]*opts.Indicator, 0, len(statuses))
	values := make([]int, 0, len(statuses))
	locked, completed := 0, 0
	for _, cs := range statuses {
		indicators = append(indicators, &opts.Indicator{
			Name: fmt.Sprintf("%s %s", cs.Code, cs.Name),
			Max:  maxMm,
		})
		v := 0
		if cs.Valid {
			v = cs.DistanceMm
		}
		values = append(values, v)
		switch cs.State {
		case lockengine.StateLocked:
			locked++
		case lockengine.StateCompleted:
			completed++
		}
	}

	radar := charts.NewRadar()
	radar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SEBT Distances", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Current Distances (mm)", Subtitle: fmt.Sprintf("locked=%d completed=%d", locked, completed)}),
		charts.WithRadarComponentOpts(opts.RadarComponent{
			Indicator:   indicators,
			Shape:       "circle",
			SplitNumber: 5,
			SplitLine:   &opts.SplitLine{Show: opts.Bool(true)},
			SplitArea:   &opts.SplitArea{Show: opts.Bool(true)},
		}),
	)
	radar.AddSeries("distances", []opts.RadarData{{Name: "latest", Value: values}})

	var buf bytes.Buffer
	if err := radar.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	doc := strings.Replace(buf.String(), "</body>", chartReloadScript+"</body>", 1)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}
