// Package api serves the host's HTTP surface: rig status and channel state
// for the dashboard, manual measurement and reset commands, runtime
// configuration, and a live event stream.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/channel"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/config"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/lockengine"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/store"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/transport"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/units"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Link is the server's view of the device connection: report its state and
// push a raw command to the rig.
type Link interface {
	State() (transport.State, transport.Endpoint)
	SendCommand(command string) error
}

type Server struct {
	engine   *lockengine.Engine
	store    *store.Store
	link     Link
	bus      *events.Bus
	settings *config.Settings
	units    string
}

// NewServer wires the HTTP surface over the engine and its collaborators.
// The store and bus may be nil; the endpoints that need them respond 503.
func NewServer(engine *lockengine.Engine, st *store.Store, link Link, bus *events.Bus, settings *config.Settings, units string) *Server {
	if settings == nil {
		settings = config.EmptySettings()
	}
	return &Server{
		engine:   engine,
		store:    st,
		link:     link,
		bus:      bus,
		settings: settings,
		units:    units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/channels", s.listChannels)
	mux.HandleFunc("/api/channels/", s.showChannelStats)
	mux.HandleFunc("/api/measure", s.startMeasure)
	mux.HandleFunc("/api/reset", s.resetAll)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/events", s.streamEvents)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type statusResponse struct {
	Connection        transport.State        `json:"connection"`
	Device            string                 `json:"device,omitempty"`
	RunID             string                 `json:"run_id,omitempty"`
	LockEnabled       bool                   `json:"lock_enabled"`
	LockRequiredCount int                    `json:"lock_required_count"`
	Counter           lockengine.LockCounter `json:"counter"`
	CollectingChannel *int                   `json:"collecting_channel,omitempty"`
	ExperimentDone    bool                   `json:"experiment_done"`
	Version           string                 `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := statusResponse{
		Connection:        transport.StateDisconnected,
		LockEnabled:       s.engine.LockEnabled(),
		LockRequiredCount: s.engine.LockRequiredCount(),
		Counter:           s.engine.Counter(),
		ExperimentDone:    s.engine.ExperimentDone(),
		Version:           version.String(),
	}
	if s.link != nil {
		state, ep := s.link.State()
		resp.Connection = state
		if state == transport.StateConnected {
			resp.Device = ep.String()
		}
	}
	if ch, active := s.engine.CollectionActive(); active {
		resp.CollectingChannel = &ch
	}
	if s.store != nil {
		if run, ok := s.store.CurrentRun(); ok {
			resp.RunID = run.RunID
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.engine.Channels()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write channels")
		return
	}
}

// ChannelStatsAPI is the wire shape for windowed channel statistics. The
// journal stores millimetres; the values here are converted to the
// requested units, so the field names stay unit-neutral.
type ChannelStatsAPI struct {
	Channel int     `json:"channel"`
	Count   int     `json:"count"`
	Units   string  `json:"units"`
	Window  string  `json:"window"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	P50     float64 `json:"p50"`
	P85     float64 `json:"p85"`
	P98     float64 `json:"p98"`
}

func convertChannelStats(st channel.Stats, window time.Duration, targetUnits string) ChannelStatsAPI {
	return ChannelStatsAPI{
		Channel: st.Channel,
		Count:   st.Count,
		Units:   targetUnits,
		Window:  window.String(),
		Mean:    units.ConvertDistance(st.MeanMm, targetUnits),
		StdDev:  units.ConvertDistance(st.StdDevMm, targetUnits),
		Min:     units.ConvertDistance(st.MinMm, targetUnits),
		Max:     units.ConvertDistance(st.MaxMm, targetUnits),
		P50:     units.ConvertDistance(st.P50Mm, targetUnits),
		P85:     units.ConvertDistance(st.P85Mm, targetUnits),
		P98:     units.ConvertDistance(st.P98Mm, targetUnits),
	}
}

// showChannelStats serves /api/channels/{index}/stats: summary statistics
// over the journal readings for one direction within a recent window.
// Query params:
//   - window (optional; default 5m) as a Go duration string
//   - units (optional; default the server's configured units)
func (s *Server) showChannelStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "stats" {
		s.writeJSONError(w, http.StatusNotFound, "Not found")
		return
	}
	ch, err := strconv.Atoi(parts[0])
	if err != nil || !channel.ValidIndex(ch) {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid channel index %q", parts[0]))
		return
	}

	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}

	window := 5 * time.Minute
	if wp := r.URL.Query().Get("window"); wp != "" {
		parsed, err := time.ParseDuration(wp)
		if err != nil || parsed <= 0 || parsed > 24*time.Hour {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'window' parameter")
			return
		}
		window = parsed
	}

	targetUnits := s.units
	if up := r.URL.Query().Get("units"); up != "" {
		if !units.IsValid(up) {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid units; valid values: %s", units.GetValidUnitsString()))
			return
		}
		targetUnits = up
	}

	since := time.Now().Add(-window)
	stats, err := s.store.ChannelStats(ch, since, s.settings.GetMaxValidDistanceMm())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to compute channel stats: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(convertChannelStats(stats, window, targetUnits)); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write channel stats")
		return
	}
}

type measureRequest struct {
	Channel int `json:"channel"`
}

// startMeasure triggers the manual confirmation measurement for a locked
// channel. With no rig connected the engine completes the channel from a
// single simulated value, so the endpoint works in demos too.
func (s *Server) startMeasure(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req measureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	switch err := s.engine.StartCollection(req.Channel); {
	case err == nil:
		// Fall through to the success response.
	case errors.Is(err, lockengine.ErrUnknownChannel):
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown channel %d", req.Channel))
		return
	case errors.Is(err, lockengine.ErrNotLocked),
		errors.Is(err, lockengine.ErrCompleted),
		errors.Is(err, lockengine.ErrSessionActive):
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	default:
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to start collection: %v", err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "accepted",
		"channel": req.Channel,
	})
}

type resetResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

// resetAll returns every channel to Idle and opens a fresh journal run, so
// the rows written before and after the reset stay separable.
func (s *Server) resetAll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.engine.Reset()

	resp := resetResponse{Status: "reset"}
	if s.store != nil {
		device := ""
		if s.link != nil {
			if state, ep := s.link.State(); state == transport.StateConnected {
				device = ep.String()
			}
		}
		run, err := s.store.StartRun(time.Now(), device, "api")
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to start run: %v", err))
			return
		}
		resp.RunID = run.RunID
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write reset response")
		return
	}
}

type configResponse struct {
	LockRequiredCount  int    `json:"lock_required_count"`
	LockEnabled        bool   `json:"lock_enabled"`
	LockWindow         string `json:"lock_window"`
	MaxValidDistanceMm int    `json:"max_valid_distance_mm"`
	ManualSampleCount  int    `json:"manual_sample_count"`
	Units              string `json:"units"`
}

type configUpdate struct {
	LockRequiredCount *int  `json:"lock_required_count"`
	LockEnabled       *bool `json:"lock_enabled"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		s.showConfig(w, r)
	case http.MethodPost:
		s.updateConfig(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) currentConfig() configResponse {
	count := s.engine.LockRequiredCount()
	return configResponse{
		LockRequiredCount:  count,
		LockEnabled:        s.engine.LockEnabled(),
		LockWindow:         units.LockWindow(count, s.settings.GetHardwareSendInterval()).String(),
		MaxValidDistanceMm: s.settings.GetMaxValidDistanceMm(),
		ManualSampleCount:  s.settings.GetManualSampleCount(),
		Units:              s.units,
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if err := json.NewEncoder(w).Encode(s.currentConfig()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

// updateConfig applies the runtime-tunable settings. Fields omitted from
// the body keep their current values.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var upd configUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if upd.LockRequiredCount != nil {
		if err := s.engine.SetLockRequiredCount(*upd.LockRequiredCount); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if upd.LockEnabled != nil {
		s.engine.SetLockEnabled(*upd.LockEnabled)
	}

	if err := json.NewEncoder(w).Encode(s.currentConfig()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
