package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
// mux served at /debug/. These routes are accessible only over
// localhost/via Tailscale and are not publicly accessible.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("chart", "Live radar chart of the current distances", http.HandlerFunc(s.showDistanceChart))

	// Basic command / live tail monitor interface using the below two API endpoints.
	debug.HandleFunc("send-command", "Send a command to the rig", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to push a raw command to the rig
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if s.link == nil {
			http.Error(w, "No device link", http.StatusServiceUnavailable)
			return
		}
		if err := s.link.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to device", command))
	})

	// The tail page reuses the public SSE stream.
	debug.HandleSilentFunc("tail", s.streamEvents)

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}

// streamEvents issues Server-Side Events (SSE) carrying every bus event as
// a JSON payload, until the client goes away or the bus closes.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.bus == nil {
		http.Error(w, "Event bus not configured", http.StatusServiceUnavailable)
		return
	}

	id, c := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	s.serveEventStream(w, r, c)
}

// serveEventStream writes the SSE framing for events arriving on c. Split
// from streamEvents so tests can drive the loop with their own channel.
func (s *Server) serveEventStream(w http.ResponseWriter, r *http.Request, c chan events.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case ev, ok := <-c:
			if !ok {
				// Bus closed, exit gracefully
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload))); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}
