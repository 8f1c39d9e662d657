// Package httpapi exposes the automation server over HTTP: a live-frame
// push socket per video-source listener registration, a system status
// endpoint, and a plug-in registry listing. It is grounded on the
// teacher's pkg/web routes (the gorilla/websocket Logs() upgrade pattern)
// generalized from "push log lines to an admin" to "push frame stats to a
// dashboard client watching one video source."
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/server"
	"cvautomation/pkg/system"
)

// API bundles the collaborators the HTTP surface reads from. It holds no
// state of its own beyond them.
type API struct {
	Server   *server.Server
	Registry *plugin.Registry
	System   *system.System
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// frameEvent is the JSON payload pushed to a live socket subscriber.
type frameEvent struct {
	Width, Height int
	Format        string
	Error         string `json:"error,omitempty"`
}

// frameListener bridges source.Listener callbacks (synchronous, called on
// a video source's consumer thread) to a buffered channel a websocket
// writer goroutine drains, so a slow client never blocks frame processing.
type frameListener struct {
	events chan frameEvent
}

func newFrameListener() *frameListener {
	return &frameListener{events: make(chan frameEvent, 4)}
}

func (l *frameListener) OnNewImage(_ int, buf *pixel.Buffer) {
	ev := frameEvent{Width: buf.Width, Height: buf.Height, Format: buf.Format.String()}
	select {
	case l.events <- ev:
	default: // drop for a slow subscriber rather than block the source
	}
}

func (l *frameListener) OnError(_ int, message string) {
	select {
	case l.events <- frameEvent{Error: message}:
	default:
	}
}

// Live upgrades to a websocket and streams frameEvents for the video
// source named by the "id" query parameter until the socket closes.
func (a *API) Live() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.URL.Query().Get("id"))
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		l := newFrameListener()
		if err := a.Server.AddListener(id, l, false); err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
			return
		}
		defer a.Server.RemoveListener(id, l)

		for ev := range l.events {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	})
}

// Status reports the most recent CPU/RAM/disk snapshot.
func (a *API) Status() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.System.Status())
	})
}

type pluginInfo struct {
	GUID        string
	ShortName   string
	DisplayName string
	Type        string
}

// Plugins lists every registered plug-in descriptor.
func (a *API) Plugins() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out []pluginInfo
		for _, mask := range []plugin.Type{
			plugin.TypeImageProcessingFilter, plugin.TypeImageProcessingFilter2,
			plugin.TypeImageProcessing, plugin.TypeVideoProcessing,
			plugin.TypeImageImporter, plugin.TypeImageExporter,
			plugin.TypeVideoSource, plugin.TypeScriptingEngine, plugin.TypeDetection,
		} {
			for _, d := range a.Registry.PluginsOfType(mask) {
				out = append(out, pluginInfo{
					GUID:        d.GUID.String(),
					ShortName:   d.ShortName,
					DisplayName: d.DisplayName,
					Type:        mask.String(),
				})
			}
		}
		writeJSON(w, out)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

// AccessLog wraps next with structured request logging, a distinct
// concern from the domain event log in pkg/log: this records HTTP access
// lines (method, path, status, latency), not automation-server events.
func AccessLog(zapLogger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			zapLogger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
