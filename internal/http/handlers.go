package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"fpsarena/server/internal/input"
	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/match"
	"fpsarena/server/internal/replay"
	"fpsarena/server/internal/simulation"
	"fpsarena/server/internal/transport"
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	StartupError() error
	Uptime() time.Duration
}

// ReplayFlusher forces buffered replay data to disk and returns the bundle location.
type ReplayFlusher interface {
	FlushReplay(ctx context.Context) (string, error)
}

// ReplayFlusherFunc adapts a function into a ReplayFlusher.
type ReplayFlusherFunc func(ctx context.Context) (string, error)

// FlushReplay implements ReplayFlusher.
func (f ReplayFlusherFunc) FlushReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet. Every source is optional.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Ticks       func() simulation.TickMetricsSnapshot
	Clients     func() transport.Stats
	Drops       func() input.DropCounters
	Scoreboard  func() match.Scoreboard
	Replay      ReplayFlusher
	ReplayStats func() replay.StorageStats
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the arena operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	ticks       func() simulation.TickMetricsSnapshot
	clients     func() transport.Stats
	drops       func() input.DropCounters
	scoreboard  func() match.Scoreboard
	replay      ReplayFlusher
	replayStats func() replay.StorageStats
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		ticks:       opts.Ticks,
		clients:     opts.Clients,
		drops:       opts.Drops,
		scoreboard:  opts.Scoreboard,
		replay:      opts.Replay,
		replayStats: opts.ReplayStats,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/scoreboard", h.ScoreboardHandler())
	mux.HandleFunc("/api/controls", ControlsHandler())
	mux.HandleFunc("/replay/flush", h.ReplayFlushHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether the simulation loop is running.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.clients != nil {
			resp.Clients = h.clients().Connected
		}
		if h.readiness != nil {
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.readiness != nil {
			writeMetric(w, "arena_uptime_seconds", "gauge", "Server uptime in seconds.", fmt.Sprintf("%.0f", h.readiness.Uptime().Seconds()))
		}
		if h.ticks != nil {
			ticks := h.ticks()
			writeMetric(w, "arena_ticks_total", "counter", "Simulation ticks executed.", strconv.Itoa(ticks.Samples))
			writeMetric(w, "arena_tick_duration_avg_seconds", "gauge", "Average tick duration.", formatSeconds(ticks.Average))
			writeMetric(w, "arena_tick_duration_max_seconds", "gauge", "Longest tick duration.", formatSeconds(ticks.Max))
			writeMetric(w, "arena_tick_duration_last_seconds", "gauge", "Most recent tick duration.", formatSeconds(ticks.Last))
			writeMetric(w, "arena_tick_overruns_total", "counter", "Ticks that exceeded the step budget.", strconv.Itoa(ticks.Overrun))
		}
		if h.clients != nil {
			clients := h.clients()
			writeMetric(w, "arena_clients", "gauge", "Connected presentation clients.", strconv.Itoa(clients.Connected))
			writeMetric(w, "arena_connections_total", "counter", "Accepted presentation connections.", strconv.FormatUint(clients.Total, 10))
			writeMetric(w, "arena_snapshots_skipped_total", "counter", "Snapshots skipped by the per-client byte budget.", strconv.FormatUint(clients.SnapshotsSkipped, 10))
		}
		if h.drops != nil {
			drops := h.drops()
			fmt.Fprintf(w, "# HELP arena_commands_dropped_total Commands rejected before reaching the simulation.\n")
			fmt.Fprintf(w, "# TYPE arena_commands_dropped_total counter\n")
			fmt.Fprintf(w, "arena_commands_dropped_total{reason=%q} %d\n", input.DropReasonSequence, drops.Sequence)
			fmt.Fprintf(w, "arena_commands_dropped_total{reason=%q} %d\n", input.DropReasonInvalid, drops.Invalid)
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			writeMetric(w, "arena_replay_matches", "gauge", "Completed replay bundles on disk.", strconv.Itoa(stats.Matches))
			writeMetric(w, "arena_replay_in_progress", "gauge", "Replay bundles still being written.", strconv.Itoa(stats.InProgress))
			writeMetric(w, "arena_replay_bytes", "gauge", "Disk usage of replay bundles in bytes.", strconv.FormatInt(stats.Bytes, 10))
		}
	}
}

// ScoreboardHandler serves the ranked scoreboard.
func (h *HandlerSet) ScoreboardHandler() http.HandlerFunc {
	type response struct {
		Lines []match.Line `json:"lines"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.scoreboard == nil {
			http.Error(w, "scoreboard unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, response{Lines: h.scoreboard().Ranked()})
	}
}

// ReplayFlushHandler authorises and forces the active replay bundle to disk.
func (h *HandlerSet) ReplayFlushHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_flush"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay flush denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay flush denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("replay flush denied: rate limit exceeded")
			if hinted, ok := h.rateLimiter.(interface{ RetryAfter() time.Duration }); ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(hinted.RetryAfter().Round(time.Second).Seconds())))
			}
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.replay == nil {
			http.Error(w, "replay recording is disabled", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.FlushReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay flush failed", logging.Error(err))
			http.Error(w, "failed to flush replay", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay flushed", logging.String("location", location))
		writeJSON(w, http.StatusOK, response{Status: "flushed", Location: location})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeMetric(w http.ResponseWriter, name, kind, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %s\n", name, value)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// ControlDoc describes one input the presentation layer maps onto a command.
type ControlDoc struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Command     string `json:"command"`
	Shortcut    string `json:"shortcut,omitempty"`
}

var controlDocs = []ControlDoc{
	{ID: "move-forward", Label: "Move Forward", Description: "Walk along the view direction on the ground plane.", Command: string(input.KindKey), Shortcut: "W / Arrow Up"},
	{ID: "move-back", Label: "Move Back", Description: "Back away from the view direction.", Command: string(input.KindKey), Shortcut: "S / Arrow Down"},
	{ID: "strafe-left", Label: "Strafe Left", Description: "Sidestep left without turning.", Command: string(input.KindKey), Shortcut: "A / Arrow Left"},
	{ID: "strafe-right", Label: "Strafe Right", Description: "Sidestep right without turning.", Command: string(input.KindKey), Shortcut: "D / Arrow Right"},
	{ID: "jump", Label: "Jump", Description: "Leave the ground when standing on it.", Command: string(input.KindJump), Shortcut: "Space"},
	{ID: "fire", Label: "Fire", Description: "Shoot along the crosshair while the view is captured.", Command: string(input.KindFire), Shortcut: "Left Mouse"},
	{ID: "reload", Label: "Reload", Description: "Refill the magazine from reserve ammunition.", Command: string(input.KindReload), Shortcut: "R"},
	{ID: "aim", Label: "Aim", Description: "Turn the view while the pointer is captured.", Command: string(input.KindAim), Shortcut: "Mouse"},
	{ID: "capture", Label: "Capture View", Description: "Lock the pointer to start aiming.", Command: string(input.KindCapture), Shortcut: "Click"},
	{ID: "pause", Label: "Pause", Description: "Freeze the match and release the pointer.", Command: string(input.KindPause), Shortcut: "Escape"},
	{ID: "resume", Label: "Resume", Description: "Continue a paused match.", Command: string(input.KindResume), Shortcut: "Click"},
	{ID: "restart", Label: "Restart", Description: "Start a fresh match with full health and ammunition.", Command: string(input.KindRestart)},
	{ID: "scoreboard", Label: "Scoreboard", Description: "Show kills and deaths for every participant.", Command: string(input.KindScoreboard), Shortcut: "Tab"},
}

// ControlsHandler serves the control reference sorted by label.
func ControlsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		//1.- Sort a copy so concurrent requests never touch the shared slice.
		docs := append([]ControlDoc(nil), controlDocs...)
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].Label == docs[j].Label {
				return docs[i].ID < docs[j].ID
			}
			return docs[i].Label < docs[j].Label
		})
		writeJSON(w, http.StatusOK, docs)
	}
}
