// Package httpapi exposes the daemon's read-only HTTP surface: the published
// PAC, a health summary and lookups against the ignore list and registry.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/common/utils"
	"github.com/haukened/rr-pac/internal/pac/domain"
)

// IgnoreChecker answers bypass questions.
type IgnoreChecker interface {
	Contains(rawURL string) bool
}

// RegistryChecker answers blocklist and distributor questions.
type RegistryChecker interface {
	CheckDomains(ctx context.Context, host string) bool
	CheckDistributors(ctx context.Context, host string) (cooperationRefused bool, found bool)
	GetLastSyncTimestamp(ctx context.Context) string
}

// StateReporter summarizes the proxy state machine.
type StateReporter interface {
	State(ctx context.Context) domain.ProxyState
	PrivateBrowsingPermissionsRequired(ctx context.Context) bool
}

// LastWriteReporter is implemented by state backends that record when they
// were last written. UpdatedUnix returns 0 when nothing has been written.
type LastWriteReporter interface {
	UpdatedUnix() int64
}

// Options wires a Handler. PAC serves /proxy.pac and /pac/. Storage is
// optional and only feeds lastWrite in /healthz.
type Options struct {
	PAC      http.Handler
	Ignore   IgnoreChecker
	Registry RegistryChecker
	Engine   StateReporter
	Storage  LastWriteReporter
	Logger   log.Logger
}

type handler struct {
	opts   Options
	logger log.Logger
}

// New returns the daemon mux.
func New(opts Options) http.Handler {
	h := &handler{opts: opts, logger: log.With(opts.Logger, map[string]any{"component": "http"})}
	mux := http.NewServeMux()
	if opts.PAC != nil {
		mux.Handle("/proxy.pac", opts.PAC)
		mux.Handle("/pac/", opts.PAC)
	}
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /v1/ignored", h.ignored)
	mux.HandleFunc("GET /v1/lookup", h.lookup)
	return mux
}

type healthResponse struct {
	Status                             string `json:"status"`
	Proxy                              string `json:"proxy"`
	Control                            string `json:"control"`
	LastSync                           string `json:"lastSync"`
	LastWrite                          string `json:"lastWrite,omitempty"`
	PrivateBrowsingPermissionsRequired bool   `json:"privateBrowsingPermissionsRequired"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.opts.Engine != nil {
		st := h.opts.Engine.State(r.Context())
		resp.Proxy = st.Phase()
		resp.Control = st.Control.String()
		resp.PrivateBrowsingPermissionsRequired = h.opts.Engine.PrivateBrowsingPermissionsRequired(r.Context())
	}
	if h.opts.Registry != nil {
		resp.LastSync = h.opts.Registry.GetLastSyncTimestamp(r.Context())
	}
	if h.opts.Storage != nil {
		if ts := h.opts.Storage.UpdatedUnix(); ts > 0 {
			resp.LastWrite = time.Unix(ts, 0).UTC().Format(time.RFC3339)
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type ignoredResponse struct {
	URL     string `json:"url"`
	Ignored bool   `json:"ignored"`
}

func (h *handler) ignored(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	if h.opts.Ignore == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ignore list unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, ignoredResponse{URL: raw, Ignored: h.opts.Ignore.Contains(raw)})
}

type lookupResponse struct {
	Host               string `json:"host"`
	Display            string `json:"display"`
	Blocked            bool   `json:"blocked"`
	Distributor        bool   `json:"distributor"`
	CooperationRefused bool   `json:"cooperationRefused"`
	LastSync           string `json:"lastSync"`
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) {
	if h.opts.Registry == nil {
		h.writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	host, err := utils.ExtractHostname(r.URL.Query().Get("url"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid url parameter")
		return
	}
	ctx := r.Context()
	refused, found := h.opts.Registry.CheckDistributors(ctx, host)
	h.writeJSON(w, http.StatusOK, lookupResponse{
		Host:               host,
		Display:            utils.DisplayHostname(host),
		Blocked:            h.opts.Registry.CheckDomains(ctx, host),
		Distributor:        found,
		CooperationRefused: refused,
		LastSync:           h.opts.Registry.GetLastSyncTimestamp(ctx),
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug(map[string]any{"error": err}, "Writing response failed")
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
