package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/radar-hq/radar/internal/account"
	"github.com/radar-hq/radar/internal/bandit"
	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/fingerprint"
	"github.com/radar-hq/radar/internal/geoip"
	"github.com/radar-hq/radar/internal/history"
	"github.com/radar-hq/radar/internal/proxy"
	"github.com/radar-hq/radar/internal/session"
	"github.com/radar-hq/radar/internal/state"
	"github.com/radar-hq/radar/internal/task"
)

// Server wraps the HTTP server and mux for the admin API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// Deps carries everything the API surfaces. Nil fields skip their
// route group so partial deployments still serve what they have.
type Deps struct {
	Accounts     *account.Pool
	Proxies      *proxy.Pool
	Providers    *proxy.Registry
	Fingerprints *fingerprint.Store
	Sessions     *session.Orchestrator
	Scheduler    *task.Scheduler
	Bandit       *bandit.Scheduler
	History      *history.Recorder
	Geo          *geoip.Service
	RuntimeCfg   *atomic.Pointer[config.RuntimeConfig]
	EnvCfg       *config.EnvConfig
	StateRepo    *state.StateRepo
	Info         SystemInfo
}

// NewServer creates a new API server wired with all routes.
func NewServer(listenAddress string, port int, adminToken string, apiMaxBodyBytes int64, deps Deps) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(deps.Info))
	authed.Handle("GET /api/v1/system/config", HandleSystemConfig(deps.RuntimeCfg))
	authed.Handle("GET /api/v1/system/config/default", HandleSystemDefaultConfig())
	authed.Handle("GET /api/v1/system/config/env", HandleSystemEnvConfig(deps.EnvCfg))
	authed.Handle("GET /api/v1/system/geoip", HandleGeoIPInfo(deps.Geo))
	authed.Handle("POST /api/v1/system/geoip:reload", HandleGeoIPReload(deps.Geo))

	if deps.StateRepo != nil && deps.RuntimeCfg != nil {
		authed.Handle("PATCH /api/v1/system/config", HandlePatchSystemConfig(deps.StateRepo, deps.RuntimeCfg))
	}

	if deps.Accounts != nil {
		authed.Handle("GET /api/v1/accounts", HandleListAccounts(deps.Accounts))
		authed.Handle("POST /api/v1/accounts", HandleCreateAccount(deps.Accounts))
		authed.Handle("GET /api/v1/accounts/stats", HandleAccountStats(deps.Accounts))
		authed.Handle("POST /api/v1/accounts:select", HandleSelectAccount(deps.Accounts))
		authed.Handle("GET /api/v1/accounts:random", HandleRandomAccount(deps.Accounts))
		authed.Handle("POST /api/v1/accounts:import", HandleImportAccounts(deps.Accounts))
		authed.Handle("GET /api/v1/accounts:export", HandleExportAccounts(deps.Accounts))
		authed.Handle("POST /api/v1/accounts:prune", HandlePruneAccounts(deps.Accounts))
		authed.Handle("GET /api/v1/accounts/{id}", HandleGetAccount(deps.Accounts))
		authed.Handle("PATCH /api/v1/accounts/{id}", HandleUpdateAccount(deps.Accounts))
		authed.Handle("DELETE /api/v1/accounts/{id}", HandleDeleteAccount(deps.Accounts))
		authed.Handle("POST /api/v1/accounts/{id}/actions/quarantine", HandleQuarantineAccount(deps.Accounts))
		authed.Handle("POST /api/v1/accounts/{id}/actions/reactivate", HandleReactivateAccount(deps.Accounts))
	}

	if deps.Proxies != nil {
		authed.Handle("GET /api/v1/proxies", HandleListProxies(deps.Proxies))
		authed.Handle("POST /api/v1/proxies", HandleCreateProxy(deps.Proxies))
		authed.Handle("GET /api/v1/proxies/stats", HandleProxyStats(deps.Proxies))
		authed.Handle("POST /api/v1/proxies:import", HandleImportProxies(deps.Proxies))
		authed.Handle("GET /api/v1/proxies:export", HandleExportProxies(deps.Proxies))
		authed.Handle("POST /api/v1/proxies:acquire", HandleAcquireProxy(deps.Proxies))
		authed.Handle("GET /api/v1/proxies/bindings/{account_id}", HandleGetProxyBinding(deps.Proxies))
		authed.Handle("POST /api/v1/proxies/bindings/{account_id}", HandleBindProxy(deps.Proxies))
		authed.Handle("DELETE /api/v1/proxies/bindings/{account_id}", HandleUnbindProxy(deps.Proxies))
		authed.Handle("POST /api/v1/proxies/rotate/{account_id}", HandleRotateProxy(deps.Proxies))
		authed.Handle("GET /api/v1/proxies/{id}", HandleGetProxy(deps.Proxies))
		authed.Handle("DELETE /api/v1/proxies/{id}", HandleDeleteProxy(deps.Proxies))
		authed.Handle("POST /api/v1/proxies/{id}/actions/report-health", HandleReportProxyHealth(deps.Proxies))
	}

	if deps.Providers != nil {
		authed.Handle("GET /api/v1/proxies/providers", HandleListProviders(deps.Providers))
		authed.Handle("POST /api/v1/proxies/providers", HandleAddProvider(deps.Providers))
		authed.Handle("DELETE /api/v1/proxies/providers/{name}", HandleRemoveProvider(deps.Providers))
	}

	if deps.Fingerprints != nil {
		authed.Handle("GET /api/v1/fingerprints", HandleListFingerprints(deps.Fingerprints))
		authed.Handle("POST /api/v1/fingerprints:generate", HandleGenerateFingerprint(deps.Fingerprints))
		authed.Handle("GET /api/v1/fingerprints/{id}", HandleGetFingerprint(deps.Fingerprints))
		authed.Handle("DELETE /api/v1/fingerprints/{id}", HandleDeleteFingerprint(deps.Fingerprints))
	}

	if deps.Sessions != nil {
		authed.Handle("GET /api/v1/sessions", HandleListSessions(deps.Sessions))
		authed.Handle("POST /api/v1/sessions", HandleStartSession(deps.Sessions))
		authed.Handle("GET /api/v1/sessions/stats", HandleSessionStats(deps.Sessions))
		authed.Handle("GET /api/v1/sessions/{account_id}/{platform}", HandleGetSession(deps.Sessions))
		authed.Handle("DELETE /api/v1/sessions/{account_id}/{platform}", HandleStopSession(deps.Sessions))
		authed.Handle("GET /api/v1/sessions/{account_id}/{platform}/record", HandleGetSessionRecord(deps.Sessions))
		authed.Handle("PUT /api/v1/sessions/{account_id}/{platform}/browser-state", HandleSetBrowserState(deps.Sessions))
		authed.Handle("POST /api/v1/sessions/{account_id}/{platform}/actions/rotate-proxy", HandleRotateSessionProxy(deps.Sessions))
		authed.Handle("POST /api/v1/sessions/{account_id}/{platform}/actions/record-login", HandleRecordLogin(deps.Sessions))
	}

	if deps.Scheduler != nil {
		authed.Handle("GET /api/v1/tasks", HandleListTasks(deps.Scheduler))
		authed.Handle("POST /api/v1/tasks", HandleScheduleTask(deps.Scheduler))
		authed.Handle("GET /api/v1/tasks/stats", HandleTaskStats(deps.Scheduler))
		authed.Handle("POST /api/v1/tasks:batch", HandleScheduleBatch(deps.Scheduler))
		authed.Handle("POST /api/v1/tasks:clear", HandleClearQueue(deps.Scheduler))
		authed.Handle("DELETE /api/v1/tasks/{id}", HandleCancelTask(deps.Scheduler))
	}

	if deps.History != nil {
		authed.Handle("GET /api/v1/tasks/history", HandleTaskHistory(deps.History))
		authed.Handle("GET /api/v1/tasks/history/stats", HandleTaskHistoryStats(deps.History))
	}

	if deps.Bandit != nil {
		authed.Handle("GET /api/v1/slots/{platform}/stats", HandleSlotStats(deps.Bandit))
		authed.Handle("POST /api/v1/slots/{platform}:next", HandleScheduleNextRun(deps.Bandit))
		authed.Handle("POST /api/v1/slots/{platform}:outcome", HandleReportSlotOutcome(deps.Bandit))
	}

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
