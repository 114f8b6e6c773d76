// Package server exposes the auction over HTTP: cookie-session auth for
// users, a bearer token for the monitoring daemon, JSON bodies in and out,
// and CSV downloads for the admin exports.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/auth"
	"github.com/causalai/gpu-scheduler/api/pkg/config"
	"github.com/causalai/gpu-scheduler/api/pkg/scheduler"
)

const apiPrefix = "/api"

// SchedulerAPIServer wires the scheduler and the session store into the mux
// router.
type SchedulerAPIServer struct {
	cfg       config.ServerConfig
	scheduler *scheduler.Scheduler
	sessions  *auth.Sessions
	router    *mux.Router
}

func NewServer(cfg config.ServerConfig, sched *scheduler.Scheduler, sessions *auth.Sessions) *SchedulerAPIServer {
	apiServer := &SchedulerAPIServer{
		cfg:       cfg,
		scheduler: sched,
		sessions:  sessions,
	}
	apiServer.router = apiServer.registerRoutes()
	return apiServer
}

// Router exposes the configured handler, mainly for httptest.
func (apiServer *SchedulerAPIServer) Router() http.Handler {
	return apiServer.router
}

// ListenAndServe blocks until the context is cancelled, then drains in-flight
// requests.
func (apiServer *SchedulerAPIServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", apiServer.cfg.Host, apiServer.cfg.Port),
		ReadHeaderTimeout: time.Second * 60,
		IdleTimeout:       time.Minute * 5,
		Handler:           apiServer.router,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func matchAllRoutes(*http.Request, *mux.RouteMatch) bool {
	return true
}

func (apiServer *SchedulerAPIServer) registerRoutes() *mux.Router {
	router := mux.NewRouter()
	subRouter := router.PathPrefix(apiPrefix).Subrouter()

	// Every API request first repairs the calendar, advances the day cycle
	// and finalizes completed telemetry hours.
	subRouter.Use(apiServer.updateStateMiddleware)

	// Unauthenticated surface.
	subRouter.HandleFunc("/login", apiServer.loginHandler).Methods(http.MethodPost)
	subRouter.HandleFunc("/logout", apiServer.logoutHandler).Methods(http.MethodPost)
	subRouter.HandleFunc("/session", wrapper(apiServer.getSession)).Methods(http.MethodGet)
	subRouter.HandleFunc("/gpu-live-status", wrapper(apiServer.getLiveStatus)).Methods(http.MethodGet)
	subRouter.HandleFunc("/gpu-status", wrapper(apiServer.postGPUStatus)).Methods(http.MethodPost)

	// Session-authenticated surface.
	authRouter := subRouter.MatcherFunc(matchAllRoutes).Subrouter()
	authRouter.Use(apiServer.requireUserMiddleware)
	authRouter.HandleFunc("/overview", wrapper(apiServer.getOverview)).Methods(http.MethodGet)
	authRouter.HandleFunc("/week", wrapper(apiServer.getWeek)).Methods(http.MethodGet)
	authRouter.HandleFunc("/my/summary", wrapper(apiServer.getMySummary)).Methods(http.MethodGet)
	authRouter.HandleFunc("/my/bids", wrapper(apiServer.getMyBids)).Methods(http.MethodGet)
	authRouter.HandleFunc("/history/days", wrapper(apiServer.getHistoryDays)).Methods(http.MethodGet)
	authRouter.HandleFunc("/history/day", wrapper(apiServer.getHistoryDay)).Methods(http.MethodGet)
	authRouter.HandleFunc("/bid", wrapper(apiServer.postBid)).Methods(http.MethodPost)
	authRouter.HandleFunc("/bid/bulk", wrapper(apiServer.postBulkBids)).Methods(http.MethodPost)
	authRouter.HandleFunc("/bid/undo", wrapper(apiServer.postUndoBid)).Methods(http.MethodPost)
	authRouter.HandleFunc("/slot/release", wrapper(apiServer.postRelease)).Methods(http.MethodPost)
	authRouter.HandleFunc("/slot/release-bulk", wrapper(apiServer.postBulkRelease)).Methods(http.MethodPost)
	authRouter.HandleFunc("/dismiss-outbid", wrapper(apiServer.postDismissOutbid)).Methods(http.MethodPost)
	authRouter.HandleFunc("/users/change-password", wrapper(apiServer.postChangePassword)).Methods(http.MethodPost)

	// Admin surface.
	adminRouter := authRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(apiServer.requireAdminMiddleware)
	adminRouter.HandleFunc("/users", wrapper(apiServer.getAdminUsers)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/weeks", wrapper(apiServer.getAdminWeeks)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/transition-hour", wrapper(apiServer.getTransitionHour)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/transition-hour", wrapper(apiServer.postTransitionHour)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/update", wrapper(apiServer.postUpdateUser)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/bulk-update", wrapper(apiServer.postBulkUpdateUsers)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/create", wrapper(apiServer.postCreateUser)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/password", wrapper(apiServer.postResetPassword)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/weeks/cleanup", wrapper(apiServer.postCleanupWeeks)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/policy", wrapper(apiServer.postUpdatePolicy)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/reset-all-days", wrapper(apiServer.postResetAllDays)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/clear-demo-data", wrapper(apiServer.postClearDemoData)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/populate-demo-data", wrapper(apiServer.postPopulateDemoData)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/set-week-status", wrapper(apiServer.postSetWeekStatus)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/clear-week-bids", wrapper(apiServer.postClearWeekBids)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/export", apiServer.getExportSchedule).Methods(http.MethodGet)
	adminRouter.HandleFunc("/export-usage", apiServer.getExportUsage).Methods(http.MethodGet)
	adminRouter.HandleFunc("/export-all", apiServer.getExportAll).Methods(http.MethodGet)

	return router
}
