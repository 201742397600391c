package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// ============================================================================
// Admin HTTP
// ============================================================================

// Router builds the admin routes of the participant.
func (c *Controller) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.HandlerFor(c.registry))
	r.HandleFunc("/healthz", c.healthz).Methods(http.MethodGet)
	r.HandleFunc("/api/clocks", c.listClocks).Methods(http.MethodGet)
	r.HandleFunc("/api/clocks/{name}", c.clockTime).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs", c.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{name}", c.jobInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/health", c.jobHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/slaves", c.listSlaves).Methods(http.MethodGet)
	r.HandleFunc("/api/signals/{name}", c.trigger).Methods(http.MethodPost)
	return r
}

func (c *Controller) startHTTP() error {
	lis := c.opts.HTTPListener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", c.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", c.cfg.Metrics.Addr, err)
		}
	}
	c.httpLis = lis
	c.httpServer = &http.Server{
		Handler:           c.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.serveWg.Add(1)
	go func() {
		defer c.serveWg.Done()
		if err := c.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin http server failed", "error", err)
		}
	}()
	log.Info("admin http listening", "addr", lis.Addr().String())
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, types.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (c *Controller) healthz(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if err := c.sched.Err(); err != nil {
		status = "aborted"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      status,
		"participant": c.Name(),
		"instance":    c.InstanceID(),
	})
}

type clocksResponse struct {
	MainClock string          `json:"main_clock"`
	Type      string          `json:"type"`
	Time      types.Timestamp `json:"time"`
	Started   bool            `json:"started"`
	Clocks    []string        `json:"clocks"`
}

func (c *Controller) listClocks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, clocksResponse{
		MainClock: c.clocks.MainClockName(),
		Type:      c.clocks.Type().String(),
		Time:      c.clocks.Time(),
		Started:   c.clocks.Started(),
		Clocks:    c.clocks.ClockNames(),
	})
}

func (c *Controller) clockTime(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	t, err := c.clocks.TimeOf(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "time": t})
}

func (c *Controller) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.jobs.JobInfos())
}

func (c *Controller) jobInfo(w http.ResponseWriter, r *http.Request) {
	info, err := c.jobs.JobInfo(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (c *Controller) jobHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.health.GetHealth())
}

func (c *Controller) listSlaves(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.sink.Slaves())
}

func (c *Controller) trigger(w http.ResponseWriter, r *http.Request) {
	if err := c.Trigger(mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
