// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package submit

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/diffeo/relayproxy/activity"
)

// NewRouter builds the full HTTP surface (§4.3/§6): POST
// /submit, GET /message, and a Prometheus /metrics endpoint, wrapped
// in the recovery and access-log middleware every relayproxyd process
// runs under.
func NewRouter(store activity.Store, log logrus.FieldLogger) http.Handler {
	r := mux.NewRouter()
	PopulateRouter(r, store, log)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(newAccessLog(log))
	n.UseHandler(r)
	return n
}

// PopulateRouter adds the submit routes to an existing mux.Router, for
// callers that want to mount them under a subpath or alongside other
// handlers. /submit is intentionally left unconstrained by method
// (§4.3/§6: the incoming method is forwarded verbatim to the target),
// so every verb reaches Handler and is recorded on the Activity.
func PopulateRouter(r *mux.Router, store activity.Store, log logrus.FieldLogger) {
	r.Handle("/submit", &Handler{Store: store, Log: log})
	r.Handle("/message", &StatusHandler{Store: store, Log: log}).Methods("GET")
	r.Handle("/message/{id}", &StatusHandler{Store: store, Log: log}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// accessLog is a negroni-style middleware logging method, path, status,
// and duration for every request, mirroring the structured fields used
// throughout the worker package.
type accessLog struct {
	log logrus.FieldLogger
}

func newAccessLog(log logrus.FieldLogger) negroni.Handler {
	return &accessLog{log: log}
}

func (a *accessLog) ServeHTTP(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	rw := negroni.NewResponseWriter(w)
	next(rw, r)
	a.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"status":   rw.Status(),
		"duration": time.Since(start).String(),
	}).Info("request")
}
