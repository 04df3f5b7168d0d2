// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package submit implements the inbound HTTP surface (§4.3): accepting
// new activities and answering status lookups. It holds no retry or
// delivery logic of its own; that is entirely the worker package's job.
package submit

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/diffeo/relayproxy/activity"
)

// maxBodyBytes bounds how much of a submitted payload is buffered,
// matching outbound.Client's own response-body bound.
const maxBodyBytes = 8 << 20 // 8 MiB

// errorResponse is the JSON body returned alongside a non-2xx status
// (§4.3/§7): a human-readable message plus a reference id a caller can
// quote back in a support request.
type errorResponse struct {
	Message   string `json:"message"`
	Reference string `json:"reference"`
}

// Handler implements /submit for any HTTP method: validates routing
// headers, stores a new CREATED Activity, and returns 202 Accepted with
// its id.
type Handler struct {
	Store activity.Store
	Log   logrus.FieldLogger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ServeHTTP implements the submit endpoint (§4.3 step 1-3).
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	url, reply, replyMethod, missing := activity.ExtractRouting(req.Header)
	if len(missing) > 0 {
		writeError(w, activity.ValidationError{Missing: missing})
		return
	}

	header := req.Header.Clone()
	activity.StripRouting(header)
	encodedHeaders, err := activity.EncodeHeaders(header)
	if err != nil {
		writeError(w, fmt.Errorf("encoding request headers: %w", err))
		return
	}

	body, err := ioutil.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, fmt.Errorf("reading request body: %w", err))
		return
	}

	a := &activity.Activity{
		ID:          uuid.NewV1().String(),
		URL:         url,
		Method:      req.Method,
		ReplyURL:    reply,
		ReplyMethod: replyMethod,
		State:       activity.Created,
		CreatedAt:   h.now(),
		Headers:     encodedHeaders,
		Payload:     body,
		ContentType: req.Header.Get("Content-Type"),
	}

	if err := h.Store.InsertActivity(req.Context(), a); err != nil {
		h.Log.WithError(err).Error("submit: inserting activity")
		writeError(w, activity.StoreError{Op: "InsertActivity", Err: err})
		return
	}

	w.Header().Set(activity.HeaderTaskID, a.ID)
	w.Header().Set("X-Activity", a.ID)
	w.WriteHeader(http.StatusAccepted)
}

// StatusHandler implements GET /message?id=...: reports the current
// state of a previously submitted activity (§6).
type StatusHandler struct {
	Store activity.Store
	Log   logrus.FieldLogger
}

type statusResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("id")
	if id == "" {
		if v := mux.Vars(req); v["id"] != "" {
			id = v["id"]
		}
	}
	if id == "" {
		writeError(w, activity.ValidationError{Missing: []string{"id"}})
		return
	}

	status, err := h.Store.GetActivityStatus(req.Context(), id)
	if err == activity.ErrNotFound {
		reference := uuid.NewV4().String()
		h.Log.WithFields(logrus.Fields{"reference": reference, "activity": id}).Info("status: activity not found")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(errorResponse{Message: "activity not found", Reference: reference})
		return
	}
	if err != nil {
		h.Log.WithError(err).Error("status: looking up activity")
		writeError(w, activity.StoreError{Op: "GetActivityStatus", Err: err})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{ID: status.ID, State: string(status.State)})
}

// httpStatuser is satisfied by every typed error in package activity
// that carries its own HTTP status (§7).
type httpStatuser interface {
	HTTPStatus() int
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if hs, ok := err.(httpStatuser); ok {
		status = hs.HTTPStatus()
	}
	reference := uuid.NewV4().String()
	logrus.WithField("reference", reference).WithError(err).Warn("request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Message: err.Error(), Reference: reference})
}
