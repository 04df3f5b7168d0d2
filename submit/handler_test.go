// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package submit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/relayproxy/activity"
	"github.com/diffeo/relayproxy/activity/memory"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestSubmitHandlerAccepted(t *testing.T) {
	store := memory.New()
	h := &Handler{Store: store, Log: discardLogger()}

	req := httptest.NewRequest("POST", "/submit", strings.NewReader(`{"n":1}`))
	req.Header.Set(activity.HeaderURL, "http://target.example/handle")
	req.Header.Set(activity.HeaderReply, "http://caller.example/cb")
	req.Header.Set(activity.HeaderReplyMethod, "POST")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	id := rec.Header().Get("X-Activity")
	require.NotEmpty(t, id)

	status, err := store.GetActivityStatus(req.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, activity.Created, status.State)
}

func TestSubmitHandlerMissingRoutingHeaders(t *testing.T) {
	store := memory.New()
	h := &Handler{Store: store, Log: discardLogger()}

	req := httptest.NewRequest("POST", "/submit", strings.NewReader(`{}`))
	req.Header.Set(activity.HeaderURL, "http://target.example/handle")
	// X-Reply and X-ReplyMethod deliberately omitted.

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "message")
}

func TestSubmitHandlerStripsRoutingHeaders(t *testing.T) {
	store := memory.New()
	h := &Handler{Store: store, Log: discardLogger()}

	req := httptest.NewRequest("POST", "/submit", strings.NewReader(`{}`))
	req.Header.Set(activity.HeaderURL, "http://target.example/handle")
	req.Header.Set(activity.HeaderReply, "http://caller.example/cb")
	req.Header.Set(activity.HeaderReplyMethod, "POST")
	req.Header.Set("X-Custom", "keep-me")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rows, err := store.SelectEarliestByStates(req.Context(), []activity.State{activity.Created}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	decoded, err := activity.DecodeHeaders(rows[0].Headers)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", decoded.Get("X-Custom"))
	assert.Empty(t, decoded.Get(activity.HeaderURL))
	assert.Empty(t, decoded.Get(activity.HeaderReply))
	assert.Empty(t, decoded.Get(activity.HeaderReplyMethod))
}

func TestStatusHandlerNotFound(t *testing.T) {
	store := memory.New()
	h := &StatusHandler{Store: store, Log: discardLogger()}

	req := httptest.NewRequest("GET", "/message?id=does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusHandlerFound(t *testing.T) {
	store := memory.New()
	h := &Handler{Store: store, Log: discardLogger()}

	req := httptest.NewRequest("POST", "/submit", strings.NewReader(`{}`))
	req.Header.Set(activity.HeaderURL, "http://target.example/handle")
	req.Header.Set(activity.HeaderReply, "http://caller.example/cb")
	req.Header.Set(activity.HeaderReplyMethod, "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	id := rec.Header().Get("X-Activity")
	require.NotEmpty(t, id)

	statusHandler := &StatusHandler{Store: store, Log: discardLogger()}
	statusReq := httptest.NewRequest("GET", "/message?id="+id, nil)
	statusRec := httptest.NewRecorder()
	statusHandler.ServeHTTP(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)
	assert.Contains(t, statusRec.Body.String(), `"CREATED"`)
}
