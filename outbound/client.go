// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package outbound wraps the net/http client used for both the target
// call (§4.4) and the reply call (§4.5): a bounded-timeout Do that
// returns activity.TransportError when the call does not complete and a
// Result for every call that does, whatever its status. Deciding
// whether a status is acceptable is left to the caller (see
// AllowedStatus).
package outbound

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/diffeo/relayproxy/activity"
)

// Client issues outbound HTTP calls with a bounded timeout.
type Client struct {
	// HTTPClient is the underlying client. If nil, a client with
	// Timeout set is constructed lazily from Timeout.
	HTTPClient *http.Client

	// Timeout bounds every call made through this Client (§5:
	// "every outbound HTTP call must carry a finite timeout") via the
	// request context, whether or not HTTPClient is set; zero or
	// negative means 10s. When HTTPClient is nil it is also the
	// Timeout of the client constructed for the call.
	Timeout time.Duration
}

// Result is the outcome of a completed outbound call: the content
// needed to either persist a Response (§4.4) or decide a reply
// delivery outcome (§4.5).
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Call builds a request for method against target, with header and
// body, and issues it with a deadline derived from c.Timeout. A
// transport failure (including a context deadline exceeded) is
// returned as activity.TransportError, never a bare error, so callers
// can type-switch directly on the transitions they drive.
func (c *Client) Call(ctx context.Context, method, target string, header http.Header, body []byte, contentType string) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, activity.TransportError{URL: target, Err: err}
	}
	req.Header = header.Clone()
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, activity.TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, activity.TransportError{URL: target, Err: err}
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// maxResponseBytes bounds how much of a target/reply response body we
// buffer, consistent with spec.md's scope note that bodies are
// buffered and bounded by store row size.
const maxResponseBytes = 8 << 20 // 8 MiB

// AllowedStatus reports whether code is a member of allowed.
func AllowedStatus(code int, allowed map[int]bool) bool {
	return allowed[code]
}
