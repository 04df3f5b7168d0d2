// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package activity

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Routing header names recognized at submit time (§4.3, normalized
// per §9 to X-ReplyMethod).
const (
	HeaderURL         = "X-Url"
	HeaderReply       = "X-Reply"
	HeaderReplyMethod = "X-ReplyMethod"
	// HeaderTaskID is added to every reply request so the reply
	// receiver can correlate it with the original submission
	// (§4.5).
	HeaderTaskID = "X-TaskId"
)

// routingHeaders lists, in the order the submit handler should
// report them when missing, the headers StripRouting removes.
var routingHeaders = []string{HeaderURL, HeaderReply, HeaderReplyMethod}

// EncodeHeaders serializes an http.Header into the JSON text-as-bytes
// form stored on Activity/Response rows: a flat object of string to
// string, multi-valued headers joined with ", " into one value (the
// comma-separated form of a repeated header).
func EncodeHeaders(h http.Header) ([]byte, error) {
	flat := make(map[string]string, len(h))
	for k, v := range h {
		flat[k] = strings.Join(v, ", ")
	}
	return json.Marshal(flat)
}

// DecodeHeaders deserializes the bytes produced by EncodeHeaders back
// into an http.Header suitable for setting on an outbound request.
func DecodeHeaders(data []byte) (http.Header, error) {
	if len(data) == 0 {
		return http.Header{}, nil
	}
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	h := make(http.Header, len(flat))
	for k, v := range flat {
		h.Set(k, v)
	}
	return h, nil
}

// ExtractRouting reads the three routing headers from h, returning
// their values and the names of any that were missing; h is left
// unchanged (StripRouting removes them). The
// caller should treat a non-empty missing slice as a validation
// failure (§4.3 step 1) and must not proceed to strip/serialize the
// remaining headers before checking it.
func ExtractRouting(h http.Header) (url, reply, replyMethod string, missing []string) {
	url = h.Get(HeaderURL)
	reply = h.Get(HeaderReply)
	replyMethod = h.Get(HeaderReplyMethod)

	if url == "" {
		missing = append(missing, HeaderURL)
	}
	if reply == "" {
		missing = append(missing, HeaderReply)
	}
	if replyMethod == "" {
		missing = append(missing, HeaderReplyMethod)
	}
	return
}

// StripRouting removes the three routing headers from h in place,
// leaving only the headers that should be forwarded to the target.
func StripRouting(h http.Header) {
	for _, name := range routingHeaders {
		h.Del(name)
	}
}
