// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package demotarget provides a toy target/reply HTTP service for
// exercising a relayproxyd instance by hand: /handle echoes its body
// back with a 200, and /callback just logs whatever it receives. Not
// part of the core relay proxy.
package main

import (
	"flag"
	"io/ioutil"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

func main() {
	listen := flag.String("listen", ":9090", "[ip]:port to listen on")
	failRate := flag.Int("fail-every", 0, "return 500 on every Nth /handle call (0 disables)")
	flag.Parse()

	calls := 0
	r := mux.NewRouter()
	r.HandleFunc("/handle", func(w http.ResponseWriter, req *http.Request) {
		calls++
		if *failRate > 0 && calls%*failRate == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := ioutil.ReadAll(req.Body)
		log.Printf("handle: task=%s body=%s", req.Header.Get("X-TaskId"), body)
		w.Header().Set("Content-Type", req.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}).Methods("POST")

	r.HandleFunc("/callback", func(w http.ResponseWriter, req *http.Request) {
		body, _ := ioutil.ReadAll(req.Body)
		log.Printf("callback: task=%s body=%s", req.Header.Get("X-TaskId"), body)
		w.WriteHeader(http.StatusOK)
	}).Methods("POST")

	log.Printf("demotarget listening on %s", *listen)
	if err := http.ListenAndServe(*listen, r); err != nil {
		log.Fatal(err)
	}
}
