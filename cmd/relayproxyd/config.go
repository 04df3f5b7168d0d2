// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/diffeo/relayproxy/backend"
	"github.com/diffeo/relayproxy/worker"
)

// fileConfig is the shape of the YAML configuration file (§6):
// process-wide defaults that CLI flags may override. Ported from
// cmd/coordinated/main.go's loadConfigYaml, generalized from a free-
// form map to a typed struct since this repo has a fixed, known set
// of settings.
type fileConfig struct {
	NodeID   string `yaml:"nodeId"`
	Backend  string `yaml:"backend"`
	Listen   string `yaml:"listen"`
	Postgres string `yaml:"postgres"`

	AllowedResponseCodes []int `yaml:"allowedResponseCodes"`

	RetentionPeriod    duration `yaml:"retentionPeriod"`
	OutboundTimeout    duration `yaml:"outboundTimeout"`
	ShutdownGrace      duration `yaml:"shutdownGrace"`
	SendInterval       duration `yaml:"sendInterval"`
	RequeueInterval    duration `yaml:"requeueInterval"`
	RetryReplyInterval duration `yaml:"retryReplyInterval"`
	CleanupInterval    duration `yaml:"cleanupInterval"`

	RequeueBatchLimit int `yaml:"requeueBatchLimit"`
	CleanupBatchLimit int `yaml:"cleanupBatchLimit"`
	LeaseTTL          duration `yaml:"leaseTtl"`
}

// duration unmarshals a YAML string like "5s" into a time.Duration,
// since gopkg.in/yaml.v2 has no built-in support for time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func loadFileConfig(path string) (*fileConfig, error) {
	bytes, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyTo overlays the non-zero fields of a loaded file config onto a
// worker.Config that already holds the §6 defaults.
func (fc *fileConfig) applyTo(cfg *worker.Config) {
	if fc == nil {
		return
	}
	if fc.NodeID != "" {
		cfg.NodeID = fc.NodeID
	}
	if len(fc.AllowedResponseCodes) > 0 {
		allowed := make(map[int]bool, len(fc.AllowedResponseCodes))
		for _, code := range fc.AllowedResponseCodes {
			allowed[code] = true
		}
		cfg.AllowedResponseCodes = allowed
	}
	if fc.RetentionPeriod > 0 {
		cfg.RetentionPeriod = time.Duration(fc.RetentionPeriod)
	}
	if fc.OutboundTimeout > 0 {
		cfg.OutboundTimeout = time.Duration(fc.OutboundTimeout)
	}
	if fc.SendInterval > 0 {
		cfg.SendInterval = time.Duration(fc.SendInterval)
	}
	if fc.RequeueInterval > 0 {
		cfg.RequeueInterval = time.Duration(fc.RequeueInterval)
	}
	if fc.RetryReplyInterval > 0 {
		cfg.RetryReplyInterval = time.Duration(fc.RetryReplyInterval)
	}
	if fc.CleanupInterval > 0 {
		cfg.CleanupInterval = time.Duration(fc.CleanupInterval)
	}
	if fc.RequeueBatchLimit > 0 {
		cfg.RequeueBatchLimit = fc.RequeueBatchLimit
	}
	if fc.CleanupBatchLimit > 0 {
		cfg.CleanupBatchLimit = fc.CleanupBatchLimit
	}
	if fc.LeaseTTL > 0 {
		cfg.LeaseTTL = time.Duration(fc.LeaseTTL)
	}
}

// shutdownGrace returns the file config's ShutdownGrace if it was set,
// falling back to def (§6: process-lifecycle default 5s). It is kept
// separate from applyTo/worker.Config since shutdown grace governs the
// daemon's own listener teardown, not a worker tick.
func (fc *fileConfig) shutdownGrace(def time.Duration) time.Duration {
	if fc != nil && fc.ShutdownGrace > 0 {
		return time.Duration(fc.ShutdownGrace)
	}
	return def
}

// backendFor resolves the activity store backend named in the file
// config, matching backend.Backend's "impl:address" convention.
func (fc *fileConfig) backendFor() backend.Backend {
	if fc == nil || fc.Backend == "" {
		return backend.Backend{Implementation: "memory"}
	}
	if fc.Backend == "postgres" {
		return backend.Backend{Implementation: "postgres", Address: fc.Postgres}
	}
	return backend.Backend{Implementation: fc.Backend}
}
