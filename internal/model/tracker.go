// Package model defines the persistent domain types shared across Retrack's
// components: trackers, revisions, tasks, and scheduler jobs.
package model

import (
	"encoding/json"
	"time"
)

// TargetKind distinguishes the two observation backends a Tracker can bind to.
type TargetKind string

const (
	TargetPage TargetKind = "page"
	TargetAPI  TargetKind = "api"
)

// PageTarget extracts content from a rendered web page via the Scraper Client.
type PageTarget struct {
	Extractor               string          `json:"extractor"`
	Params                  json.RawMessage `json:"params,omitempty"`
	Engine                  string          `json:"engine,omitempty"` // "chromium" | "firefox"
	UserAgent               string          `json:"userAgent,omitempty"`
	AcceptInvalidCertificates bool          `json:"acceptInvalidCertificates,omitempty"`
}

// APIRequest is one HTTP request in an api target's request chain.
type APIRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// APITarget issues an ordered chain of HTTP requests, optionally steered by a
// configurator script, and reduces the result with an extractor script.
type APITarget struct {
	Requests     []APIRequest `json:"requests"`
	Configurator string       `json:"configurator,omitempty"`
	Extractor    string       `json:"extractor,omitempty"`
}

// Target is the tagged union of a Tracker's observation backend.
type Target struct {
	Kind TargetKind  `json:"kind"`
	Page *PageTarget `json:"page,omitempty"`
	API  *APITarget  `json:"api,omitempty"`
}

// ActionKind enumerates the dispatchable side-effects a new revision can trigger.
type ActionKind string

const (
	ActionEmail      ActionKind = "email"
	ActionWebhook    ActionKind = "webhook"
	ActionServerLog  ActionKind = "server_log"
	ActionLog        ActionKind = "log"
)

// Action is one configured side-effect for a tracker. Only the fields for
// Kind are meaningful; the rest are left zero.
type Action struct {
	Kind ActionKind `json:"type"`

	// email
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`

	// webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// optional per-action formatter script (all kinds)
	Formatter string `json:"formatter,omitempty"`
}

// RetryStrategyKind distinguishes the two backoff shapes a job or task retry
// policy may use.
type RetryStrategyKind string

const (
	RetryConstant    RetryStrategyKind = "constant"
	RetryExponential RetryStrategyKind = "exponential"
)

// RetryStrategy configures retry timing for either tick re-execution or task
// dispatch, per spec.md §4.9.
type RetryStrategy struct {
	Kind RetryStrategyKind `json:"kind"`

	IntervalMs int `json:"interval_ms,omitempty"` // constant

	InitialMs    int     `json:"initial_ms,omitempty"` // exponential
	Multiplier   float64 `json:"multiplier,omitempty"`
	MaxIntervalMs int    `json:"max_interval_ms,omitempty"`

	MaxAttempts int `json:"max_attempts"`
}

// JobConfig declares that a tracker should run on a schedule, and how.
type JobConfig struct {
	Schedule      string         `json:"schedule"`
	RetryStrategy *RetryStrategy `json:"retry_strategy,omitempty"`
}

// TrackerConfig holds the tunables every tracker carries.
type TrackerConfig struct {
	RevisionsRetained int            `json:"revisions_retained"`
	Timeout           time.Duration  `json:"timeout"`
	Job               *JobConfig     `json:"job,omitempty"`
}

// Tracker is a user-declared observation unit bound to one target and zero
// or more actions. See spec.md §3.
type Tracker struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Tags      []string      `json:"tags"`
	Target    Target        `json:"target"`
	Actions   []Action      `json:"actions"`
	Config    TrackerConfig `json:"config"`
	Enabled   bool          `json:"enabled"`

	// Runtime, derived and reconciled by the Job Scheduler.
	JobNeeded bool    `json:"job_needed"`
	JobID     *string `json:"job_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveJobNeeded applies the invariant job_needed ⇔ config.job is set ∧ enabled.
func (t *Tracker) DeriveJobNeeded() {
	t.JobNeeded = t.Config.Job != nil && t.Enabled
}
