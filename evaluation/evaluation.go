//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package evaluation runs batches of input sets through one pipeline graph
// and aggregates success, latency and quality over the recorded traces.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-agent-pipeline/graph"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
)

// Scorer grades one finished run with a quality score, conventionally in [0, 1].
type Scorer interface {
	Score(ctx context.Context, run *Run) (float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, run *Run) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, run *Run) (float64, error) {
	return f(ctx, run)
}

// Run is the record of one input set.
type Run struct {
	// Index is the position of the input set in the batch.
	Index  int            `json:"index"`
	Inputs map[string]any `json:"inputs"`
	// Result is nil when the input set was rejected before execution.
	Result  *graph.ExecutionResult `json:"-"`
	Trace   *runtrace.Trace        `json:"-"`
	Success bool                   `json:"success"`
	Latency time.Duration          `json:"latency"`
	// Quality is set when a scorer graded the run.
	Quality *float64 `json:"quality,omitempty"`
	Err     string   `json:"error,omitempty"`
}

// Latency summarizes run durations.
type Latency struct {
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	Max  time.Duration `json:"max"`
}

// Result represents the results of an evaluation batch.
type Result struct {
	// ID is the unique identifier for this evaluation.
	ID string `json:"id"`

	// Timestamp records when the evaluation was performed.
	Timestamp time.Time `json:"timestamp"`

	// Successes is the number of runs where every task succeeded.
	Successes int `json:"successes"`

	// Failures is the number of runs that did not fully succeed.
	Failures int `json:"failures"`

	// Total is the number of input sets.
	Total int `json:"total"`

	Latency Latency `json:"latency"`

	// Quality is the mean score of the graded runs, nil when none was graded.
	Quality *float64 `json:"quality,omitempty"`

	// Runs holds one record per input set in input order.
	Runs []*Run `json:"runs"`
}

// SuccessRate is Successes over Total, 0 for an empty batch.
func (r *Result) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Total)
}

// Traces returns the traces of the runs that executed, in input order.
func (r *Result) Traces() []*runtrace.Trace {
	out := make([]*runtrace.Trace, 0, len(r.Runs))
	for _, run := range r.Runs {
		if run.Trace != nil {
			out = append(out, run.Trace)
		}
	}
	return out
}

// Thresholds decide whether an evaluation passed. Zero values disable a check.
type Thresholds struct {
	MinSuccessRate float64       `json:"min_success_rate" yaml:"min_success_rate"`
	MinQuality     float64       `json:"min_quality" yaml:"min_quality"`
	MaxP95         time.Duration `json:"max_p95" yaml:"max_p95"`
}

// Passed determines if the evaluation passed the thresholds.
func (r *Result) Passed(t Thresholds) bool {
	if r.SuccessRate() < t.MinSuccessRate {
		return false
	}
	if t.MinQuality > 0 && (r.Quality == nil || *r.Quality < t.MinQuality) {
		return false
	}
	return t.MaxP95 <= 0 || r.Latency.P95 <= t.MaxP95
}

// String returns a string representation of the evaluation result.
func (r *Result) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Evaluation ID: %s\n", r.ID)
	fmt.Fprintf(&sb, "Timestamp: %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Success Rate: %.1f%% (%d/%d)\n", r.SuccessRate()*100, r.Successes, r.Total)
	fmt.Fprintf(&sb, "Latency: mean %s, p50 %s, p95 %s, max %s\n",
		r.Latency.Mean, r.Latency.P50, r.Latency.P95, r.Latency.Max)
	if r.Quality != nil {
		fmt.Fprintf(&sb, "Quality: %.2f\n", *r.Quality)
	}
	return sb.String()
}

// summarize fills the aggregates from r.Runs.
func (r *Result) summarize() {
	r.Total = len(r.Runs)
	durations := make([]time.Duration, 0, len(r.Runs))
	var qualitySum float64
	var graded int
	for _, run := range r.Runs {
		if run.Success {
			r.Successes++
		} else {
			r.Failures++
		}
		if run.Trace != nil {
			durations = append(durations, run.Latency)
		}
		if run.Quality != nil {
			qualitySum += *run.Quality
			graded++
		}
	}
	r.Latency = latencyOf(durations)
	if graded > 0 {
		q := qualitySum / float64(graded)
		r.Quality = &q
	}
}

func latencyOf(ds []time.Duration) Latency {
	if len(ds) == 0 {
		return Latency{}
	}
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return Latency{
		Mean: sum / time.Duration(len(sorted)),
		P50:  percentile(sorted, 0.50),
		P95:  percentile(sorted, 0.95),
		Max:  sorted[len(sorted)-1],
	}
}

// percentile uses the nearest-rank method on sorted durations.
func percentile(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
