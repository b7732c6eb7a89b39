//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package evaluation

import "trpc.group/trpc-go/trpc-agent-pipeline/runtrace"

// ReplayInputs returns the initial inputs of recorded pipeline traces so the
// same batch can be fed through a graph again.
func ReplayInputs(traces []*runtrace.Trace) []map[string]any {
	out := make([]map[string]any, 0, len(traces))
	for _, tr := range traces {
		if tr == nil || tr.Kind() != runtrace.KindPipeline {
			continue
		}
		out = append(out, tr.Inputs())
	}
	return out
}

// ReplayRecords does the same for traces read back from a JSONL sink.
func ReplayRecords(records []runtrace.Record) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if r.Kind != runtrace.KindPipeline {
			continue
		}
		cp := make(map[string]any, len(r.Inputs))
		for k, v := range r.Inputs {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}
