//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"context"
	"regexp"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
)

// filterMode defines how a filter treats matching tools.
type filterMode string

// Filter modes.
const (
	FilterModeInclude filterMode = "include" // Only include matching tools
	FilterModeExclude filterMode = "exclude" // Exclude matching tools
)

// ToolFilter selects which remote tools are exposed.
type ToolFilter interface {
	Filter(ctx context.Context, tools []ToolInfo) []ToolInfo
}

// ToolInfo is what a filter sees of a remote tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolFilterFunc adapts a function to ToolFilter.
type ToolFilterFunc func(ctx context.Context, tools []ToolInfo) []ToolInfo

// Filter implements ToolFilter.
func (f ToolFilterFunc) Filter(ctx context.Context, tools []ToolInfo) []ToolInfo {
	return f(ctx, tools)
}

// ToolNameFilter keeps or drops tools by exact name.
type ToolNameFilter struct {
	Names []string
	Mode  filterMode
}

// Filter implements ToolFilter. An empty name list keeps everything.
func (f *ToolNameFilter) Filter(_ context.Context, tools []ToolInfo) []ToolInfo {
	if len(f.Names) == 0 {
		return tools
	}
	set := make(map[string]bool, len(f.Names))
	for _, name := range f.Names {
		set[name] = true
	}
	return keep(tools, f.Mode, func(t ToolInfo) bool { return set[t.Name] })
}

// PatternFilter keeps or drops tools whose name or description matches a regular expression.
// Invalid patterns are logged and never match.
type PatternFilter struct {
	NamePatterns        []string
	DescriptionPatterns []string
	Mode                filterMode
}

// Filter implements ToolFilter.
func (f *PatternFilter) Filter(_ context.Context, tools []ToolInfo) []ToolInfo {
	if len(f.NamePatterns) == 0 && len(f.DescriptionPatterns) == 0 {
		return tools
	}
	names := compile(f.NamePatterns)
	descs := compile(f.DescriptionPatterns)
	return keep(tools, f.Mode, func(t ToolInfo) bool {
		return matchAny(names, t.Name) || matchAny(descs, t.Description)
	})
}

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warnf("mcp: ignoring invalid tool filter pattern %q: %v", p, err)
			continue
		}
		out = append(out, re)
	}
	return out
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// keep applies mode to match. Unknown modes behave as include.
func keep(tools []ToolInfo, mode filterMode, match func(ToolInfo) bool) []ToolInfo {
	var out []ToolInfo
	for _, t := range tools {
		if match(t) == (mode != FilterModeExclude) {
			out = append(out, t)
		}
	}
	return out
}

// CompositeFilter applies filters in order.
type CompositeFilter struct {
	Filters []ToolFilter
}

// Filter implements ToolFilter.
func (f *CompositeFilter) Filter(ctx context.Context, tools []ToolInfo) []ToolInfo {
	result := tools
	for _, filter := range f.Filters {
		result = filter.Filter(ctx, result)
	}
	return result
}

// NewIncludeFilter keeps only the named tools.
func NewIncludeFilter(toolNames ...string) ToolFilter {
	return &ToolNameFilter{Names: toolNames, Mode: FilterModeInclude}
}

// NewExcludeFilter drops the named tools.
func NewExcludeFilter(toolNames ...string) ToolFilter {
	return &ToolNameFilter{Names: toolNames, Mode: FilterModeExclude}
}

// NewPatternIncludeFilter keeps tools whose names match a pattern.
func NewPatternIncludeFilter(namePatterns ...string) ToolFilter {
	return &PatternFilter{NamePatterns: namePatterns, Mode: FilterModeInclude}
}

// NewPatternExcludeFilter drops tools whose names match a pattern.
func NewPatternExcludeFilter(namePatterns ...string) ToolFilter {
	return &PatternFilter{NamePatterns: namePatterns, Mode: FilterModeExclude}
}

// NewDescriptionFilter keeps tools whose descriptions match a pattern.
func NewDescriptionFilter(descPatterns ...string) ToolFilter {
	return &PatternFilter{DescriptionPatterns: descPatterns, Mode: FilterModeInclude}
}

// NewCompositeFilter chains filters.
func NewCompositeFilter(filters ...ToolFilter) ToolFilter {
	return &CompositeFilter{Filters: filters}
}
