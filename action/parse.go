// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"regexp"
	"sort"
	"strings"
)

// Fence fragments, named because backticks cannot appear in raw string
// literals.
const (
	tick   = "`"
	fence  = "```"
	fence4 = "````"
)

// Completion sentinels. Either one anywhere in the response marks the
// task finished; NO_MORE_STEPS wins when both appear.
const (
	sentinelNoMoreSteps = "NO_MORE_STEPS"
	sentinelDone        = "DONE"
)

var (
	// Four-backtick write fences take priority so models can nest
	// three-backtick content inside a written file.
	writeFence4 = regexp.MustCompile(`(?s)` + fence4 + `write\s+([^` + "\n" + `]+)\n(.*?)` + fence4)
	writeFence3 = regexp.MustCompile(`(?s)` + fence + `write\s+([^` + "\n" + `]+)\n(.*?)` + fence)

	shellFence = regexp.MustCompile(`(?s)` + fence + `(?:bash|sh|run_command)\s+(.*?)` + fence)

	// Inline and fenced forms both match: the leading \s* tolerates the
	// "```\nread path\n```" layout models often produce.
	readSpan     = regexp.MustCompile(`(?is)(?:` + fence + `|` + tick + `)\s*read\s+([^` + tick + `]+?)\s*(?:` + fence + `|` + tick + `)`)
	readFallback = regexp.MustCompile(`(?i)\*\*Action\*\*:\s*Read\s+` + tick + `([^` + tick + `]+)` + tick)
	listSpan     = regexp.MustCompile(`(?:` + fence + `|` + tick + `)\s*list\s+([^` + tick + `]+?)\s*(?:` + fence + `|` + tick + `)`)
	findSpan     = regexp.MustCompile(`(?:` + fence + `|` + tick + `)\s*find\s+(\S+)\s+([^\s` + tick + `]+)\s*(?:` + fence + `|` + tick + `)`)
	switchSpan   = regexp.MustCompile(`(?:` + fence + `|` + tick + `)\s*switch_mode\s+([a-zA-Z_]+)\s*(?:` + fence + `|` + tick + `)`)

	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// Parse extracts actions from a model response in document order. A
// completion sentinel anywhere in the text appends a Done action after
// everything else, regardless of where the sentinel sits. Parse never
// fails; unrecognizable input produces no actions.
func Parse(response string) []Action {
	var actions []Action

	// accept records a candidate unless it overlaps a span already
	// taken by a higher-priority match.
	accept := func(candidate Action) {
		for _, existing := range actions {
			if candidate.Start < existing.End && existing.Start < candidate.End {
				return
			}
		}
		actions = append(actions, candidate)
	}

	for _, match := range writeFence4.FindAllStringSubmatchIndex(response, -1) {
		actions = append(actions, Action{
			Kind:    KindWrite,
			Path:    strings.TrimSpace(response[match[2]:match[3]]),
			Content: response[match[4]:match[5]],
			Start:   match[0],
			End:     match[1],
		})
	}
	for _, match := range writeFence3.FindAllStringSubmatchIndex(response, -1) {
		accept(Action{
			Kind:    KindWrite,
			Path:    strings.TrimSpace(response[match[2]:match[3]]),
			Content: response[match[4]:match[5]],
			Start:   match[0],
			End:     match[1],
		})
	}
	for _, match := range shellFence.FindAllStringSubmatchIndex(response, -1) {
		accept(Action{
			Kind:    KindShell,
			Command: strings.TrimSpace(response[match[2]:match[3]]),
			Start:   match[0],
			End:     match[1],
		})
	}
	for _, match := range readSpan.FindAllStringSubmatchIndex(response, -1) {
		accept(Action{
			Kind:  KindRead,
			Path:  strings.TrimSpace(response[match[2]:match[3]]),
			Start: match[0],
			End:   match[1],
		})
	}
	for _, match := range readFallback.FindAllStringSubmatchIndex(response, -1) {
		accept(Action{
			Kind:  KindRead,
			Path:  strings.TrimSpace(response[match[2]:match[3]]),
			Start: match[0],
			End:   match[1],
		})
	}
	for _, match := range listSpan.FindAllStringSubmatchIndex(response, -1) {
		accept(Action{
			Kind:  KindList,
			Path:  strings.TrimSpace(response[match[2]:match[3]]),
			Start: match[0],
			End:   match[1],
		})
	}
	for _, match := range findSpan.FindAllStringSubmatchIndex(response, -1) {
		accept(Action{
			Kind:    KindFind,
			Path:    strings.TrimSpace(response[match[2]:match[3]]),
			Pattern: strings.TrimSpace(response[match[4]:match[5]]),
			Start:   match[0],
			End:     match[1],
		})
	}
	for _, match := range switchSpan.FindAllStringSubmatchIndex(response, -1) {
		accept(Action{
			Kind:  KindSwitchMode,
			Mode:  strings.ToLower(strings.TrimSpace(response[match[2]:match[3]])),
			Start: match[0],
			End:   match[1],
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Start < actions[j].Start
	})

	if index := sentinelIndex(response); index >= 0 {
		length := len(sentinelNoMoreSteps)
		if !strings.HasPrefix(response[index:], sentinelNoMoreSteps) {
			length = len(sentinelDone)
		}
		actions = append(actions, Action{
			Kind:  KindDone,
			Start: index,
			End:   index + length,
		})
	}

	return actions
}

// sentinelIndex returns the byte offset of the completion sentinel, or
// -1 when the response contains none.
func sentinelIndex(response string) int {
	if index := strings.Index(response, sentinelNoMoreSteps); index >= 0 {
		return index
	}
	return strings.Index(response, sentinelDone)
}

// Strip removes every recognized action span (and the completion
// sentinel) from the response, collapsing the leftover blank runs.
// Used for the final chat message after a run, where the prose should
// survive but the machinery should not.
func Strip(response string) string {
	actions := Parse(response)
	if len(actions) == 0 {
		return strings.TrimSpace(response)
	}

	// Spans ordered by start; Done's span is the sentinel location,
	// which may precede other actions.
	spans := make([][2]int, 0, len(actions))
	for _, act := range actions {
		spans = append(spans, [2]int{act.Start, act.End})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })

	var out strings.Builder
	previous := 0
	for _, span := range spans {
		if span[0] > previous {
			out.WriteString(response[previous:span[0]])
		}
		if span[1] > previous {
			previous = span[1]
		}
	}
	if previous < len(response) {
		out.WriteString(response[previous:])
	}

	collapsed := blankRuns.ReplaceAllString(out.String(), "\n\n")
	return strings.TrimSpace(collapsed)
}
