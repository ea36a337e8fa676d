package intent

import "strings"

const fence = "```"

// extractCandidate pulls the most likely JSON text out of a completion.
// Strategies run in order and the first non-empty result wins:
//
//  1. the body of a ```json fenced block
//  2. the text between the first and last ``` markers
//  3. the span from the first '{' to the last '}'
//  4. the raw text unchanged
func extractCandidate(raw string) string {
	for _, strategy := range []func(string) string{jsonFence, anyFence, braceSpan} {
		if candidate := strings.TrimSpace(strategy(raw)); candidate != "" {
			return candidate
		}
	}
	return raw
}

func jsonFence(raw string) string {
	open := indexJSONFence(raw)
	if open < 0 {
		return ""
	}
	body := raw[open+len(fence)+len("json"):]
	end := strings.Index(body, fence)
	if end < 0 {
		return ""
	}
	return body[:end]
}

// indexJSONFence finds the first ```json marker, ignoring the case of "json".
// Offsets are byte positions in raw itself, so invalid UTF-8 cannot shift them.
func indexJSONFence(raw string) int {
	const tag = "json"
	for from := 0; from < len(raw); {
		i := strings.Index(raw[from:], fence)
		if i < 0 {
			return -1
		}
		i += from
		start := i + len(fence)
		if start+len(tag) <= len(raw) && strings.EqualFold(raw[start:start+len(tag)], tag) {
			return i
		}
		from = i + 1
	}
	return -1
}

func anyFence(raw string) string {
	first := strings.Index(raw, fence)
	last := strings.LastIndex(raw, fence)
	if first < 0 || last <= first {
		return ""
	}
	body := raw[first+len(fence) : last]
	// Drop an info string such as "javascript" on the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if info := strings.TrimSpace(body[:nl]); info != "" && !strings.ContainsAny(info, "{[\"") {
			body = body[nl+1:]
		}
	}
	return body
}

func braceSpan(raw string) string {
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first < 0 || last <= first {
		return ""
	}
	return raw[first : last+1]
}
