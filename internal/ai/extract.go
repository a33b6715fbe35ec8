package ai

import "strings"

// extractJSON pulls the first JSON object out of a model reply, tolerating
// markdown code fences and prose around it.
func extractJSON(reply string) string {
	if fenced := extractFencedBlock(reply); fenced != "" {
		reply = fenced
	}

	start := strings.Index(reply, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(reply); i++ {
		ch := reply[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return reply[start : i+1]
				}
			}
		}
	}
	return ""
}

// extractFencedBlock returns the contents of the first ```json (or plain
// ```) code block, or "" when the reply carries no fence.
func extractFencedBlock(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return ""
	}
	open := strings.Index(s[start:], "\n")
	if open == -1 {
		return ""
	}
	open += start + 1

	end := strings.Index(s[open:], "```")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(s[open : open+end])
}
