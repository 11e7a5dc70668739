package anthropic

import "strings"

// CleanJSON extracts the JSON document from model output that may be
// wrapped in markdown fences or surrounded by prose. Objects and arrays are
// both accepted; the outermost delimiters win.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	objStart, arrStart := strings.Index(text, "{"), strings.Index(text, "[")
	open, closing := "{", "}"
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		open, closing = "[", "]"
	}
	start := strings.Index(text, open)
	end := strings.LastIndex(text, closing)
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
