package ui

import (
	"strings"
	"unicode/utf8"
)

// TruncateSimple performs simple end truncation with "..." suffix.
// UTF-8 safe.
func TruncateSimple(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(text)
	return string(runes[:maxLen-3]) + "..."
}

// WrapIndent wraps text at word boundaries to fit within width, prefixing
// continuation lines with indent. Existing line breaks are kept.
func WrapIndent(text string, width int, indent string) string {
	if width <= 0 {
		width = 80
	}
	avail := width - utf8.RuneCountInString(indent)
	if avail < 20 {
		avail = 20
	}

	var b strings.Builder
	for i, line := range strings.Split(text, "\n") {
		for j, part := range wrapLine(line, avail) {
			if i > 0 || j > 0 {
				b.WriteString("\n")
				b.WriteString(indent)
			}
			b.WriteString(part)
		}
	}
	return b.String()
}

// wrapLine splits a single line at word boundaries. A word longer than
// width gets a line of its own.
func wrapLine(line string, width int) []string {
	if utf8.RuneCountInString(line) <= width {
		return []string{line}
	}

	var (
		lines   []string
		current strings.Builder
		n       int
	)
	for _, word := range strings.Fields(line) {
		wl := utf8.RuneCountInString(word)
		if n > 0 && n+1+wl > width {
			lines = append(lines, current.String())
			current.Reset()
			n = 0
		}
		if n > 0 {
			current.WriteString(" ")
			n++
		}
		current.WriteString(word)
		n += wl
	}
	return append(lines, current.String())
}
