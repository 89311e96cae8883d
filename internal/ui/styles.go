// Package ui renders mantis2ado console output: run summaries, per-issue
// progress lines and ledger history, styled with the Ayu palette.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Ayu palette, adaptive light/dark.
// https://terminalcolors.com/themes/ayu/dark/
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Glyph is a status icon with a plain-text fallback for terminals that
// should not get unicode symbols.
type Glyph struct {
	Symbol string
	ASCII  string
	Style  lipgloss.Style
}

// String returns the unstyled glyph for the current terminal.
func (g Glyph) String() string {
	if ShouldUseEmoji() {
		return g.Symbol
	}
	return g.ASCII
}

// Render returns the styled glyph.
func (g Glyph) Render() string {
	return g.Style.Render(g.String())
}

var (
	GlyphPass = Glyph{Symbol: "✓", ASCII: "+", Style: PassStyle}
	GlyphWarn = Glyph{Symbol: "⚠", ASCII: "!", Style: WarnStyle}
	GlyphFail = Glyph{Symbol: "✗", ASCII: "x", Style: FailStyle}
	GlyphSkip = Glyph{Symbol: "-", ASCII: "-", Style: MutedStyle}
	GlyphInfo = Glyph{Symbol: "ℹ", ASCII: "i", Style: AccentStyle}
)

// Tree characters for detail lines under an issue.
const (
	TreeLast   = "└─ "
	TreeIndent = "  "
)

const separator = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a section header in uppercase.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders a muted rule under a header.
func RenderSeparator() string {
	return MutedStyle.Render(separator)
}

func RenderPassIcon() string { return GlyphPass.Render() }
func RenderWarnIcon() string { return GlyphWarn.Render() }
func RenderFailIcon() string { return GlyphFail.Render() }
func RenderSkipIcon() string { return GlyphSkip.Render() }
func RenderInfoIcon() string { return GlyphInfo.Render() }
