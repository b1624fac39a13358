package tui

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"neural-lab/internal/app"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9+-]*)\\n?(.*?)```")
	inlineCodeRe  = regexp.MustCompile("`([^`\n]+)`")
	boldRe        = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	headingRe     = regexp.MustCompile(`(?m)^(#{1,3})\s+(.+)$`)
)

// MessageRenderer turns streamed reply text into terminal output. Replies are
// mostly prose with fenced code blocks; blocks get syntax highlighting, the
// rest gets light inline styling.
type MessageRenderer struct {
	theme     Theme
	formatter chroma.Formatter
	style     *chroma.Style
}

func NewMessageRenderer(theme Theme) *MessageRenderer {
	return &MessageRenderer{
		theme:     theme,
		formatter: formatters.Get("terminal256"),
		style:     styles.Get("monokai"),
	}
}

func (r *MessageRenderer) Render(text string, width int) string {
	if width < 24 {
		width = 24
	}

	var out strings.Builder
	last := 0
	for _, loc := range fencedBlockRe.FindAllStringSubmatchIndex(text, -1) {
		out.WriteString(r.renderProse(text[last:loc[0]]))
		lang := text[loc[2]:loc[3]]
		code := strings.TrimRight(text[loc[4]:loc[5]], "\n")
		out.WriteString("\n" + r.renderCodeBlock(code, lang, width) + "\n")
		last = loc[1]
	}
	out.WriteString(r.renderProse(text[last:]))
	return strings.TrimRight(out.String(), "\n")
}

// RenderGrounding formats search citations as a footer under the reply.
func (r *MessageRenderer) RenderGrounding(urls []app.GroundingURL) string {
	if len(urls) == 0 {
		return ""
	}
	var out strings.Builder
	out.WriteString(r.theme.Footer.Render("Sources:"))
	for _, u := range urls {
		out.WriteString("\n  " + r.theme.Citation.Render(fmt.Sprintf("%s (%s)", u.Title, u.URI)))
	}
	return out.String()
}

func (r *MessageRenderer) renderProse(text string) string {
	text = headingRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := headingRe.FindStringSubmatch(m)
		return lipgloss.NewStyle().Bold(true).Foreground(r.theme.Accent).Render(sub[2])
	})
	text = boldRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := boldRe.FindStringSubmatch(m)
		return lipgloss.NewStyle().Bold(true).Render(sub[1])
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := inlineCodeRe.FindStringSubmatch(m)
		return lipgloss.NewStyle().Foreground(r.theme.Warn).Render(sub[1])
	})
	return text
}

func (r *MessageRenderer) renderCodeBlock(code, lang string, width int) string {
	highlighted := r.highlight(code, lang)

	blockWidth := width - 6
	if blockWidth < 20 {
		blockWidth = 20
	}
	label := lang
	if label == "" {
		label = "code"
	}
	block := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(r.theme.Border).
		Padding(0, 1).
		Width(blockWidth).
		Render(highlighted)
	return r.theme.Footer.Render(" "+label) + "\n" + block
}

func (r *MessageRenderer) highlight(code, lang string) string {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}
