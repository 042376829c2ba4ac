package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/fatih/color"

	"github.com/rodrigopv/faleproxy/internal/relay"
)

// Output formats understood by Write.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Formats lists every supported output format.
var Formats = []string{FormatText, FormatJSON, FormatHTML, FormatMarkdown}

// ValidFormat reports whether format is supported.
func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Write formats result and writes it to w. Text output is colorized when
// color is enabled (fatih/color disables it for non-TTY outputs).
func Write(w io.Writer, result *relay.FetchResult, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to marshal result to JSON: %w", err)
		}
	case FormatHTML:
		if _, err := io.WriteString(w, result.Content); err != nil {
			return err
		}
	case FormatMarkdown:
		md, err := Markdown(result)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, md+"\n"); err != nil {
			return err
		}
	case FormatText:
		writeText(w, result)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

func writeText(w io.Writer, result *relay.FetchResult) {
	title := color.New(color.FgWhite, color.Bold).SprintfFunc()
	label := color.New(color.FgYellow).SprintFunc()
	value := color.New(color.FgCyan).SprintFunc()

	fmt.Fprintf(w, "%s: %s\n", title("Relay Result for"), value(result.OriginalURL))
	if result.FinalURL != "" {
		fmt.Fprintf(w, "%s %s\n", label("Final URL:"), value(result.FinalURL))
	}
	fmt.Fprintf(w, "%s %s\n", label("Title:"), value(result.Title))
	if result.Description != "" {
		fmt.Fprintf(w, "%s %s\n", label("Description:"), value(result.Description))
	}
	fmt.Fprintf(w, "%s %s\n", label("Content Size:"), value(fmt.Sprintf("%d bytes", len(result.Content))))
}

// Markdown converts the rewritten page to markdown.
func Markdown(result *relay.FetchResult) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
	md, err := conv.ConvertString(result.Content)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// WriteFile writes the formatted result to path.
func WriteFile(path string, result *relay.FetchResult, format string) error {
	var sb strings.Builder
	if err := Write(&sb, result, format); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write output file '%s': %w", path, err)
	}
	return nil
}
