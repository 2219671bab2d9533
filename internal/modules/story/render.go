package story

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.Table,
		extension.Strikethrough,
		extension.Linkify,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

const documentStyle = `body { max-width: 42em; margin: 2em auto; padding: 0 1em; font-family: Georgia, serif; line-height: 1.7; color: #222; }
h1 { font-weight: normal; text-align: center; }
figure { margin: 2em 0; text-align: center; }
figure img { max-width: 100%; }
figcaption { margin: 1em auto; opacity: 0.8; font-size: 0.9em; }
footer { text-align: right; padding: 2em 0; font-size: 0.8em; opacity: 0.7; }`

// Figure is an image placed after the story text.
type Figure struct {
	URL     string
	Caption string
}

// RenderMarkdown converts story text to an HTML fragment. Raw HTML in the
// source is dropped.
func RenderMarkdown(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var out bytes.Buffer
	if err := markdownEngine.Convert([]byte(text), &out); err != nil {
		return "<p>" + template.HTMLEscapeString(text) + "</p>"
	}
	return out.String()
}

// RenderDocument builds a standalone HTML page for a story.
func RenderDocument(title, text string, figures []Figure, footer string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled story"
	}
	escTitle := template.HTMLEscapeString(title)

	var b strings.Builder
	b.Grow(2048 + len(text))
	b.WriteString("<!DOCTYPE html>\n<html>\n  <head>\n")
	b.WriteString("    <meta charset=\"UTF-8\" />\n")
	b.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\" />\n")
	b.WriteString("    <meta name=\"referrer\" content=\"no-referrer\" />\n")
	b.WriteString("    <style>\n")
	b.WriteString(documentStyle)
	b.WriteString("\n    </style>\n")
	b.WriteString("    <title>" + escTitle + "</title>\n")
	b.WriteString("  </head>\n  <body>\n")
	b.WriteString("    <article><h1>" + escTitle + "</h1>\n")
	b.WriteString(RenderMarkdown(text))
	for _, f := range figures {
		if strings.TrimSpace(f.URL) == "" {
			continue
		}
		b.WriteString(`<figure><img src="` + template.HTMLEscapeString(f.URL) + `"/>`)
		if caption := strings.TrimSpace(f.Caption); caption != "" {
			b.WriteString("<figcaption>" + template.HTMLEscapeString(caption) + "</figcaption>")
		}
		b.WriteString("</figure>\n")
	}
	b.WriteString("    </article>\n")
	if footer = strings.TrimSpace(footer); footer != "" {
		b.WriteString("    <footer>" + template.HTMLEscapeString(footer) + "</footer>\n")
	}
	b.WriteString("  </body>\n</html>")
	return b.String()
}
