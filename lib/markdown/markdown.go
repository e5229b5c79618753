// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package markdown renders bot messages for their two audiences:
// Matrix rooms, which want a sanitizer-friendly HTML rendition
// alongside the plain-text body, and the operator's terminal, which
// wants ANSI color.
//
// The HTML rendition sticks to the tag set Matrix clients keep after
// sanitizing. Fenced code blocks carry a "language-*" class on the
// code element and no inline styling: highlighting inside rooms is the
// client's job. Terminal highlighting is done server-side with chroma.
package markdown

import (
	"bytes"
	"html"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

// converterInstance is initialized once and reused. The converter
// configuration never changes and goldmark.Markdown is safe to share:
// each Convert call creates its own parse state.
var (
	converterInstance goldmark.Markdown
	converterOnce     sync.Once
)

func converter() goldmark.Markdown {
	converterOnce.Do(func() {
		converterInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
			goldmark.WithRendererOptions(
				htmlrenderer.WithXHTML(),
			),
		)
	})
	return converterInstance
}

// ToHTML renders markdown as Matrix-compatible HTML. Raw HTML in the
// input is escaped, not passed through. On a renderer error the input
// is returned as an escaped paragraph so the message still gets
// delivered.
func ToHTML(input string) string {
	var buffer bytes.Buffer
	if err := converter().Convert([]byte(input), &buffer); err != nil {
		return "<p>" + html.EscapeString(input) + "</p>"
	}
	return strings.TrimRight(buffer.String(), "\n")
}

// HighlightTerminal syntax-highlights code for terminal display.
// Returns the input unchanged when no language is given or chroma
// cannot handle it.
func HighlightTerminal(code, language string) string {
	if language == "" {
		return code
	}
	var buffer strings.Builder
	if err := quick.Highlight(&buffer, code, language, "terminal256", "monokai"); err != nil {
		return code
	}
	return buffer.String()
}
