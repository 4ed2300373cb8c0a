package changelog

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// ErrMalformedDocument is returned by tokenizers for input they cannot read.
var ErrMalformedDocument = errors.New("malformed changelog document")

// Block is one version section as seen by a Tokenizer.
type Block struct {
	// Title is the heading's text as a reader sees it.
	Title string
	// Version is the semantic version in the title, or "".
	Version string
	// Body is the raw Markdown between this heading and the next one, without
	// link reference definitions. Those conventionally sit at the end of the
	// document and would otherwise all land in the last section.
	Body string
}

// Tokenizer splits a changelog document into version blocks.
type Tokenizer interface {
	Tokenize(ctx context.Context, doc string) ([]Block, error)
}

// MarkdownTokenizer treats every second-level heading of a Markdown
// document as the start of a version block, as Keep a Changelog and
// conventional-changelog generators lay them out.
type MarkdownTokenizer struct {
	md goldmark.Markdown
}

func NewMarkdownTokenizer() *MarkdownTokenizer {
	return &MarkdownTokenizer{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

type section struct {
	title      string
	start, end int
}

func (t *MarkdownTokenizer) Tokenize(ctx context.Context, doc string) ([]Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(doc) {
		return nil, ErrMalformedDocument
	}

	src := []byte(doc)
	root := t.md.Parser().Parse(text.NewReader(src))

	var sections []section
	closeLast := func(at int) {
		if n := len(sections); n > 0 && sections[n-1].end < 0 {
			sections[n-1].end = at
		}
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		closeLast(lineStart(src, h.Lines().At(0).Start))
		if h.Level == 1 {
			continue
		}
		sections = append(sections, section{
			title: headingText(h, src),
			start: lineEnd(src, h.Lines().At(h.Lines().Len()-1).Stop),
			end:   -1,
		})
	}
	closeLast(len(src))

	blocks := make([]Block, 0, len(sections))
	for _, s := range sections {
		blocks = append(blocks, Block{
			Title:   s.title,
			Version: findVersion(s.title),
			Body:    stripLinkDefinitions(trimSetextUnderline(string(src[s.start:s.end]))),
		})
	}
	return blocks, nil
}

// headingText renders the inline content of a heading as plain text. Link
// destinations are left out, so "[1.0.0](https://...) (2021-07-19)" reads
// "1.0.0 (2021-07-19)" exactly as GitHub displays it.
func headingText(h *ast.Heading, src []byte) string {
	var b []byte
	_ = ast.Walk(h, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			b = append(b, v.Segment.Value(src)...)
			if v.SoftLineBreak() || v.HardLineBreak() {
				b = append(b, ' ')
			}
		case *ast.String:
			b = append(b, v.Value...)
		case *ast.AutoLink:
			b = append(b, v.Label(src)...)
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	// GitHub slugs the displayed text, with entities and escapes decoded.
	b = util.UnescapePunctuations(util.ResolveNumericReferences(util.ResolveEntityNames(b)))
	return strings.TrimSpace(string(b))
}

func lineStart(src []byte, pos int) int {
	return bytes.LastIndexByte(src[:pos], '\n') + 1
}

func lineEnd(src []byte, pos int) int {
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(src)
}

var setextUnderline = regexp.MustCompile(`^[ \t]*(?:=+|-+)[ \t]*(?:\r?\n|$)`)

func trimSetextUnderline(body string) string {
	return setextUnderline.ReplaceAllString(body, "")
}

var linkDefinition = regexp.MustCompile(`(?m)^ {0,3}\[[^\[\]]*\] *:.*(?:\r?\n|$)`)

func stripLinkDefinitions(body string) string {
	return linkDefinition.ReplaceAllString(body, "")
}

var versionPattern = regexp.MustCompile(`\[?v?([\w.-]+\.[\w.-]+[a-zA-Z0-9])\]?`)

// findVersion returns the first token of title that is a semantic version,
// as written but without a leading "v".
func findVersion(title string) string {
	for _, m := range versionPattern.FindAllStringSubmatch(title, -1) {
		if _, err := semver.NewVersion(m[1]); err == nil {
			return m[1]
		}
	}
	return ""
}
