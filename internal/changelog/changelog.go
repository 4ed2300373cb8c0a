// Package changelog turns a Markdown changelog into the releases it
// describes and the issues each release references.
package changelog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Issue is a numbered issue or pull request in the repository's tracker.
type Issue struct {
	Number int
}

func (i Issue) String() string {
	return fmt.Sprintf("#%d", i.Number)
}

// Release is one version section of a changelog.
type Release struct {
	// Name is the section's semantic version when it has one, otherwise its
	// title (e.g. "[Unreleased]").
	Name string
	// Heading is the rendered heading text, the input to Anchor.
	Heading string
	// Issues lists the referenced issues without duplicates, in order of
	// first appearance.
	Issues []Issue
}

// Unreleased reports whether the release is the not-yet-shipped section.
func (r Release) Unreleased() bool {
	return strings.Contains(strings.ToLower(r.Name), "unreleased")
}

// ChangeLog holds the releases of a document in document order, newest
// first for conventionally written changelogs.
type ChangeLog struct {
	Releases []Release
}

// Parser builds ChangeLogs from raw documents.
type Parser struct {
	tokenizer Tokenizer
}

// NewParser returns a Parser backed by the given tokenizer, or by the
// Markdown tokenizer when tok is nil.
func NewParser(tok Tokenizer) *Parser {
	if tok == nil {
		tok = NewMarkdownTokenizer()
	}
	return &Parser{tokenizer: tok}
}

var defaultParser = NewParser(nil)

// Parse reads doc with the Markdown tokenizer. See Parser.Parse.
func Parse(ctx context.Context, doc string) ChangeLog {
	return defaultParser.Parse(ctx, doc)
}

// Parse tokenizes doc into version blocks and collects the issues each
// block references. A document the tokenizer rejects yields an empty
// ChangeLog; the failure is logged, never returned, so a broken changelog
// cannot fail the event that triggered the parse.
func (p *Parser) Parse(ctx context.Context, doc string) ChangeLog {
	blocks, err := p.tokenize(ctx, doc)
	if err != nil {
		slog.Warn("unable to parse changelog", "error", err)
		return ChangeLog{Releases: []Release{}}
	}

	releases := make([]Release, 0, len(blocks))
	for _, b := range blocks {
		name := b.Version
		if name == "" {
			name = b.Title
		}
		releases = append(releases, Release{
			Name:    name,
			Heading: b.Title,
			Issues:  ExtractIssues(b.Body),
		})
	}
	return ChangeLog{Releases: releases}
}

func (p *Parser) tokenize(ctx context.Context, doc string) (blocks []Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			blocks, err = nil, fmt.Errorf("tokenizer panic: %v", r)
		}
	}()
	return p.tokenizer.Tokenize(ctx, doc)
}
