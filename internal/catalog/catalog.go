// Package catalog talks to the app-store catalog sidecar that answers
// searches and detail lookups.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultResults is how many entries a search returns.
const DefaultResults = 10

// ErrNotFound is returned when the catalog has no app with the given id.
var ErrNotFound = errors.New("app not found")

var packageNamePattern = regexp.MustCompile(`(?i)^[a-z][a-z0-9_]*(\.[a-z0-9_]+)+$`)

// Entry is one search result. Index is 1-based.
type Entry struct {
	Title     string
	AppID     string
	Developer string
	Icon      string
	Score     float64
	Index     int
}

// Details describes a single app.
type Details struct {
	AppID     string
	Title     string
	Developer string
	Icon      string
	Installs  string
	Score     float64
}

// Entry converts the details into a single search result at index.
func (d Details) Entry(index int) Entry {
	return Entry{
		Title:     d.Title,
		AppID:     d.AppID,
		Developer: d.Developer,
		Icon:      d.Icon,
		Score:     d.Score,
		Index:     index,
	}
}

// Source is the catalog surface the bot needs.
type Source interface {
	Search(ctx context.Context, term string, n int) ([]Entry, error)
	Details(ctx context.Context, appID string) (Details, error)
}

// IsPackageName reports whether text looks like an Android package id.
func IsPackageName(text string) bool {
	return packageNamePattern.MatchString(strings.TrimSpace(text))
}

// Find resolves user text into entries. Package ids are looked up directly
// first; any failure there falls back to a free-text search.
func Find(ctx context.Context, src Source, text string) ([]Entry, error) {
	text = strings.TrimSpace(text)
	if IsPackageName(text) {
		details, err := src.Details(ctx, text)
		if err == nil {
			return []Entry{details.Entry(1)}, nil
		}
	}

	entries, err := src.Search(ctx, text, DefaultResults)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", text, err)
	}
	return entries, nil
}
