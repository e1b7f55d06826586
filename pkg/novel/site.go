// Package novel is the site adapter for the Nocturne novel site. It reads
// novel metadata, chapter lists and chapter text through the gated client,
// collecting multi-page chapter lists with the pagination collector.
package novel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gatefetch/pkg/logging"
	"github.com/Sternrassler/gatefetch/pkg/pagination"
)

// Default site endpoints.
const (
	DefaultSite        = "https://noc.syosetu.com"
	DefaultNovelDomain = "https://novel18.syosetu.com"
)

// ErrNoChapterContent is returned when a chapter page has no body text.
var ErrNoChapterContent = errors.New("failed to parse chapter content")

// Status is the publication status of a novel.
type Status string

const (
	StatusUnknown   Status = "Unknown"
	StatusOngoing   Status = "Ongoing"
	StatusOnHiatus  Status = "On Hiatus"
	StatusCompleted Status = "Completed"
)

// Chapter is one entry of a novel's chapter list.
type Chapter struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	ReleaseTime string `json:"release_time,omitempty"`
}

// Novel is a parsed novel page.
type Novel struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Author   string    `json:"author"`
	Status   Status    `json:"status"`
	Genres   []string  `json:"genres,omitempty"`
	Summary  string    `json:"summary"`
	Chapters []Chapter `json:"chapters"`
}

// Item is a novel listed by search or ranking pages.
type Item struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Config configures a Site.
type Config struct {
	// Site hosts search and ranking pages.
	Site string

	// NovelDomain hosts novel and chapter pages. Paths are relative to it.
	NovelDomain string

	// Collector configures chapter list pagination.
	Collector pagination.Config
}

// DefaultConfig returns the configuration of the live site.
func DefaultConfig() Config {
	return Config{
		Site:        DefaultSite,
		NovelDomain: DefaultNovelDomain,
		Collector:   pagination.DefaultConfig(),
	}
}

// Site reads the novel site through a page fetcher, normally the gated client.
type Site struct {
	fetcher     pagination.PageFetcher
	site        string
	novelDomain string
	chapters    *pagination.Collector[Chapter]
	logger      zerolog.Logger
}

// NewSite creates a site adapter.
func NewSite(fetcher pagination.PageFetcher, cfg Config) (*Site, error) {
	if cfg.Site == "" {
		cfg.Site = DefaultSite
	}
	if cfg.NovelDomain == "" {
		cfg.NovelDomain = DefaultNovelDomain
	}
	s := &Site{
		fetcher:     fetcher,
		site:        strings.TrimRight(cfg.Site, "/"),
		novelDomain: strings.TrimRight(cfg.NovelDomain, "/"),
		logger:      logging.NewLogger(logging.ComponentSite),
	}

	collector, err := pagination.NewCollector(fetcher, pagination.Plan[Chapter]{
		PageURL:   pagination.QueryPage("p"),
		PageCount: pagination.LastPageLink(".c-pager__item--last", ".last"),
		Extract:   s.ExtractChapters,
	}, cfg.Collector)
	if err != nil {
		return nil, fmt.Errorf("create chapter collector: %w", err)
	}
	s.chapters = collector
	return s, nil
}

// SetLogger replaces the logger of the site and its collector.
func (s *Site) SetLogger(logger zerolog.Logger) {
	s.logger = logger
	s.chapters.SetLogger(logger)
}

// ResolveURL returns the absolute URL of a novel or chapter path.
func (s *Site) ResolveURL(path string) string {
	return s.novelDomain + path
}

// ParseNovel reads the novel at path with its complete chapter list.
//
// When some chapter list pages fail, the novel is returned with the chapters
// that were collected together with the *pagination.PartialCollectionError.
func (s *Site) ParseNovel(ctx context.Context, path string) (*Novel, error) {
	novelURL := s.ResolveURL(path)
	body, err := s.fetcher.FetchPage(ctx, novelURL)
	if err != nil {
		return nil, fmt.Errorf("fetch novel %s: %w", path, err)
	}

	doc, err := parseHTML(body)
	if err != nil {
		return nil, fmt.Errorf("parse novel %s: %w", path, err)
	}
	novel := parseNovelMeta(doc, path)

	chapters, collectErr := s.chapters.CollectFrom(ctx, novelURL, body)
	var partial *pagination.PartialCollectionError[Chapter]
	var empty *pagination.NoPagesFoundError
	switch {
	case collectErr == nil:
	case errors.As(collectErr, &partial):
		s.logger.Warn().
			Str("path", path).
			Ints("missing_pages", partial.Missing).
			Bool("cancelled", partial.Cancelled).
			Msg("Chapter list incomplete")
	case errors.As(collectErr, &empty):
		collectErr = nil
	default:
		return nil, fmt.Errorf("collect chapters of %s: %w", path, collectErr)
	}
	novel.Chapters = chapters

	// Single-page novels carry their text on the novel page itself.
	if len(novel.Chapters) == 0 {
		novel.Chapters = []Chapter{}
		if hasChapterBody(doc) {
			novel.Chapters = append(novel.Chapters, Chapter{Name: "Chapter 1", Path: path})
		}
	}

	if collectErr != nil {
		return novel, collectErr
	}
	return novel, nil
}

// ParseChapter returns the chapter at path as "<h1>title</h1>content".
func (s *Site) ParseChapter(ctx context.Context, path string) (string, error) {
	body, err := s.fetcher.FetchPage(ctx, s.ResolveURL(path))
	if err != nil {
		return "", fmt.Errorf("fetch chapter %s: %w", path, err)
	}
	doc, err := parseHTML(body)
	if err != nil {
		return "", fmt.Errorf("parse chapter %s: %w", path, err)
	}

	title := firstHTML(doc, ".p-novel__subtitle", ".p-novel__title")
	if title == "" {
		title = "Chapter 1"
	}
	content := firstHTML(doc, ".p-novel__body .p-novel__text", "#novel_honbun")
	if content == "" {
		return "", fmt.Errorf("%s: %w", path, ErrNoChapterContent)
	}
	return "<h1>" + title + "</h1>" + content, nil
}
