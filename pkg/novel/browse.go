package novel

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Ranking periods.
const (
	RankingDaily   = "daily"
	RankingWeekly  = "weekly"
	RankingMonthly = "monthly"
	RankingQuarter = "quarter"
	RankingYearly  = "yearly"
	RankingTotal   = "total"
)

// Ranking modifiers.
const (
	ModifierAll       = "total"
	ModifierOngoing   = "r"
	ModifierCompleted = "er"
	ModifierShort     = "t"
)

// MaxSearchPage is the last search result page the site serves.
const MaxSearchPage = 100

// Filters selects a ranking list.
type Filters struct {
	// Ranking is the ranking period.
	Ranking string

	// Genre is a genre code; empty means all genres. Single-character codes
	// select the isekai lists.
	Genre string

	// Modifier narrows by publication state.
	Modifier string
}

// DefaultFilters returns the all-time ranking over all genres.
func DefaultFilters() Filters {
	return Filters{Ranking: RankingTotal, Modifier: ModifierAll}
}

// SearchURL returns the search page URL for page. Pages outside
// 1..MaxSearchPage request page 1.
func (s *Site) SearchURL(page int) string {
	if page <= 1 || page > MaxSearchPage {
		page = 1
	}
	return fmt.Sprintf("%s/search/search/search.php?order=hyoka&p=%d", s.site, page)
}

// RankingURL returns the ranking page URL for filters and page.
func (s *Site) RankingURL(page int, f Filters) string {
	if f.Ranking == "" {
		f.Ranking = RankingTotal
	}
	if f.Modifier == "" {
		f.Modifier = ModifierAll
	}
	if f.Genre == "" {
		return fmt.Sprintf("%s/rank/list/type/%s_%s/?p=%d", s.site, f.Ranking, f.Modifier, page)
	}

	list := "genrelist"
	if len(f.Genre) == 1 {
		list = "isekailist"
	}
	kind := f.Ranking + "_" + f.Genre
	if f.Modifier != ModifierAll {
		kind += "_" + f.Modifier
	}
	return fmt.Sprintf("%s/rank/%s/type/%s/?p=%d", s.site, list, kind, page)
}

// SearchNovels returns the novels on one search result page for term.
func (s *Site) SearchNovels(ctx context.Context, term string, page int) ([]Item, error) {
	searchURL := s.SearchURL(page) + "&word=" + url.QueryEscape(term)
	body, err := s.fetcher.FetchPage(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	const containers = ".searchkekka_box, .search-result"
	items := []Item{}
	doc.Find(containers + ", .novel_h").Each(func(_ int, e *goquery.Selection) {
		title := e.Find(".novel_h").First()
		if title.Length() == 0 {
			title = e.Find(".title").First()
		}
		if title.Length() == 0 && e.Is(".novel_h") {
			// bare title rows; rows inside a container are read with it
			if e.ParentsFiltered(containers).Length() > 0 {
				return
			}
			title = e
		}
		if title.Length() == 0 {
			return
		}

		href, ok := title.Children().First().Attr("href")
		if !ok {
			href, ok = title.Attr("href")
		}
		if !ok || href == "" {
			return
		}
		name := strings.TrimSpace(title.Text())
		if name == "" {
			name = strings.TrimSpace(e.Find("a").First().Text())
		}
		items = append(items, Item{Name: name, Path: s.trimDomain(href)})
	})
	return items, nil
}

// PopularNovels returns the novels on one ranking page. A page past the end
// of the ranking yields no items.
func (s *Site) PopularNovels(ctx context.Context, page int, f Filters) ([]Item, error) {
	body, err := s.fetcher.FetchPage(ctx, s.RankingURL(page, f))
	if err != nil {
		return nil, fmt.Errorf("ranking page %d: %w", page, err)
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil, fmt.Errorf("parse ranking page: %w", err)
	}

	current := 1
	if n, err := strconv.Atoi(strings.TrimSpace(doc.Find(".is-current").First().Text())); err == nil {
		current = n
	}
	if current != page {
		return []Item{}, nil
	}

	items := []Item{}
	doc.Find(".c-card, .p-ranklist-item").Each(func(_ int, e *goquery.Selection) {
		anchor := e.Find(".p-ranklist-item__title a, a").First()
		href, ok := anchor.Attr("href")
		if !ok || href == "" {
			return
		}
		name := strings.TrimSpace(anchor.Text())
		if name == "" {
			name = strings.TrimSpace(e.Find(".title").Text())
		}
		items = append(items, Item{Name: name, Path: s.trimDomain(href)})
	})
	return items, nil
}
