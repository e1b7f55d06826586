package novel

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func parseHTML(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// ParseStatus maps the announcement text of a novel page to a Status.
func ParseStatus(announce string) Status {
	switch {
	case strings.Contains(announce, "連載中"), strings.Contains(announce, "未完結"):
		return StatusOngoing
	case strings.Contains(announce, "更新されていません"):
		return StatusOnHiatus
	case strings.Contains(announce, "完結"):
		return StatusCompleted
	default:
		return StatusUnknown
	}
}

func parseNovelMeta(doc *goquery.Document, path string) *Novel {
	novel := &Novel{
		Path:   path,
		Name:   strings.TrimSpace(doc.Find(".p-novel__title").First().Text()),
		Author: strings.TrimSpace(strings.Replace(doc.Find(".p-novel__author").First().Text(), "作者：", "", 1)),
		Status: ParseStatus(doc.Find(".c-announce").Text()),
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		novel.Genres = strings.Fields(desc)
	}
	novel.Summary, _ = doc.Find("#novel_ex").First().Html()
	return novel
}

func hasChapterBody(doc *goquery.Document) bool {
	return doc.Find(".p-novel__body .p-novel__text").Length() > 0 || doc.Find("#novel_honbun").Length() > 0
}

// firstHTML returns the inner HTML of the first selector that matches with
// non-empty content.
func firstHTML(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		html, err := doc.Find(selector).First().Html()
		if err == nil && strings.TrimSpace(html) != "" {
			return html
		}
	}
	return ""
}

// ExtractChapters reads the chapter rows of one chapter list page. Links on
// the novel domain are reduced to their path.
func (s *Site) ExtractChapters(body []byte) ([]Chapter, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	chapters := []Chapter{}
	doc.Find(".p-eplist__sublist, .episode_list, .chapter-list").Each(func(_ int, row *goquery.Selection) {
		a := row.Find("a").First()
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		chapters = append(chapters, Chapter{
			Name:        strings.TrimSpace(a.Text()),
			Path:        s.trimDomain(href),
			ReleaseTime: releaseDate(row),
		})
	})
	return chapters, nil
}

// releaseDate returns the date part of the update stamp ("2024/01/05 10:00"
// becomes "2024-01-05").
func releaseDate(row *goquery.Selection) string {
	for _, selector := range []string{".p-eplist__update", ".date"} {
		fields := strings.Fields(row.Find(selector).Text())
		if len(fields) > 0 {
			return strings.ReplaceAll(fields[0], "/", "-")
		}
	}
	return ""
}

func (s *Site) trimDomain(href string) string {
	return strings.TrimPrefix(href, s.novelDomain)
}
