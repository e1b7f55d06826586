package pagination

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultLastPageSelectors match the "last page" pager link of common
// listing layouts.
var DefaultLastPageSelectors = []string{".c-pager__item--last", ".last"}

var pageParam = regexp.MustCompile(`[?&]p=(\d+)`)

// LastPageLink discovers the page count from the href of the first element
// matching one of selectors (DefaultLastPageSelectors when none are given).
// The page number is read from a p query parameter. Pages without such a
// link are single-page listings.
func LastPageLink(selectors ...string) PageCountDiscovery {
	if len(selectors) == 0 {
		selectors = DefaultLastPageSelectors
	}
	return func(body []byte) int {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return 1
		}
		for _, selector := range selectors {
			sel := doc.Find(selector).First()
			if sel.Length() == 0 {
				continue
			}
			href, ok := sel.Attr("href")
			if !ok {
				href, ok = sel.Find("a[href]").First().Attr("href")
			}
			if !ok {
				continue
			}
			if m := pageParam.FindStringSubmatch(href); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
					return n
				}
			}
		}
		return 1
	}
}

// QueryPage builds page URLs by setting the query parameter param.
func QueryPage(param string) PageURLBuilder {
	return func(baseURL string, page int) string {
		u, err := url.Parse(baseURL)
		if err != nil {
			sep := "?"
			if strings.Contains(baseURL, "?") {
				sep = "&"
			}
			return fmt.Sprintf("%s%s%s=%d", baseURL, sep, url.QueryEscape(param), page)
		}
		q := u.Query()
		q.Set(param, strconv.Itoa(page))
		u.RawQuery = q.Encode()
		return u.String()
	}
}
