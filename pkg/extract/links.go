package extract

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IntermediateLinks returns the distinct links on a seed page that point at an intermediate host.
// Two scans feed the result: absolute http(s) URL tokens anywhere in the text, and <a href> values.
// Links are returned in first-seen order, but callers must treat the result as a set.
// goquery decodes entities in href values while the token scan sees raw markup, so links are
// compared in decoded form and the first spelling seen is kept.
func (e *Extractor) IntermediateLinks(page string) []string {
	seen := make(map[string]struct{})
	var links []string
	add := func(link string) {
		if link == "" || !e.IsIntermediate(link) {
			return
		}
		key := html.UnescapeString(link)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		links = append(links, link)
	}

	for _, token := range urlTokenRegex.FindAllString(page, -1) {
		add(token)
	}
	for _, href := range e.anchorHrefs(page) {
		add(href)
	}
	return links
}

// anchorHrefs lists <a href> values. goquery does the tokenizing; if the document cannot be
// parsed at all, a regex scan over the raw markup is used instead.
func (e *Extractor) anchorHrefs(page string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		if e.log != nil {
			e.log.WithError(err).Debug("HTML parse failed, falling back to regex anchor scan")
		}
		return regexAnchorHrefs(page)
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

func regexAnchorHrefs(page string) []string {
	matches := anchorRegex.FindAllStringSubmatch(page, -1)
	hrefs := make([]string, 0, len(matches))
	for _, m := range matches {
		hrefs = append(hrefs, m[1])
	}
	return hrefs
}
