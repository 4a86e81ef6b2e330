package extract

import (
	"strings"

	"github.com/vcloud-bot/vcloud-bot/pkg/models"
)

// Entities decoded in titles, applied in this order. Anything else is left as-is.
var titleEntities = [][2]string{
	{"&#8211;", "-"},
	{"&#8217;", "'"},
	{"&amp;", "&"},
	{"&nbsp;", " "},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
}

// Title returns the decoded text of the first non-empty <title> element, or models.NoTitle when
// there is none. A title holding only whitespace decodes to "".
func Title(html string) string {
	m := titleRegex.FindStringSubmatch(html)
	if m == nil {
		return models.NoTitle
	}
	return DecodeTitle(m[1])
}

// DecodeTitle resolves the fixed entity set, collapses runs of whitespace and trims
func DecodeTitle(raw string) string {
	s := strings.TrimSpace(raw)
	for _, e := range titleEntities {
		s = strings.ReplaceAll(s, e[0], e[1])
	}
	return strings.Join(strings.Fields(s), " ")
}

// TargetRecords returns one record per target-host URL token on an intermediate page, in document
// order. Every record carries the page title and the same timestamp.
func (e *Extractor) TargetRecords(html string) []models.TargetRecord {
	var records []models.TargetRecord
	var title string
	now := e.now()

	for _, token := range urlTokenRegex.FindAllString(html, -1) {
		if !e.IsTarget(token) {
			continue
		}
		if records == nil {
			title = Title(html)
		}
		records = append(records, models.NewTargetRecord(title, token, now))
	}
	return records
}

// Restamp copies cached records with a fresh timestamp, keeping titles and URLs
func (e *Extractor) Restamp(records []models.TargetRecord) []models.TargetRecord {
	if len(records) == 0 {
		return nil
	}
	now := e.now()
	out := make([]models.TargetRecord, len(records))
	for i, r := range records {
		out[i] = models.NewTargetRecord(r.Title, r.URL, now)
	}
	return out
}
