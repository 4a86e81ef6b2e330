package extract

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestExtractor() *Extractor {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := config.PipelineConfig{
		IntermediatePatterns: config.DefaultIntermediatePatterns,
		TargetPatterns:       config.DefaultTargetPatterns,
	}
	return New(cfg, logrus.NewEntry(log), WithClock(func() time.Time { return fixedNow }))
}

func TestIntermediateLinks(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		name     string
		html     string
		expected []string
	}{
		{
			name:     "anchor and bare token",
			html:     `<a href="https://nexdrive.pro/p1">x</a> https://mega.nz/f/abc`,
			expected: []string{"https://nexdrive.pro/p1", "https://mega.nz/f/abc"},
		},
		{
			name:     "duplicates collapse",
			html:     `https://gofile.io/d/1 <a href='https://gofile.io/d/1'>a</a> https://gofile.io/d/1`,
			expected: []string{"https://gofile.io/d/1"},
		},
		{
			name:     "non matching hosts dropped",
			html:     `<a href="https://example.com/x">x</a> https://vcloud.zip/abc http://mega.nz/f/insecure`,
			expected: nil,
		},
		{
			name:     "relative hrefs ignored",
			html:     `<a href="/nexdrive.pro/p1">x</a>`,
			expected: nil,
		},
		{
			name:     "token stops at quote and paren",
			html:     `see (https://dropbox.com/s/abc) and "https://mega.nz/f/q"`,
			expected: []string{"https://dropbox.com/s/abc", "https://mega.nz/f/q"},
		},
		{
			name:     "entity encoded href counted once",
			html:     `<a href="https://nexdrive.pro/p?id=1&amp;s=2">dl</a>`,
			expected: []string{"https://nexdrive.pro/p?id=1&amp;s=2"},
		},
		{
			name:     "raw and encoded spellings collapse",
			html:     `https://nexdrive.pro/p?id=1&s=2 <a href="https://nexdrive.pro/p?id=1&amp;s=2">dl</a>`,
			expected: []string{"https://nexdrive.pro/p?id=1&s=2"},
		},
		{
			name:     "empty",
			html:     "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.IntermediateLinks(tt.html)
			assert.ElementsMatch(t, tt.expected, got)
		})
	}
}

func TestTargetRecords_Scenario(t *testing.T) {
	e := newTestExtractor()
	recs := e.TargetRecords(`<title>Movie &#8211; 2024</title> https://vcloud.zip/file/xyz`)

	require.Len(t, recs, 1)
	assert.Equal(t, "Movie - 2024", recs[0].Title)
	assert.Equal(t, "https://vcloud.zip/file/xyz", recs[0].URL)
	assert.Equal(t, "2024-01-02T03:04:05.000Z", recs[0].Timestamp)
}

func TestTargetRecords(t *testing.T) {
	e := newTestExtractor()

	t.Run("one record per token in document order", func(t *testing.T) {
		html := `<html><head><TITLE lang="en">  Some   Show
		S01 </TITLE></head><body>
		<a href="https://vcloud.zip/b">b</a> https://vcloud.zip/a https://vcloud.zip/b
		https://other.host/x</body></html>`
		recs := e.TargetRecords(html)

		require.Len(t, recs, 3)
		assert.Equal(t, []string{"https://vcloud.zip/b", "https://vcloud.zip/a", "https://vcloud.zip/b"},
			[]string{recs[0].URL, recs[1].URL, recs[2].URL})
		for _, r := range recs {
			assert.Equal(t, "Some Show S01", r.Title)
		}
	})

	t.Run("missing title uses sentinel", func(t *testing.T) {
		recs := e.TargetRecords(`https://vcloud.zip/x`)
		require.Len(t, recs, 1)
		assert.Equal(t, models.NoTitle, recs[0].Title)
	})

	t.Run("fallback page yields nothing", func(t *testing.T) {
		assert.Empty(t, e.TargetRecords(models.FallbackPageBody))
	})

	t.Run("idempotent apart from timestamp", func(t *testing.T) {
		html := `<title>A &amp; B</title> https://vcloud.zip/1 https://vcloud.zip/2`
		assert.Equal(t, e.TargetRecords(html), e.TargetRecords(html))
	})
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{"simple", "<title>Hello</title>", "Hello"},
		{"first match wins", "<title>One</title><title>Two</title>", "One"},
		{"empty element", "<title></title>", models.NoTitle},
		{"whitespace only", "<title>   </title>", ""},
		{"nbsp only", "<title>&nbsp;&nbsp;</title>", ""},
		{"no title", "<p>nothing</p>", models.NoTitle},
		{"case insensitive", "<TiTlE>Mixed</tItLe>", "Mixed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Title(tt.html))
		})
	}
}

func TestDecodeTitle(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"Movie &#8211; 2024", "Movie - 2024"},
		{"Don&#8217;t", "Don't"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"a&nbsp;&nbsp;b", "a b"},
		{"&lt;tag&gt;", "<tag>"},
		{"&quot;q&quot;", `"q"`},
		{"&amp;lt;", "<"}, // entities are decoded in sequence
		{"&copy; kept", "&copy; kept"},
		{"  spaced\t\nout  ", "spaced out"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, DecodeTitle(tt.raw), "raw %q", tt.raw)
	}
}

func TestRestamp(t *testing.T) {
	e := newTestExtractor()
	old := []models.TargetRecord{{Title: "T", URL: "https://vcloud.zip/1", Timestamp: "old"}}

	got := e.Restamp(old)
	require.Len(t, got, 1)
	assert.Equal(t, "T", got[0].Title)
	assert.Equal(t, "2024-01-02T03:04:05.000Z", got[0].Timestamp)
	assert.Equal(t, "old", old[0].Timestamp, "input must not be modified")
	assert.Nil(t, e.Restamp(nil))
}

func TestExtractors_Total(t *testing.T) {
	e := newTestExtractor()
	inputs := []string{
		"",
		"<",
		"<<<<>>>>",
		"<a href=",
		`<a href="https://nexdrive.pro/`,
		"<title>",
		"</title><title",
		strings.Repeat("<div>", 5000),
		"\x00\xff\xfe https://vcloud.zip/\x00",
		"https://",
		"<script>https://mega.nz/f/in-script</script>",
		strings.Repeat("https://gofile.io/", 1000),
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			e.IntermediateLinks(in)
			e.TargetRecords(in)
		})
	}
}

func TestRegexAnchorHrefs(t *testing.T) {
	got := regexAnchorHrefs(`<A class="x" HREF='https://mega.nz/1'>a</A><a href="https://gofile.io/2">`)
	assert.Equal(t, []string{"https://mega.nz/1", "https://gofile.io/2"}, got)
}
