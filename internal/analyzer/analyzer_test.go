package analyzer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

func newChecker() *RobotsChecker {
	return NewRobotsChecker("linkvault", 5*time.Second, zap.NewNop())
}

func TestRobotsIgnoredWhenAgentNotMentioned(t *testing.T) {
	t.Parallel()

	content := []byte("User-agent: *\nDisallow: /\n")
	require.False(t, newChecker().DisallowedByContent(content, "https://example.com/page"))
}

func TestRobotsHonoredWhenAgentDisallowed(t *testing.T) {
	t.Parallel()

	content := []byte("User-agent: linkvault\nDisallow: /\n")
	require.True(t, newChecker().DisallowedByContent(content, "https://example.com/page"))
}

func TestRobotsAgentMentionedButAllowed(t *testing.T) {
	t.Parallel()

	content := []byte("User-agent: linkvault\nDisallow: /private/\n")
	checker := newChecker()
	require.False(t, checker.DisallowedByContent(content, "https://example.com/page"))
	require.True(t, checker.DisallowedByContent(content, "https://example.com/private/doc"))
}

func TestRobotsUnreachableNeverBlocks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	require.False(t, newChecker().Disallowed(context.Background(), srv.URL+"/page"))
}

func TestRobotsFetchedFromSiteRoot(t *testing.T) {
	t.Parallel()

	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte("User-agent: linkvault\nDisallow: /\n"))
	}))
	defer srv.Close()

	require.True(t, newChecker().Disallowed(context.Background(), srv.URL+"/deep/page"))
	require.Equal(t, "/robots.txt", path)
}

func TestXRobotsNoarchive(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		directives string
		generic    bool
		want       bool
	}{
		{"empty", "", false, false},
		{"agent scoped", "linkvault: noarchive", false, true},
		{"other agent", "googlebot: noarchive", false, false},
		{"generic ignored by default", "noarchive", false, false},
		{"generic honored when enabled", "noarchive", true, true},
		{"multiple headers joined", "googlebot: nofollow;linkvault: noindex, noarchive", false, true},
		{"malformed best effort", "x: linkvault: noarchive", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, XRobotsNoarchive(tc.directives, "linkvault", tc.generic))
		})
	}
}

func TestJoinXRobotsDirectives(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Add("X-Robots-Tag", "googlebot: nofollow")
	headers.Add("X-Robots-Tag", "linkvault: noarchive\r\n")
	joined := JoinXRobotsDirectives(headers)
	require.Equal(t, "googlebot: nofollow;linkvault: noarchive", joined)
	require.True(t, XRobotsNoarchive(joined, "linkvault", false))
}

const samplePage = `<html><head>
<title> Example Title </title>
<meta name="description" content="A page about things">
<meta name="Robots" content="noarchive">
<link rel="icon" href="/img/icon.png">
<link rel="shortcut icon" href="https://cdn.example.com/fav.ico">
</head><body>
<img src="/a.png" srcset="/a-2x.png 2x, /a-3x.png 3x">
<video src="/movie.mp4"></video>
<source src="relative/audio.ogg">
<object data="/flash.swf" archive="one.jar two.jar" codebase="https://example.com/objects/">
  <param name="movie" value="movie.swf">
</object>
</body></html>`

func TestPageMetadata(t *testing.T) {
	t.Parallel()

	page, err := Parse(samplePage)
	require.NoError(t, err)
	require.Equal(t, "Example Title", page.Title())

	tags := page.MetaTags()
	require.Equal(t, "A page about things", tags["description"])
	require.Equal(t, "noarchive", tags["robots"])
}

func TestFaviconURLOrder(t *testing.T) {
	t.Parallel()

	page, err := Parse(samplePage)
	require.NoError(t, err)
	urls := page.FaviconURLs("https://example.com/page/")
	require.Equal(t, []string{
		"https://example.com/img/icon.png",
		"https://cdn.example.com/fav.ico",
		"https://example.com/favicon.ico",
	}, urls)
}

func TestMediaURLExtraction(t *testing.T) {
	t.Parallel()

	page, err := Parse(samplePage)
	require.NoError(t, err)
	urls := page.MediaURLs("https://example.com/page/")

	require.Contains(t, urls, "https://example.com/a-2x.png")
	require.Contains(t, urls, "https://example.com/a-3x.png")
	require.Contains(t, urls, "https://example.com/a.png")
	require.Contains(t, urls, "https://example.com/movie.mp4")
	require.Contains(t, urls, "https://example.com/page/relative/audio.ogg")
	// object urls resolve against the codebase
	require.Contains(t, urls, "https://example.com/flash.swf")
	require.Contains(t, urls, "https://example.com/objects/one.jar")
	require.Contains(t, urls, "https://example.com/objects/two.jar")
	require.Contains(t, urls, "https://example.com/objects/movie.swf")
}

func TestMetaNoarchive(t *testing.T) {
	t.Parallel()

	tags := map[string]string{"robots": "noarchive"}
	require.False(t, MetaNoarchive(tags, "linkvault", false))
	require.True(t, MetaNoarchive(tags, "linkvault", true))

	agentTags := map[string]string{"linkvault": "NOARCHIVE"}
	require.True(t, MetaNoarchive(agentTags, "linkvault", false))
}

func TestMergeMetadataFirstTitleWins(t *testing.T) {
	t.Parallel()

	meta := capture.PageMetadata{}
	first, err := Parse(`<html><head><title>Original</title></head></html>`)
	require.NoError(t, err)
	MergeMetadata(&meta, first)
	require.Equal(t, "Original", meta.Title)

	second, err := Parse(`<html><head><title>Rewritten</title>` +
		`<meta name="description" content="late description"></head></html>`)
	require.NoError(t, err)
	MergeMetadata(&meta, second)
	require.Equal(t, "Original", meta.Title)
	require.Equal(t, "late description", meta.MetaTags["description"])
}

func TestTruncationLimits(t *testing.T) {
	t.Parallel()

	longDesc := strings.Repeat("d", 400)
	require.Len(t, Description(map[string]string{"description": longDesc}), 300)

	longTitle := strings.Repeat("t", 3000)
	require.Len(t, TitleForLink(longTitle), 2100)
	require.Equal(t, "short", TitleForLink("short"))
}

func TestValidFaviconMIME(t *testing.T) {
	t.Parallel()

	require.True(t, ValidFaviconMIME("image/png"))
	require.True(t, ValidFaviconMIME("image/x-icon; charset=binary"))
	require.False(t, ValidFaviconMIME("text/html"))
	require.False(t, ValidFaviconMIME(""))
}

func TestObjectURLsWithoutCodebase(t *testing.T) {
	t.Parallel()

	page, err := Parse(`<html><body><object data="plain.swf"></object></body></html>`)
	require.NoError(t, err)
	urls := page.MediaURLs("https://example.com/dir/")
	require.Equal(t, []string{"https://example.com/dir/plain.swf"}, urls)
}
