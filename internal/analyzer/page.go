package analyzer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page wraps a parsed DOM snapshot for metadata and URL extraction.
type Page struct {
	doc *goquery.Document
}

// Parse builds a Page from serialized HTML.
func Parse(html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom: %w", err)
	}
	return &Page{doc: doc}, nil
}

// Title returns the head title text, empty if absent.
func (p *Page) Title() string {
	return strings.TrimSpace(p.doc.Find("head > title").First().Text())
}

// MetaTags maps lowercased meta tag names to their content attributes.
// Later tags overwrite earlier ones; tags without a name are dropped.
func (p *Page) MetaTags() map[string]string {
	tags := make(map[string]string)
	p.doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name, ok := sel.Attr("name")
		if !ok || name == "" {
			return
		}
		content, _ := sel.Attr("content")
		tags[strings.ToLower(name)] = content
	})
	return tags
}

// FaviconURLs returns candidate favicon URLs, most specific first: link
// tags with an icon rel, then the conventional /favicon.ico. Absolute,
// deduplicated, order preserved.
func (p *Page) FaviconURLs(baseURL string) []string {
	var raw []string
	p.doc.Find("link").Each(func(_ int, sel *goquery.Selection) {
		rel, _ := sel.Attr("rel")
		switch strings.ToLower(rel) {
		case "shortcut icon", "icon":
			if href, ok := sel.Attr("href"); ok && href != "" {
				raw = append(raw, href)
			}
		}
	})
	raw = append(raw, "/favicon.ico")
	return dedupe(makeAbsolute(baseURL, raw))
}

// MediaURLs returns every media resource URL referenced by the DOM that the
// browser may not have fetched on its own: srcset entries, img src,
// video/audio/embed/source src, and object data/archive/param-movie values
// (relative to the object's codebase when present).
func (p *Page) MediaURLs(baseURL string) []string {
	var raw []string

	p.doc.Find("img[srcset], source[srcset]").Each(func(_ int, sel *goquery.Selection) {
		srcset, _ := sel.Attr("srcset")
		for _, entry := range strings.Split(srcset, ",") {
			fields := strings.Fields(strings.TrimSpace(entry))
			if len(fields) > 0 && fields[0] != "" {
				raw = append(raw, fields[0])
			}
		}
	})
	// the browser does not always fetch plain src alongside srcset
	p.doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && src != "" {
			raw = append(raw, src)
		}
	})
	p.doc.Find("video, audio, embed, source").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && strings.TrimSpace(src) != "" {
			raw = append(raw, strings.TrimSpace(src))
		}
	})
	p.doc.Find("object").Each(func(_ int, sel *goquery.Selection) {
		codebase, _ := sel.Attr("codebase")
		var urls []string
		if data, ok := sel.Attr("data"); ok {
			urls = append(urls, data)
		}
		if archive, ok := sel.Attr("archive"); ok {
			urls = append(urls, strings.Fields(archive)...)
		}
		sel.Find(`param[name="movie"]`).Each(func(_ int, param *goquery.Selection) {
			if value, ok := param.Attr("value"); ok {
				urls = append(urls, value)
			}
		})
		for _, u := range urls {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			if codebase != "" {
				u = resolveAgainst(codebase, u)
			}
			raw = append(raw, u)
		}
	})

	return dedupe(makeAbsolute(baseURL, raw))
}

func makeAbsolute(baseURL string, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		resolved := resolveAgainst(baseURL, u)
		if resolved != "" {
			out = append(out, resolved)
		}
	}
	return out
}

func resolveAgainst(baseURL, raw string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
