package fetch

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"gleaner/internal/textutil"
)

// Document is the metadata and readable text extracted from a page.
type Document struct {
	Title       string
	Description string
	Text        string
	PublishedAt string
	Author      string
	SiteName    string
	ImageURL    string
}

// Patch returns the non-empty fields keyed by payload name.
func (d Document) Patch() map[string]any {
	patch := make(map[string]any, 7)
	set := func(key, value string) {
		if value != "" {
			patch[key] = value
		}
	}
	set("title", d.Title)
	set("description", d.Description)
	set("text", d.Text)
	set("published_at", d.PublishedAt)
	set("author", d.Author)
	set("site_name", d.SiteName)
	set("image_url", d.ImageURL)
	return patch
}

// Parse extracts document metadata with goquery and the readable body with
// readability. Page metadata wins over readability's guesses.
func Parse(data []byte, pageURL string) Document {
	var doc Document
	if gq, err := goquery.NewDocumentFromReader(bytes.NewReader(data)); err == nil {
		doc.Title = textutil.FirstNonEmpty(
			metaContent(gq, "og:title", "twitter:title"),
			gq.Find("title").First().Text(),
			gq.Find("h1").First().Text(),
		)
		doc.Description = metaContent(gq, "description", "og:description", "twitter:description")
		doc.ImageURL = metaContent(gq, "og:image", "twitter:image")
		doc.SiteName = metaContent(gq, "og:site_name")
		doc.Author = metaContent(gq, "author", "article:author")
		doc.PublishedAt = textutil.FirstNonEmpty(
			metaContent(gq, "article:published_time", "date", "pubdate"),
			attr(gq.Find("time[datetime]").First(), "datetime"),
		)
	}

	parsedURL, _ := url.Parse(pageURL)
	if article, err := readability.FromReader(bytes.NewReader(data), parsedURL); err == nil {
		doc.Text = textutil.CleanLines(article.TextContent)
		doc.Title = textutil.FirstNonEmpty(doc.Title, article.Title)
		doc.Description = textutil.FirstNonEmpty(doc.Description, article.Excerpt)
		doc.SiteName = textutil.FirstNonEmpty(doc.SiteName, article.SiteName)
		doc.Author = textutil.FirstNonEmpty(doc.Author, article.Byline)
		doc.ImageURL = textutil.FirstNonEmpty(doc.ImageURL, article.Image)
	}

	doc.Title = textutil.StripHTML(doc.Title)
	doc.Description = textutil.StripHTML(doc.Description)
	doc.Author = textutil.StripHTML(doc.Author)
	doc.SiteName = textutil.StripHTML(doc.SiteName)
	doc.ImageURL = resolveRef(parsedURL, doc.ImageURL)
	return doc
}

func metaContent(doc *goquery.Document, names ...string) string {
	for _, name := range names {
		sel := doc.Find(`meta[property="` + name + `"], meta[name="` + name + `"]`).First()
		if value := attr(sel, "content"); value != "" {
			return value
		}
	}
	return ""
}

func attr(sel *goquery.Selection, name string) string {
	value, ok := sel.Attr(name)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}
