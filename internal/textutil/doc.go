// Package textutil holds the text cleanup shared by intake and the
// enrichment steps: stripping markup from scraped or generated text,
// folding strings for case-insensitive matching, and building tag slugs.
package textutil
