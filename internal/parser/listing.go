// Package parser extracts listing items, pagination links and document bodies
// from the source site's markup.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

// Selectors names the CSS selectors for the one listing pattern and the one
// content-page pattern the pipeline understands.
type Selectors struct {
	Article    string `mapstructure:"article"`
	ArticleURL string `mapstructure:"article_url"`
	Title      string `mapstructure:"title"`
	Pagination string `mapstructure:"pagination"`
	Body       string `mapstructure:"body"`
	Date       string `mapstructure:"date"`
}

// DefaultSelectors matches the WordPress block theme used by the source site.
func DefaultSelectors() Selectors {
	return Selectors{
		Article:    ".post",
		ArticleURL: "h2 a[href]",
		Title:      ".wp-block-post-title",
		Pagination: ".page-numbers",
		Body:       "div.entry-content",
		Date:       "div.wp-block-post-date time[datetime]",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.Article == "" {
		s.Article = d.Article
	}
	if s.ArticleURL == "" {
		s.ArticleURL = d.ArticleURL
	}
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.Pagination == "" {
		s.Pagination = d.Pagination
	}
	if s.Body == "" {
		s.Body = d.Body
	}
	if s.Date == "" {
		s.Date = d.Date
	}
	return s
}

// Parser turns raw markup into listing and content values.
type Parser struct {
	sel Selectors
}

// New builds a Parser; empty selector fields fall back to DefaultSelectors.
func New(sel Selectors) *Parser {
	return &Parser{sel: sel.withDefaults()}
}

// ParseListing extracts (permalink, title) pairs in page order and the
// deduplicated pagination links. Links pointing at "#" or at rootURL are
// dropped; relative links are resolved against pageURL.
func (p *Parser) ParseListing(markup []byte, pageURL, rootURL string) (crawler.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return crawler.Listing{}, &crawler.ParseError{URL: pageURL, Err: err}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.Listing{}, &crawler.ParseError{URL: pageURL, Err: fmt.Errorf("page url: %w", err)}
	}

	var listing crawler.Listing
	doc.Find(p.sel.Article).Each(func(_ int, article *goquery.Selection) {
		href, ok := article.Find(p.sel.ArticleURL).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		link, err := crawler.ResolveURL(base, href)
		if err != nil {
			return
		}
		title := strings.TrimSpace(article.Find(p.sel.Title).First().Text())
		listing.Items = append(listing.Items, crawler.ListingItem{URL: link, Title: collapseSpaces(title)})
	})

	seen := make(map[string]struct{})
	doc.Find(p.sel.Pagination).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || href == "#" {
			return
		}
		link, err := crawler.ResolveURL(base, href)
		if err != nil || crawler.SameURL(link, rootURL) {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		listing.Pagination = append(listing.Pagination, link)
	})

	return listing, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
