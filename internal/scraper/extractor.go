// Package scraper walks search result pages for each selected category
// pair, extracts listings and hands harvested items to the store.
package scraper

import (
	"errors"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrLayoutNotRecognized means the page rendered but the expected results
// markup is missing, so extraction cannot proceed on this subcategory.
var ErrLayoutNotRecognized = errors.New("results layout not recognized")

// Listing is one extracted search result.
type Listing struct {
	Title     string
	Price     float64
	URL       string
	ImageURL  string
	Condition string
}

// extractListings parses a rendered search results page. Cards missing a
// title, link or image are dropped; placeholder and promo cards are not
// real listings and are skipped.
func extractListings(html string) ([]Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	results := doc.Find("ul.srp-results, .srp-river-results")
	if results.Length() == 0 {
		return nil, ErrLayoutNotRecognized
	}

	var listings []Listing
	results.Find("li.s-item").Each(func(_ int, card *goquery.Selection) {
		if card.HasClass("s-item--placeholder") {
			return
		}

		title := strings.TrimSpace(card.Find(".s-item__title").First().Text())
		if title == "" || strings.EqualFold(title, "Shop on eBay") {
			return
		}

		link, ok := card.Find("a.s-item__link").First().Attr("href")
		if !ok || link == "" {
			return
		}

		imageURL, ok := card.Find(".s-item__image img").First().Attr("src")
		if !ok || imageURL == "" {
			return
		}

		price, ok := parsePrice(card.Find(".s-item__price").First().Text())
		if !ok {
			return
		}

		listings = append(listings, Listing{
			Title:     title,
			Price:     price,
			URL:       link,
			ImageURL:  imageURL,
			Condition: strings.TrimSpace(card.Find(".SECONDARY_INFO").First().Text()),
		})
	})

	return listings, nil
}

// parsePrice reads a price label like "$24.99", "$1,299.00" or the range
// form "$10.00 to $25.00", which resolves to its lower bound.
func parsePrice(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	if idx := strings.Index(strings.ToLower(text), " to "); idx >= 0 {
		text = text[:idx]
	}

	text = strings.TrimPrefix(strings.TrimSpace(text), "$")
	text = strings.ReplaceAll(text, ",", "")

	end := 0
	for end < len(text) && (text[end] >= '0' && text[end] <= '9' || text[end] == '.') {
		end++
	}
	if end == 0 {
		return 0, false
	}

	value, err := strconv.ParseFloat(text[:end], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
