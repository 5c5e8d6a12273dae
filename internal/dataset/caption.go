package dataset

import (
	"fmt"
	"strings"

	"github.com/maltedev/jewelry-scraper/internal/harvest"
)

// generateCaption builds a training caption from the listing metadata:
// a base sentence from the category pair and price, the condition when
// known, and a handful of distinguishing words lifted from the title.
func generateCaption(item harvest.Item) string {
	parts := []string{
		fmt.Sprintf("This is a %s style %s priced at $%.2f.",
			item.Subcategory, item.MainCategory, item.Price),
	}

	if item.Condition != "" {
		parts = append(parts, fmt.Sprintf("The item is in %s condition.", item.Condition))
	}

	base := strings.ToLower(parts[0])
	var details []string
	for _, word := range strings.Fields(item.Title) {
		if len(word) <= 3 {
			continue
		}
		if strings.Contains(base, strings.ToLower(word)) {
			continue
		}
		details = append(details, word)
		if len(details) == 5 {
			break
		}
	}
	if len(details) > 0 {
		parts = append(parts, fmt.Sprintf("Notable features include: %s.", strings.Join(details, " ")))
	}

	return strings.Join(parts, " ")
}

// captionWords counts the words of a caption for the length distribution.
func captionWords(caption string) int {
	return len(strings.Fields(caption))
}
