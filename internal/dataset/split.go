package dataset

import (
	"math"
	"math/rand"
	"sort"

	"github.com/maltedev/jewelry-scraper/internal/harvest"
)

// Split holds the train/validation partition of the harvest.
type Split struct {
	Train []harvest.Item
	Val   []harvest.Item
}

// stratifiedSplit partitions items per (category, subcategory) group so no
// subcategory ends up train-only. Groups are processed in sorted order and
// shuffled with the provided source, so a fixed seed yields a fixed split.
func stratifiedSplit(items []harvest.Item, trainRatio float64, rng *rand.Rand) Split {
	groups := make(map[string][]harvest.Item)
	for _, item := range items {
		key := item.MainCategory + "/" + item.Subcategory
		groups[key] = append(groups[key], item)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var split Split
	for _, key := range keys {
		group := groups[key]
		rng.Shuffle(len(group), func(i, j int) {
			group[i], group[j] = group[j], group[i]
		})

		trainCount := int(math.Round(float64(len(group)) * trainRatio))
		// A group of two or more always contributes at least one sample to
		// each side.
		if len(group) >= 2 {
			if trainCount == len(group) {
				trainCount = len(group) - 1
			}
			if trainCount == 0 {
				trainCount = 1
			}
		}

		split.Train = append(split.Train, group[:trainCount]...)
		split.Val = append(split.Val, group[trainCount:]...)
	}

	return split
}
