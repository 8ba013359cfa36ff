// Package batch packs opinions into size-bounded classification requests.
package batch

import (
	"unicode/utf8"

	"github.com/xaenox/opinion-topics/internal/models"
)

const (
	// Content is inflated by 13/10 to cover prompt overhead per character.
	inflationNum = 13
	inflationDen = 10
	// FramingCost is the fixed per-opinion cost of numbering and separators.
	FramingCost = 20

	DefaultMaxSizeUnits = 15000
	DefaultMaxCount     = 35
)

type Budget struct {
	MaxSizeUnits int
	MaxCount     int
}

func DefaultBudget() Budget {
	return Budget{MaxSizeUnits: DefaultMaxSizeUnits, MaxCount: DefaultMaxCount}
}

// withDefaults replaces non-positive limits with the defaults.
func (b Budget) withDefaults() Budget {
	if b.MaxSizeUnits <= 0 {
		b.MaxSizeUnits = DefaultMaxSizeUnits
	}
	if b.MaxCount <= 0 {
		b.MaxCount = DefaultMaxCount
	}
	return b
}

// EstimateSize is the budget cost of one opinion.
func EstimateSize(content string) int {
	n := utf8.RuneCountInString(content)
	return (n*inflationNum+inflationDen-1)/inflationDen + FramingCost
}

// Pack splits opinions greedily, in order, into batches that respect the
// budget. An opinion that alone exceeds the size budget still gets a batch
// of its own.
func Pack(opinions []*models.Opinion, budget Budget) [][]*models.Opinion {
	budget = budget.withDefaults()

	var (
		batches [][]*models.Opinion
		current []*models.Opinion
		size    int
	)
	for _, o := range opinions {
		cost := EstimateSize(o.Content)
		if len(current) > 0 && (size+cost > budget.MaxSizeUnits || len(current)+1 > budget.MaxCount) {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, o)
		size += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Size sums the estimated size of a batch.
func Size(batch []*models.Opinion) int {
	total := 0
	for _, o := range batch {
		total += EstimateSize(o.Content)
	}
	return total
}
