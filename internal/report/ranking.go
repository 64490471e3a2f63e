package report

import (
	"fmt"
	"sort"
	"strconv"
)

// rankItems assigns tie-aware ranks to item rows. Rows are ordered by
// percentage descending with ties broken by ascending question number; a tied
// group spanning ranks [r, r+k-1] shares the label "r-(r+k-1)" and the same
// set of rank numbers. The returned slice is in question-number order.
func rankItems(items []ItemRow) []ItemRow {
	if len(items) == 0 {
		return items
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := items[order[a]], items[order[b]]
		if ia.Percentage != ib.Percentage {
			return ia.Percentage > ib.Percentage
		}
		return ia.QuestionNumber < ib.QuestionNumber
	})

	for start := 0; start < len(order); {
		end := start
		for end < len(order) && items[order[end]].Percentage == items[order[start]].Percentage {
			end++
		}

		firstRank := start + 1
		lastRank := end
		label := strconv.Itoa(firstRank)
		if lastRank > firstRank {
			label = fmt.Sprintf("%d-%d", firstRank, lastRank)
		}
		for pos := start; pos < end; pos++ {
			numbers := make([]int, 0, lastRank-firstRank+1)
			for r := firstRank; r <= lastRank; r++ {
				numbers = append(numbers, r)
			}
			items[order[pos]].RankLabel = label
			items[order[pos]].RankNumbers = numbers
		}
		start = end
	}

	sort.Slice(items, func(i, j int) bool { return items[i].QuestionNumber < items[j].QuestionNumber })
	return items
}
