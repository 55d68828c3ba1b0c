package dialogue

import "github.com/texttochange/vusion-backend-sub000/internal/models"

// PickProportionalBucket selects the bucket for the next assignment given
// the current per-bucket counts. It is a streaming weighted round-robin:
// with N assignments made, the bucket whose fair share of N+1 most exceeds
// its current count wins, the first declared bucket on a tie. The choice is
// deterministic and keeps the split proportional as counts grow without
// bound.
func PickProportionalBucket(buckets []models.ProportionalBucket, counts []int) int {
	if len(buckets) == 0 {
		return -1
	}
	weightTotal := 0
	total := 0
	for idx, b := range buckets {
		weightTotal += b.Weight
		if idx < len(counts) {
			total += counts[idx]
		}
	}
	if weightTotal <= 0 {
		return 0
	}
	best := 0
	bestDeficit := 0
	for idx, b := range buckets {
		count := 0
		if idx < len(counts) {
			count = counts[idx]
		}
		// ceil((total+1) * weight / weightTotal)
		target := ((total+1)*b.Weight + weightTotal - 1) / weightTotal
		deficit := target - count
		if idx == 0 || deficit > bestDeficit {
			best = idx
			bestDeficit = deficit
		}
	}
	return best
}
