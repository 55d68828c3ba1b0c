package dialogue

import (
	"testing"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

func TestPickProportionalBucketEqualWeightsAlternate(t *testing.T) {
	buckets := []models.ProportionalBucket{
		{Content: "group-a", Weight: 1},
		{Content: "group-b", Weight: 1},
	}
	counts := []int{0, 0}
	for n := 0; n < 10; n++ {
		pick := PickProportionalBucket(buckets, counts)
		counts[pick]++
	}
	if counts[0] != 5 || counts[1] != 5 {
		t.Errorf("Expected a 5/5 split over 10 picks, got %v", counts)
	}
}

func TestPickProportionalBucketWeighted(t *testing.T) {
	buckets := []models.ProportionalBucket{
		{Content: "heavy", Weight: 3},
		{Content: "light", Weight: 1},
	}
	counts := []int{0, 0}
	for n := 0; n < 40; n++ {
		pick := PickProportionalBucket(buckets, counts)
		counts[pick]++
	}
	if counts[0] != 30 || counts[1] != 10 {
		t.Errorf("Expected a 30/10 split over 40 picks, got %v", counts)
	}
}

func TestPickProportionalBucketTieGoesToFirst(t *testing.T) {
	buckets := []models.ProportionalBucket{
		{Content: "a", Weight: 1},
		{Content: "b", Weight: 1},
	}
	if pick := PickProportionalBucket(buckets, []int{0, 0}); pick != 0 {
		t.Errorf("Expected the first bucket on a tie, got %d", pick)
	}
}

func TestPickProportionalBucketCatchesUp(t *testing.T) {
	buckets := []models.ProportionalBucket{
		{Content: "a", Weight: 1},
		{Content: "b", Weight: 1},
	}
	// b is far behind; it must win until balanced.
	counts := []int{5, 0}
	for n := 0; n < 5; n++ {
		pick := PickProportionalBucket(buckets, counts)
		if pick != 1 {
			t.Fatalf("Pick %d: expected lagging bucket to win, got %d (counts %v)", n, pick, counts)
		}
		counts[pick]++
	}
}

func TestPickProportionalBucketEmpty(t *testing.T) {
	if pick := PickProportionalBucket(nil, nil); pick != -1 {
		t.Errorf("Expected -1 for no buckets, got %d", pick)
	}
}
