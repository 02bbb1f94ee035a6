// Package decode turns raw model output tensors into boxes, labels and
// images. Every function here is pure: no engine, no publishing.
package decode

import "sort"

// Box is a decoded detection in pixel coordinates of the camera frame.
type Box struct {
	ClassID   int
	ClassConf float32
	// DetConf is the objectness score, or -1 when the architecture has none.
	DetConf float32
	// Score orders boxes for suppression.
	Score float32
	X, Y  int
	W, H  int
}

// XMax returns the right edge.
func (b Box) XMax() int { return b.X + b.W }

// YMax returns the bottom edge.
func (b Box) YMax() int { return b.Y + b.H }

// IoU returns the intersection-over-union of two boxes.
func IoU(a, b Box) float32 {
	x0 := max(a.X, b.X)
	y0 := max(a.Y, b.Y)
	x1 := min(a.XMax(), b.XMax())
	y1 := min(a.YMax(), b.YMax())
	if x1 < x0 || y1 < y0 {
		return 0
	}

	inter := (x1 - x0) * (y1 - y0)
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

// NMS performs greedy non-max suppression. Boxes are visited in descending
// score order and a box is dropped when its IoU with an already kept box is
// strictly greater than iouThreshold. With perClass set only boxes of the
// same class suppress each other.
func NMS(boxes []Box, iouThreshold float32, perClass bool) []Box {
	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := make([]Box, 0, len(sorted))
	for _, candidate := range sorted {
		suppressed := false
		for _, k := range kept {
			if perClass && k.ClassID != candidate.ClassID {
				continue
			}
			if IoU(k, candidate) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, candidate)
		}
	}
	return kept
}
