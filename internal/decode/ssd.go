package decode

// SSDScoreThreshold is the minimum score of an accepted single-shot detection.
const SSDScoreThreshold float32 = 0.60

// SSD decodes the four TFLite detection postprocess outputs: locations as
// [top, left, bottom, right] normalized to [0,1], class indices, scores and
// the detection count. Boxes with score > threshold are scaled to
// frameW x frameH.
func SSD(locations, classes, scores []float32, count, frameW, frameH int, threshold float32) []Box {
	count = min(count, len(scores), len(classes), len(locations)/4)

	var boxes []Box
	for i := 0; i < count; i++ {
		score := scores[i]
		if score <= threshold {
			continue
		}
		top := int(locations[4*i+0] * float32(frameH))
		left := int(locations[4*i+1] * float32(frameW))
		bottom := int(locations[4*i+2] * float32(frameH))
		right := int(locations[4*i+3] * float32(frameW))

		boxes = append(boxes, Box{
			ClassID:   int(classes[i]),
			ClassConf: score,
			DetConf:   -1,
			Score:     score,
			X:         left,
			Y:         top,
			W:         right - left,
			H:         bottom - top,
		})
	}
	return boxes
}
