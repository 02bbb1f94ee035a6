package decode

// ImageNetClasses is the class count of the shipped classifiers.
const ImageNetClasses = 1000

// Classify returns the index of the best score in
// scores[offset:offset+numClasses] relative to offset, and that score. Ties
// resolve to the lowest index. index is -1 when the window is empty.
func Classify(scores []float32, offset, numClasses int) (index int, score float32) {
	if offset < 0 || offset >= len(scores) {
		return -1, 0
	}
	end := min(offset+numClasses, len(scores))
	window := scores[offset:end]
	if len(window) == 0 {
		return -1, 0
	}

	index = 0
	score = window[0]
	for i, v := range window[1:] {
		if v > score {
			score = v
			index = i + 1
		}
	}
	return index, score
}

// Uint8Scores widens a quantized score tensor to [0,1].
func Uint8Scores(q []uint8) []float32 {
	out := make([]float32, len(q))
	for i, v := range q {
		out[i] = float32(v) / 255
	}
	return out
}
