package decode

import "image"

const (
	// NumKeypoints is the joint count of single-pose MoveNet.
	NumKeypoints = 17
	// KeypointThreshold is the minimum confidence of a drawn joint.
	KeypointThreshold float32 = 0.20
)

// Keypoint is one joint in frame pixel coordinates.
type Keypoint struct {
	image.Point
	Score float32
}

// SkeletonEdges connects anatomically adjacent joints.
var SkeletonEdges = [][2]int{
	// face
	{0, 2}, {2, 4}, {0, 1}, {1, 3},
	// body
	{6, 5}, {5, 11}, {11, 12}, {12, 6},
	// arms
	{6, 8}, {8, 10}, {5, 7}, {7, 9},
	// legs
	{12, 14}, {14, 16}, {11, 13}, {13, 15},
}

// Keypoints reads the [1,1,17,3] tensor laid out as (y, x, score) per joint,
// with y and x normalized, and scales them to frameW x frameH.
func Keypoints(data []float32, frameW, frameH int) []Keypoint {
	n := min(NumKeypoints, len(data)/3)
	kps := make([]Keypoint, n)
	for i := range kps {
		kps[i] = Keypoint{
			Point: image.Pt(int(data[3*i+1]*float32(frameW)), int(data[3*i]*float32(frameH))),
			Score: data[3*i+2],
		}
	}
	return kps
}

// Skeleton returns the edges whose two joints both reach threshold.
func Skeleton(kps []Keypoint, threshold float32) [][2]image.Point {
	var lines [][2]image.Point
	for _, e := range SkeletonEdges {
		if e[0] >= len(kps) || e[1] >= len(kps) {
			continue
		}
		a, b := kps[e[0]], kps[e[1]]
		if a.Score >= threshold && b.Score >= threshold {
			lines = append(lines, [2]image.Point{a.Point, b.Point})
		}
	}
	return lines
}

// Visible returns the joints that reach threshold.
func Visible(kps []Keypoint, threshold float32) []Keypoint {
	var out []Keypoint
	for _, k := range kps {
		if k.Score >= threshold {
			out = append(out, k)
		}
	}
	return out
}
