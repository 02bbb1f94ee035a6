package decode

// YOLOv5Params configures the anchor-grid decoder.
type YOLOv5Params struct {
	Strides        []int
	AnchorsPerCell int
	BoxThreshold   float32
	ClassThreshold float32
	IoUThreshold   float32
	PerClassNMS    bool
}

// DefaultYOLOv5Params are the thresholds the shipped YOLOv5 export was tuned for.
var DefaultYOLOv5Params = YOLOv5Params{
	Strides:        []int{8, 16, 32},
	AnchorsPerCell: 3,
	BoxThreshold:   0.40,
	ClassThreshold: 0.20,
	IoUThreshold:   0.50,
}

// YOLOv5 decodes a [1, cells, 5+classes] anchor-grid tensor. Each row holds
// cx, cy, w, h normalized to the model input (anchors and grid offsets are
// already applied by the export), an objectness score and per-class scores.
// Rows are laid out stride by stride, then grid row, grid column, anchor.
// Coordinates are scaled to frameW x frameH.
func YOLOv5(data []float32, modelW, modelH, numClasses, frameW, frameH int, p YOLOv5Params) []Box {
	if numClasses <= 0 {
		return nil
	}
	elem := numClasses + 5
	scaleX := float32(frameW)
	scaleY := float32(frameH)

	var candidates []Box
	index := 0
	for _, stride := range p.Strides {
		gridW := modelW / stride
		gridH := modelH / stride
		for cell := 0; cell < gridW*gridH*p.AnchorsPerCell; cell++ {
			if index+elem > len(data) {
				return NMS(candidates, p.IoUThreshold, p.PerClassNMS)
			}
			row := data[index : index+elem]
			index += elem

			boxConf := row[4]
			if boxConf < p.BoxThreshold {
				continue
			}

			classID := 0
			var classConf float32
			for c, v := range row[5:] {
				if v > classConf {
					classConf = v
					classID = c
				}
			}
			if classConf < p.ClassThreshold {
				continue
			}

			cx := int(row[0] * scaleX)
			cy := int(row[1] * scaleY)
			w := int(row[2] * scaleX)
			h := int(row[3] * scaleY)
			candidates = append(candidates, Box{
				ClassID:   classID,
				ClassConf: classConf,
				DetConf:   boxConf,
				Score:     boxConf * classConf,
				X:         cx - w/2,
				Y:         cy - h/2,
				W:         w,
				H:         h,
			})
		}
	}
	return NMS(candidates, p.IoUThreshold, p.PerClassNMS)
}

// YOLOv8Params configures the transposed single-tensor decoder.
type YOLOv8Params struct {
	ScoreThreshold float32
	NMSScore       float32
	IoUThreshold   float32
}

// DefaultYOLOv8Params apply to YOLOv8 and YOLOv11 exports.
var DefaultYOLOv8Params = YOLOv8Params{
	ScoreThreshold: 0.45,
	NMSScore:       0.25,
	IoUThreshold:   0.50,
}

// YOLOv8 decodes a [1, 4+classes, rows] tensor. The tensor is read
// transposed, so row i is (data[i], data[rows+i], data[2*rows+i], ...).
// numClasses caps the class scores considered; zero means all of them.
func YOLOv8(data []float32, attrs, rows, numClasses, frameW, frameH int, p YOLOv8Params) []Box {
	if attrs <= 4 || rows <= 0 || len(data) < attrs*rows {
		return nil
	}
	classes := attrs - 4
	if numClasses > 0 && numClasses < classes {
		classes = numClasses
	}
	at := func(row, attr int) float32 { return data[attr*rows+row] }

	var candidates []Box
	for i := 0; i < rows; i++ {
		classID := 0
		best := at(i, 4)
		for c := 1; c < classes; c++ {
			if v := at(i, 4+c); v > best {
				best = v
				classID = c
			}
		}
		if best <= p.ScoreThreshold || best <= p.NMSScore {
			continue
		}

		xc, yc, w, h := at(i, 0), at(i, 1), at(i, 2), at(i, 3)
		candidates = append(candidates, Box{
			ClassID:   classID,
			ClassConf: best,
			DetConf:   -1,
			Score:     best,
			X:         int((xc - 0.5*w) * float32(frameW)),
			Y:         int((yc - 0.5*h) * float32(frameH)),
			W:         int(w * float32(frameW)),
			H:         int(h * float32(frameH)),
		})
	}
	return NMS(candidates, p.IoUThreshold, false)
}
