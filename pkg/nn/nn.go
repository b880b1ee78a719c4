// Package nn is the interface layer to the object detection neural network.
// The detector itself is an external capability (YOLO, ncnn, whatever);
// this package defines the contract and the detection data model that the
// tracking pipeline consumes.
package nn

import (
	"github.com/velocam/speedcam/pkg/geom"
)

const DefaultConfidenceThreshold = 0.5

// Detection is one object that the detector found in a single frame.
// Detections are immutable; the tracker consumes them and they are
// discarded at the end of the frame.
type Detection struct {
	Box        geom.Rect `json:"box"`
	Class      int       `json:"class"`
	Confidence float32   `json:"confidence"`
}

// IsValid returns true if the box has positive extent and the confidence
// is a sane probability.
func (d *Detection) IsValid() bool {
	return d.Box.IsValid() && d.Confidence >= 0 && d.Confidence <= 1
}

// DetectionResult is the detector output for one frame.
type DetectionResult struct {
	FrameIndex  int64       `json:"frameIndex"`
	Timestamp   float64     `json:"timestamp"` // Seconds, monotonic within a run
	ImageWidth  int         `json:"imageWidth"`
	ImageHeight int         `json:"imageHeight"`
	Objects     []Detection `json:"objects"`
}

// Image is an opaque frame handle. The pipeline never touches pixels;
// it only forwards frames to the detector.
type Image interface {
	Width() int
	Height() int
}

// ObjectDetector is given an image, and returns zero or more detected objects.
// Implementations must not retain the image beyond the call.
type ObjectDetector interface {
	// Close closes the detector (you MUST call this when finished, because
	// implementations typically own native resources)
	Close()

	// DetectObjects returns a list of objects detected in the image
	DetectObjects(img Image) ([]Detection, error)
}

// FilterVehicles returns the detections that are vehicle classes with at
// least minConfidence. Invalid boxes are discarded here too, so downstream
// code can assume left < right and top < bottom.
func FilterVehicles(objects []Detection, minConfidence float32) []Detection {
	out := make([]Detection, 0, len(objects))
	for _, obj := range objects {
		if IsVehicle(obj.Class) && obj.Confidence >= minConfidence && obj.IsValid() {
			out = append(out, obj)
		}
	}
	return out
}
