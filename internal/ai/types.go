package ai

// InferenceRequest is sent to the detection service used by the pre-filter.
type InferenceRequest struct {
	Image               string   `json:"image"`                          // Base64-encoded JPEG image
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"` // Optional override
	EnabledClasses      []string `json:"enabled_classes,omitempty"`      // Optional filter
}

// BoundingBox represents a detected object's bounding box
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// InferenceResponse represents the response from the detection service
type InferenceResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	InferenceTimeMs float64       `json:"inference_time_ms"`
	FrameShape      []int         `json:"frame_shape"` // [height, width]
	DetectionCount  int           `json:"detection_count"`
}

// ClassifyRequest carries one clip tensor to the classifier.
type ClassifyRequest struct {
	CameraID string `json:"camera_id"`
	Shape    [4]int `json:"shape"`  // [T, C, H, W]
	Tensor   string `json:"tensor"` // base64 little-endian float32
}

// ClassifyResponse holds one probability per configured class.
type ClassifyResponse struct {
	Probabilities   []float64 `json:"probabilities"`
	InferenceTimeMs float64   `json:"inference_time_ms,omitempty"`
}
