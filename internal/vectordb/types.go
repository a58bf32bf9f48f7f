package vectordb

import "time"

// Config controls Qdrant client behavior
type Config struct {
	URL        string
	APIKey     string
	Collection string
	// Dimension of stored vectors; enforced on upsert and validated against
	// the live collection at bootstrap.
	Dimension int
	Timeout   time.Duration
}

// Point is a single vector plus payload to insert into the collection.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// ScoredPoint is a search hit with its similarity score and payload.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// PayloadString returns a payload field as a string, or fallback when the
// field is missing or not a string.
func (p ScoredPoint) PayloadString(key, fallback string) string {
	if v, ok := p.Payload[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// PayloadInt returns a payload field as an int. JSON numbers decode as
// float64, so both are accepted.
func (p ScoredPoint) PayloadInt(key string, fallback int) int {
	switch v := p.Payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// CollectionInfo holds basic information about a Qdrant collection
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}
