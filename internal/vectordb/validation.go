package vectordb

import "fmt"

// DimensionMismatchError is returned when a vector's dimension does not match
// the collection's configured dimension. Catching this at the boundary avoids
// silently corrupting the index with unsearchable points.
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ReceivedDimension int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch for collection %q: expected %d, got %d",
		e.Collection, e.ExpectedDimension, e.ReceivedDimension)
}
