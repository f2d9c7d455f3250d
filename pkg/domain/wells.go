package domain

import "fmt"

// Plate geometry: 96 wells arranged in 8 rows (A-H) by 12 columns (1-12).
const (
	PlateRows     = 8
	PlateColumns  = 12
	PlateCapacity = PlateRows * PlateColumns
)

var wellPositions = buildWellPositions()

func buildWellPositions() []string {
	out := make([]string, 0, PlateCapacity)
	for row := 0; row < PlateRows; row++ {
		for col := 1; col <= PlateColumns; col++ {
			out = append(out, fmt.Sprintf("%c%d", 'A'+row, col))
		}
	}
	return out
}

// WellPositions returns all 96 well positions in row-major order
// (A1..A12, B1..B12, ..., H12). The returned slice is shared; callers
// must not mutate it.
func WellPositions() []string {
	return wellPositions
}

// WellPosition renders the row-major index i (0-based) as a position key.
func WellPosition(i int) string {
	return wellPositions[i]
}
