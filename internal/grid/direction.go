package grid

import "fmt"

// Direction names one of the eight neighbors of a tile. Directions follow the
// y-down convention: Top is toward the domain's MinY edge.
type Direction int

const (
	Top Direction = iota
	Bottom
	Left
	Right
	TopLeft
	TopRight
	BottomLeft
	BottomRight
)

// NumDirections is the size of a neighbor table.
const NumDirections = 8

// Directions lists every direction in table order.
var Directions = [NumDirections]Direction{Top, Bottom, Left, Right, TopLeft, TopRight, BottomLeft, BottomRight}

var directionNames = [NumDirections]string{
	"top", "bottom", "left", "right", "top-left", "top-right", "bottom-left", "bottom-right",
}

// offsets holds (dcol, drow) per direction.
var offsets = [NumDirections][2]int{
	{0, -1}, {0, 1}, {-1, 0}, {1, 0}, {-1, -1}, {1, -1}, {-1, 1}, {1, 1},
}

// Offset returns the column and row delta of the neighbor in direction d.
func (d Direction) Offset() (dcol, drow int) {
	o := offsets[d]
	return o[0], o[1]
}

// Opposite returns the direction pointing back from the neighbor.
func (d Direction) Opposite() Direction {
	switch d {
	case Top:
		return Bottom
	case Bottom:
		return Top
	case Left:
		return Right
	case Right:
		return Left
	case TopLeft:
		return BottomRight
	case TopRight:
		return BottomLeft
	case BottomLeft:
		return TopRight
	default:
		return TopLeft
	}
}

// IsCorner reports whether d is diagonal.
func (d Direction) IsCorner() bool {
	return d >= TopLeft
}

// Valid reports whether d is one of the eight directions.
func (d Direction) Valid() bool {
	return d >= Top && d <= BottomRight
}

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

// ParseDirection is the inverse of String.
func ParseDirection(s string) (Direction, error) {
	for i, n := range directionNames {
		if n == s {
			return Direction(i), nil
		}
	}
	return 0, fmt.Errorf("grid: unknown direction %q", s)
}

// MarshalText lets directions appear by name in JSON and YAML.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Neighbors is an 8-entry table of tile indices keyed by Direction. Absent
// neighbors (at the grid boundary) are stored as NoNeighbor.
type Neighbors [NumDirections]int

// NoNeighbor marks an absent table entry.
const NoNeighbor = -1

// Get returns the neighbor in direction d and whether it exists.
func (n Neighbors) Get(d Direction) (int, bool) {
	id := n[d]
	return id, id != NoNeighbor
}

// Present returns the existing neighbor indices in table order.
func (n Neighbors) Present() []int {
	out := make([]int, 0, NumDirections)
	for _, id := range n {
		if id != NoNeighbor {
			out = append(out, id)
		}
	}
	return out
}
