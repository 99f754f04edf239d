// Package channel defines the eight fixed ranging directions of the rig,
// the Reading value type produced for each of them, and helpers for the
// latest-value table and summary statistics the API serves.
package channel

import "fmt"

// Count is the number of ranging directions on the rig.
const Count = 8

// Direction identifies one fixed ranging direction around the subject.
// The grid cell places the direction on the 3x3 display layout, read
// column by column with the subject at the centre cell (1,1).
type Direction struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	GridRow int    `json:"grid_row"`
	GridCol int    `json:"grid_col"`
}

// Directions is the application-level registry of ranging directions.
// The index order matches the distance slots in the wire frame.
var Directions = [Count]Direction{
	{Index: 0, Code: "FL", Name: "Front-Left", GridRow: 0, GridCol: 0},
	{Index: 1, Code: "L", Name: "Left", GridRow: 1, GridCol: 0},
	{Index: 2, Code: "BL", Name: "Back-Left", GridRow: 2, GridCol: 0},
	{Index: 3, Code: "F", Name: "Front", GridRow: 0, GridCol: 1},
	{Index: 4, Code: "B", Name: "Back", GridRow: 2, GridCol: 1},
	{Index: 5, Code: "FR", Name: "Front-Right", GridRow: 0, GridCol: 2},
	{Index: 6, Code: "R", Name: "Right", GridRow: 1, GridCol: 2},
	{Index: 7, Code: "BR", Name: "Back-Right", GridRow: 2, GridCol: 2},
}

// ValidIndex reports whether i names one of the rig's directions.
func ValidIndex(i int) bool {
	return i >= 0 && i < Count
}

// ByIndex looks up a direction by its frame slot index.
func ByIndex(i int) (Direction, bool) {
	if !ValidIndex(i) {
		return Direction{}, false
	}
	return Directions[i], true
}

// ByCode looks up a direction by its short code, e.g. "FL".
func ByCode(code string) (Direction, bool) {
	for _, d := range Directions {
		if d.Code == code {
			return d, true
		}
	}
	return Direction{}, false
}

func (d Direction) String() string {
	return fmt.Sprintf("%s (%d)", d.Code, d.Index)
}
