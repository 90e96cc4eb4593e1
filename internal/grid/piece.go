package grid

import "fmt"

// Variant identifies one of the seven tetromino shapes.
type Variant uint8

const (
	I Variant = iota
	O
	T
	S
	Z
	J
	L

	// NumVariants is the number of piece variants.
	NumVariants = 7
)

var variantNames = [NumVariants]string{"I", "O", "T", "S", "Z", "J", "L"}

// Valid reports whether v names a piece.
func (v Variant) Valid() bool { return v < NumVariants }

// Symbol is the cell symbol a locked piece of this variant leaves behind.
func (v Variant) Symbol() Symbol { return Symbol(v) + SymbolI }

func (v Variant) String() string {
	if !v.Valid() {
		return fmt.Sprintf("Variant(%d)", uint8(v))
	}
	return variantNames[v]
}

// ParseVariant accepts the single upper-case letter naming a piece. Matching
// is exact so every piece has one text form.
func ParseVariant(name string) (Variant, error) {
	for i, n := range variantNames {
		if n == name {
			return Variant(i), nil
		}
	}
	return 0, malformed("unknown piece %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (v Variant) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, malformed("invalid piece variant %d", uint8(v))
	}
	return []byte(variantNames[v]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Rotation is a clockwise quarter-turn count in [0, 3].
type Rotation uint8

// NumRotations is the number of distinct orientations.
const NumRotations = 4

// Valid reports whether r is in range.
func (r Rotation) Valid() bool { return r < NumRotations }

// Degrees returns the rotation as 0, 90, 180 or 270.
func (r Rotation) Degrees() int { return int(r%NumRotations) * 90 }

// CW returns the orientation one clockwise quarter turn away.
func (r Rotation) CW() Rotation { return (r + 1) % NumRotations }

// CCW returns the orientation one counter-clockwise quarter turn away.
func (r Rotation) CCW() Rotation { return (r + NumRotations - 1) % NumRotations }

// RotationFromDegrees converts 0, 90, 180 or 270 into a Rotation.
func RotationFromDegrees(deg int) (Rotation, error) {
	if deg < 0 || deg >= 360 || deg%90 != 0 {
		return 0, malformed("rotation must be one of 0, 90, 180, 270; got %d", deg)
	}
	return Rotation(deg / 90), nil
}

// Offset is a cell position relative to a piece anchor: Row counts upward,
// Col counts rightward.
type Offset struct {
	Row int
	Col int
}

var baseOffsets = [NumVariants][4]Offset{
	I: {{0, 0}, {0, 1}, {0, 2}, {0, 3}},
	O: {{0, 0}, {0, 1}, {1, 0}, {1, 1}},
	T: {{0, 0}, {0, 1}, {0, 2}, {1, 1}},
	S: {{0, 0}, {0, 1}, {1, 1}, {1, 2}},
	Z: {{0, 1}, {0, 2}, {1, 0}, {1, 1}},
	J: {{0, 0}, {0, 1}, {0, 2}, {1, 0}},
	L: {{0, 0}, {0, 1}, {0, 2}, {1, 2}},
}

// shapes[v][r] is computed once; Offsets is a table lookup.
var shapes = func() (out [NumVariants][NumRotations][4]Offset) {
	for v := range baseOffsets {
		cur := baseOffsets[v]
		for r := 0; r < NumRotations; r++ {
			out[v][r] = normalize(cur)
			// clockwise quarter turn: (row, col) -> (-col, row)
			for i, o := range cur {
				cur[i] = Offset{Row: -o.Col, Col: o.Row}
			}
		}
	}
	return out
}()

func normalize(cells [4]Offset) [4]Offset {
	minRow, minCol := cells[0].Row, cells[0].Col
	for _, o := range cells[1:] {
		minRow = min(minRow, o.Row)
		minCol = min(minCol, o.Col)
	}
	for i := range cells {
		cells[i].Row -= minRow
		cells[i].Col -= minCol
	}
	return cells
}

// Offsets returns the four cells occupied by variant v at rotation r,
// relative to the anchor. Both arguments must be valid.
func Offsets(v Variant, r Rotation) [4]Offset {
	return shapes[v][r]
}
