package commitment

import (
	"encoding/binary"
	"fmt"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/engine"
	"github.com/DarbotLM/Detris/internal/grid"
)

// StateLength is the size of a serialized engine state: the grid followed by
// variant, rotation, anchor row, anchor col, spawned (u32), seed (i64) and
// the terminal flag.
const StateLength = grid.Cells + 4 + 4 + 8 + 1

// SerializeState returns the canonical bytes of s.
func SerializeState(s engine.State) []byte {
	out := make([]byte, 0, StateLength)
	out = append(out, Serialize(s.Board)...)
	out = append(out,
		byte(s.Active.Variant),
		byte(s.Active.Rotation),
		byte(s.Active.Row),
		byte(s.Active.Col),
	)
	out = binary.BigEndian.AppendUint32(out, s.Spawned)
	out = binary.BigEndian.AppendUint64(out, uint64(s.Seed))
	over := byte(0)
	if s.Over {
		over = 1
	}
	return append(out, over)
}

// DeserializeState is the inverse of SerializeState. The decoded state must
// pass engine.State.Validate.
func DeserializeState(b []byte) (engine.State, error) {
	if len(b) != StateLength {
		return engine.State{}, xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf("serialized state must be %d bytes, got %d", StateLength, len(b)))
	}
	board, err := Deserialize(b[:grid.Cells])
	if err != nil {
		return engine.State{}, err
	}
	rest := b[grid.Cells:]
	if rest[16] > 1 {
		return engine.State{}, xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf("terminal flag must be 0 or 1, got %d", rest[16]))
	}
	s := engine.State{
		Board: board,
		Active: engine.ActivePiece{
			Variant:  grid.Variant(rest[0]),
			Rotation: grid.Rotation(rest[1]),
			Row:      int(rest[2]),
			Col:      int(rest[3]),
		},
		Spawned: binary.BigEndian.Uint32(rest[4:8]),
		Seed:    int64(binary.BigEndian.Uint64(rest[8:16])),
		Over:    rest[16] == 1,
	}
	if err := s.Validate(); err != nil {
		return engine.State{}, err
	}
	return s, nil
}

// HashState commits to the full engine state.
func HashState(s engine.State) Digest {
	return HashBytes(SerializeState(s))
}
