package engine

import (
	"fmt"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// Action is the closed set of moves a player can declare.
type Action uint8

const (
	ShiftLeft Action = iota + 1
	ShiftRight
	SoftDrop
	RotateCW
	RotateCCW
	HardDrop
)

// Actions lists every action in declaration order.
var Actions = []Action{ShiftLeft, ShiftRight, SoftDrop, RotateCW, RotateCCW, HardDrop}

var actionNames = map[Action]string{
	ShiftLeft:  "ShiftLeft",
	ShiftRight: "ShiftRight",
	SoftDrop:   "SoftDrop",
	RotateCW:   "RotateCW",
	RotateCCW:  "RotateCCW",
	HardDrop:   "HardDrop",
}

// Valid reports whether a is one of the declared actions.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// ParseAction decodes the wire name of an action.
func ParseAction(name string) (Action, error) {
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf("unknown action %q", name))
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf("invalid action %d", uint8(a)))
	}
	return []byte(actionNames[a]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
