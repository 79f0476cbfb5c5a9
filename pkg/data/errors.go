package data

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermission is the sentinel wrapped by *PermissionError.
	ErrPermission = errors.New("permission denied")
	// ErrType is the sentinel wrapped by *TypeError.
	ErrType = errors.New("type mismatch")
	// ErrReservedKey is returned for an empty key or one reserved by the export format.
	ErrReservedKey = errors.New("reserved key")
)

// Access is a slot's position on the permission axis. A higher state
// dominates every lower one.
type Access int

const (
	Open Access = iota
	Protected
	Essential
	Frozen
)

func (a Access) String() string {
	switch a {
	case Open:
		return "open"
	case Protected:
		return "protected"
	case Essential:
		return "essential"
	case Frozen:
		return "frozen"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// PermissionError reports a mutation refused by a frozen slot or container,
// or a change to a flag that only an override path may make.
type PermissionError struct {
	Name  string
	State Access
	Op    string
}

func (e *PermissionError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s refused: container is %s", e.Op, e.State)
	}
	return fmt.Sprintf("%s %q refused: entry is %s", e.Op, e.Name, e.State)
}

func (e *PermissionError) Unwrap() error { return ErrPermission }

// TypeError reports a value outside an entry's locked type set, or a
// constructor argument of the wrong shape.
type TypeError struct {
	Name string
	Want []string
	Got  string
}

func (e *TypeError) Error() string {
	var b strings.Builder
	b.WriteString("type error")
	if e.Name != "" {
		fmt.Fprintf(&b, " for %q", e.Name)
	}
	if len(e.Want) > 0 {
		fmt.Fprintf(&b, ": want one of [%s]", strings.Join(e.Want, ", "))
	}
	fmt.Fprintf(&b, ", got %s", e.Got)
	return b.String()
}

func (e *TypeError) Unwrap() error { return ErrType }

// permit is the permission check every mutator goes through. A frozen target
// fails hard; a target at or above ceiling is refused without error.
func permit(name, op string, state, ceiling Access) (bool, error) {
	if state == Frozen {
		return false, &PermissionError{Name: name, State: state, Op: op}
	}
	if state >= ceiling {
		return false, nil
	}
	return true, nil
}
