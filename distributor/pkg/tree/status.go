package tree

import (
	"fmt"
)

// Status is the lifecycle state of a distribution tree.
type Status uint8

const (
	// StatusInsufficientBitmapSpace means the claimed-index bitmap is not yet large enough for
	// every recipient. Payments are rejected until Expand brings it to full size.
	StatusInsufficientBitmapSpace Status = iota
	StatusActive
	StatusPaused
	StatusComplete
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusInsufficientBitmapSpace: "InsufficientBitmapSpace",
	StatusActive:                  "Active",
	StatusPaused:                  "Paused",
	StatusComplete:                "Complete",
	StatusCancelled:               "Cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further payments can ever happen in s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
