package model

import "strconv"

// ObjectHandle is an opaque engine-assigned identifier for a scene object.
// It is only meaningful while the referenced object exists in the engine.
type ObjectHandle int64

const (
	// InvalidHandle is returned by the engine when a lookup or operation fails.
	InvalidHandle ObjectHandle = -1
	// WorldFrame is the relativity value that selects the world frame.
	WorldFrame ObjectHandle = -1
)

// Valid reports whether h can refer to a live object.
func (h ObjectHandle) Valid() bool { return h >= 0 }

func (h ObjectHandle) String() string {
	if h < 0 {
		return "invalid"
	}
	return strconv.FormatInt(int64(h), 10)
}

// ParseHandle parses a decimal handle. Negative values parse to InvalidHandle.
func ParseHandle(s string) (ObjectHandle, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return InvalidHandle, err
	}
	if v < 0 {
		return InvalidHandle, nil
	}
	return ObjectHandle(v), nil
}
