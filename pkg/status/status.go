package status

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Code is the raw status reported by a protocol check.
type Code int

const (
	Down        Code = 0
	Up          Code = 1
	Pending     Code = 2
	Maintenance Code = 3
)

// ErrInvalidStatus is returned for any status outside the four canonical codes.
var ErrInvalidStatus = errors.New("invalid status")

// String returns the lowercase name of the status.
func (c Code) String() string {
	switch c {
	case Down:
		return "down"
	case Up:
		return "up"
	case Pending:
		return "pending"
	case Maintenance:
		return "maintenance"
	default:
		return fmt.Sprintf("status(%d)", int(c))
	}
}

// Valid reports whether c is one of the four canonical codes.
func (c Code) Valid() bool {
	return c >= Down && c <= Maintenance
}

// Flatten maps a raw status onto the binary UP/DOWN classification used for
// aggregation. Pending checks count as unavailable, maintenance windows count
// as available.
func Flatten(c Code) (Code, error) {
	switch c {
	case Up, Maintenance:
		return Up, nil
	case Down, Pending:
		return Down, nil
	}
	return Down, fmt.Errorf("%w: %d", ErrInvalidStatus, int(c))
}

// Parse accepts a status name (case-insensitive) or its numeric code.
func Parse(s string) (Code, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "down":
		return Down, nil
	case "up":
		return Up, nil
	case "pending":
		return Pending, nil
	case "maintenance":
		return Maintenance, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || !Code(n).Valid() {
		return Down, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return Code(n), nil
}

// Sample is one classified check result. It is consumed once by the rollup
// engine and never stored.
type Sample struct {
	Flat        Code
	Maintenance bool
	Latency     *float64
	Time        time.Time
}

// Classify validates code and builds the sample for it.
func Classify(code Code, latency *float64, at time.Time) (Sample, error) {
	flat, err := Flatten(code)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Flat:        flat,
		Maintenance: code == Maintenance,
		Latency:     latency,
		Time:        at,
	}, nil
}
