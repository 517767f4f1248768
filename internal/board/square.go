package board

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidSquare is returned for anything that is not [a-h][1-8].
	ErrInvalidSquare = errors.New("invalid square")
	// ErrInvalidFile is returned when a square lies outside the addressable file range.
	ErrInvalidFile = errors.New("invalid_file")
)

const (
	MinIndex = 1
	MaxIndex = 8
)

// Square is a board coordinate with 1-based file and rank indices.
type Square struct {
	File int // a=1 ... h=8
	Rank int
}

// ParseSquare parses a two-character coordinate such as "e4".
func ParseSquare(s string) (Square, error) {
	if !ValidSquare(s) {
		return Square{}, fmt.Errorf("%w: %q", ErrInvalidSquare, s)
	}
	return Square{File: int(s[0]-'a') + 1, Rank: int(s[1]-'1') + 1}, nil
}

// ValidSquare reports whether s matches ^[a-h][1-8]$.
func ValidSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func (s Square) String() string {
	return string([]byte{byte('a' + s.File - 1), byte('1' + s.Rank - 1)})
}

// Calibration is the fixed linear mapping from square index to encoder counts
// along one axis.
type Calibration struct {
	DistanceToSquareOne float64 `mapstructure:"distance_to_square_one" yaml:"distance_to_square_one"` // inches
	SquarePitch         float64 `mapstructure:"square_pitch" yaml:"square_pitch"`                     // inches
	CountsPerInch       float64 `mapstructure:"counts_per_inch" yaml:"counts_per_inch"`
}

// Target returns the encoder count of square index 1..8. Callers clamp the
// index; out-of-range values are extrapolated linearly.
func (c Calibration) Target(index int) int64 {
	inches := c.DistanceToSquareOne + float64(index-MinIndex)*c.SquarePitch
	return int64(math.Round(inches * c.CountsPerInch))
}

// Pitch returns the nominal count distance between adjacent squares.
func (c Calibration) Pitch() float64 {
	return c.SquarePitch * c.CountsPerInch
}

// Clamp limits a square index to 1..8.
func Clamp(index int) int {
	return min(max(index, MinIndex), MaxIndex)
}

// FileRange is the inclusive range of files the carriage can reach.
type FileRange struct {
	First int
	Last  int
}

// FullRange covers files a through h.
var FullRange = FileRange{First: MinIndex, Last: MaxIndex}

// Check returns ErrInvalidFile when sq lies outside the range.
func (r FileRange) Check(sq Square) error {
	if sq.File < r.First || sq.File > r.Last {
		return fmt.Errorf("%w: file %c outside %c-%c", ErrInvalidFile,
			'a'+sq.File-1, 'a'+r.First-1, 'a'+r.Last-1)
	}
	return nil
}

// ParseFileRange parses a range such as "a-h" or "c-f".
func ParseFileRange(s string) (FileRange, error) {
	if s == "" {
		return FullRange, nil
	}
	if len(s) != 3 || s[1] != '-' || s[0] < 'a' || s[0] > 'h' || s[2] < 'a' || s[2] > 'h' || s[0] > s[2] {
		return FileRange{}, fmt.Errorf("invalid file range %q", s)
	}
	return FileRange{First: int(s[0]-'a') + 1, Last: int(s[2]-'a') + 1}, nil
}
