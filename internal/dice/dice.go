// Package dice parses standard dice notation and rolls it.
package dice

import (
	"errors"
	"math/rand"
	"regexp"
	"strconv"
)

// ErrInvalidNotation indicates the notation does not match <count>d<sides>
// with an optional signed modifier.
var ErrInvalidNotation = errors.New("invalid dice notation")

// ErrOutOfRange indicates a syntactically valid notation asks for more dice
// or larger dice than the server accepts.
var ErrOutOfRange = errors.New("dice notation out of range")

const (
	// MaxCount bounds how many dice one notation may roll.
	MaxCount = 100
	// MaxSides bounds the size of a single die.
	MaxSides = 1000
)

var notationRe = regexp.MustCompile(`^(\d+)[dD](\d+)([+-]\d+)?$`)

// Notation is a parsed dice expression.
type Notation struct {
	Raw      string
	Count    int
	Sides    int
	Modifier int
}

// Result carries the individual dice and the modified total of one roll.
type Result struct {
	Rolls []int
	Total int
}

// Parse validates and decomposes a notation such as "2d6+3". The "d" is
// case-insensitive and the modifier is optional.
func Parse(raw string) (Notation, error) {
	m := notationRe.FindStringSubmatch(raw)
	if m == nil {
		return Notation{}, ErrInvalidNotation
	}
	count, err := strconv.Atoi(m[1])
	if err != nil {
		return Notation{}, ErrInvalidNotation
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Notation{}, ErrInvalidNotation
	}
	modifier := 0
	if m[3] != "" {
		modifier, err = strconv.Atoi(m[3])
		if err != nil {
			return Notation{}, ErrInvalidNotation
		}
	}
	if count < 1 || sides < 1 {
		return Notation{}, ErrInvalidNotation
	}
	if count > MaxCount || sides > MaxSides {
		return Notation{}, ErrOutOfRange
	}
	return Notation{Raw: raw, Count: count, Sides: sides, Modifier: modifier}, nil
}

// Roll rolls the notation's dice with the given source. Each individual die
// is uniform in [1, Sides]; Total is the sum of the dice plus the modifier.
func (n Notation) Roll(rng *rand.Rand) Result {
	rolls := make([]int, 0, n.Count)
	sum := 0
	for i := 0; i < n.Count; i++ {
		v := rng.Intn(n.Sides) + 1
		rolls = append(rolls, v)
		sum += v
	}
	return Result{Rolls: rolls, Total: sum + n.Modifier}
}
