// Package recurrence implements the spiral step a_n = q(n*sin(a_{n-1} + sign*pi/n)) + 1.
package recurrence

import (
	"fmt"
	"math"
	"strings"
)

type Sign int

const (
	Plus  Sign = 1
	Minus Sign = -1
)

func (s Sign) Valid() bool {
	return s == Plus || s == Minus
}

func (s Sign) String() string {
	switch s {
	case Plus:
		return "plus"
	case Minus:
		return "minus"
	default:
		return fmt.Sprintf("sign(%d)", int(s))
	}
}

// ParseSign accepts "plus"/"+1"/"+" and "minus"/"-1"/"-".
func ParseSign(value string) (Sign, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "plus", "+1", "+", "1", "":
		return Plus, nil
	case "minus", "-1", "-":
		return Minus, nil
	default:
		return 0, fmt.Errorf("unsupported sign %q", value)
	}
}

// Quantizer maps the float intermediate to an integer before the +1 offset.
type Quantizer string

const (
	QuantizeFloor Quantizer = "floor"
	// QuantizeRound is round-half-to-even, matching ledgers written by the
	// legacy helix writers.
	QuantizeRound Quantizer = "round"
)

func ParseQuantizer(value string) (Quantizer, error) {
	switch Quantizer(strings.ToLower(strings.TrimSpace(value))) {
	case "", QuantizeFloor:
		return QuantizeFloor, nil
	case QuantizeRound:
		return QuantizeRound, nil
	default:
		return "", fmt.Errorf("unsupported quantizer %q", value)
	}
}

func (q Quantizer) apply(x float64) float64 {
	if q == QuantizeRound {
		return math.RoundToEven(x)
	}
	return math.Floor(x)
}

// Spiral returns the next value using the floor quantizer.
func Spiral(prev, step int64, sign Sign) (int64, error) {
	return SpiralWith(prev, step, sign, QuantizeFloor)
}

func SpiralWith(prev, step int64, sign Sign, quantizer Quantizer) (int64, error) {
	if step < 1 {
		return 0, fmt.Errorf("step must be >= 1, got %d", step)
	}
	if !sign.Valid() {
		return 0, fmt.Errorf("sign must be +1 or -1, got %d", int(sign))
	}
	if quantizer != QuantizeFloor && quantizer != QuantizeRound {
		return 0, fmt.Errorf("unsupported quantizer %q", quantizer)
	}
	n := float64(step)
	x := n * math.Sin(float64(prev)+float64(sign)*(math.Pi/n))
	return int64(quantizer.apply(x)) + 1, nil
}

// Sequence returns a_1..a_steps with a_1 = seed.
func Sequence(seed, steps int64, sign Sign, quantizer Quantizer) ([]int64, error) {
	if steps < 1 {
		return nil, fmt.Errorf("steps must be >= 1, got %d", steps)
	}
	values := make([]int64, 0, steps)
	value := seed
	values = append(values, value)
	for n := int64(2); n <= steps; n++ {
		next, err := SpiralWith(value, n, sign, quantizer)
		if err != nil {
			return nil, err
		}
		value = next
		values = append(values, value)
	}
	return values, nil
}
