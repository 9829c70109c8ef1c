// Package dice evaluates chat dice commands such as "/roll 2d6+3".
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	CommandPrefix = "/roll"

	MaxDice  = 100
	MinSides = 2
	MaxSides = 1000

	MaxModifier = 1000
)

var (
	ErrInvalidExpression = errors.New("invalid dice expression")
	ErrTooManyDice       = fmt.Errorf("dice count must be between 1 and %d", MaxDice)
	ErrInvalidSides      = fmt.Errorf("dice sides must be between %d and %d", MinSides, MaxSides)
)

// [N]dM[(+|-)K], spaces allowed between parts
var exprRe = regexp.MustCompile(`(?i)^\s*(\d*)\s*d\s*(\d+)\s*(?:([+-])\s*(\d+))?\s*$`)

// Spec is a parsed dice expression.
type Spec struct {
	Count       int
	Sides       int
	Modifier    int
	HasModifier bool
}

// String renders the canonical form, e.g. "1d20" or "2d6-1".
func (s Spec) String() string {
	out := fmt.Sprintf("%dd%d", s.Count, s.Sides)
	if s.HasModifier {
		out += fmt.Sprintf("%+d", s.Modifier)
	}
	return out
}

// Result is the outcome of a roll.
type Result struct {
	Expression string `json:"expression"`
	Pips       []int  `json:"pips"`
	Modifier   int    `json:"modifier"`
	Total      int    `json:"total"`
}

// IsRoll reports whether a chat line is a roll command.
func IsRoll(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), CommandPrefix)
}

// Parse reads an expression with or without the /roll prefix.
func Parse(command string) (Spec, error) {
	expr := strings.TrimSpace(command)
	if IsRoll(expr) {
		expr = expr[len(CommandPrefix):]
	}

	m := exprRe.FindStringSubmatch(expr)
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidExpression, strings.TrimSpace(expr))
	}

	spec := Spec{Count: 1}
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
		}
		spec.Count = n
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	spec.Sides = sides

	if m[3] != "" {
		k, err := strconv.Atoi(m[4])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
		}
		if k > MaxModifier {
			return Spec{}, fmt.Errorf("%w: modifier must be at most %d", ErrInvalidExpression, MaxModifier)
		}
		if m[3] == "-" {
			k = -k
		}
		spec.Modifier = k
		spec.HasModifier = true
	}

	if spec.Count < 1 || spec.Count > MaxDice {
		return Spec{}, ErrTooManyDice
	}
	if spec.Sides < MinSides || spec.Sides > MaxSides {
		return Spec{}, ErrInvalidSides
	}
	return spec, nil
}

// Roller rolls dice. It is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller returns a roller backed by src, or by a time-seeded source when
// src is nil.
func NewRoller(src rand.Source) *Roller {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Roller{rng: rand.New(src)}
}

// Roll parses and rolls a command like "/roll 3d8 + 2".
func (r *Roller) Roll(command string) (*Result, error) {
	spec, err := Parse(command)
	if err != nil {
		return nil, err
	}
	return r.RollSpec(spec), nil
}

// RollSpec rolls an already parsed expression.
func (r *Roller) RollSpec(spec Spec) *Result {
	pips := make([]int, spec.Count)
	total := spec.Modifier

	r.mu.Lock()
	for i := range pips {
		pips[i] = 1 + r.rng.Intn(spec.Sides)
		total += pips[i]
	}
	r.mu.Unlock()

	return &Result{
		Expression: spec.String(),
		Pips:       pips,
		Modifier:   spec.Modifier,
		Total:      total,
	}
}
