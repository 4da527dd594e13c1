package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// RollResult carries the outcome of a dice roll
type RollResult struct {
	Total    int
	Rolls    []int
	Bonus    int
	Count    int
	Sides    int
	RawTotal int
}

func roll(count, sides, bonus int) (*RollResult, error) {
	if count < 1 {
		return nil, errors.New("invalid dice count")
	}

	if sides < 1 {
		return nil, errors.New("invalid dice size")
	}

	total := 0
	out := make([]int, count)
	for i := 0; i < count; i++ {
		r := rand.Intn(sides) + 1
		total += r
		out[i] = r
	}

	return &RollResult{
		Total:    total + bonus,
		Rolls:    out,
		Bonus:    bonus,
		Count:    count,
		Sides:    sides,
		RawTotal: total,
	}, nil
}

// ParseNotation splits a dice expression like "2d6" or "1d8+2" into its
// count, sides and bonus parts.
func ParseNotation(expr string) (count, sides, bonus int, err error) {
	dicePart := strings.TrimSpace(expr)

	if idx := strings.Index(dicePart, "+"); idx >= 0 {
		bonus, err = strconv.Atoi(strings.TrimSpace(dicePart[idx+1:]))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid dice bonus in %q", expr)
		}
		dicePart = dicePart[:idx]
	}

	parts := strings.Split(dicePart, "d")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid dice expression %q", expr)
	}

	count, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid dice count in %q", expr)
	}
	sides, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid dice size in %q", expr)
	}

	return count, sides, bonus, nil
}

// RollExpression parses a dice expression and rolls it with the given roller.
func RollExpression(r Roller, expr string) (*RollResult, error) {
	count, sides, bonus, err := ParseNotation(expr)
	if err != nil {
		return nil, err
	}
	return r.Roll(count, sides, bonus)
}

func (r *RollResult) String() string {
	compact := strings.ReplaceAll(fmt.Sprintf("%v", r.Rolls), " ", "")
	if r.Bonus != 0 {
		return fmt.Sprintf("%dd%d+%d: %s = %d", r.Count, r.Sides, r.Bonus, compact, r.Total)
	}
	return fmt.Sprintf("%dd%d: %s = %d", r.Count, r.Sides, compact, r.Total)
}
