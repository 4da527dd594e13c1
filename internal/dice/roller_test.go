package dice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttkit/companion/internal/dice"
	mockdice "github.com/vttkit/companion/internal/dice/mock"
)

func TestManualMockRoller_Roll(t *testing.T) {
	tests := []struct {
		name       string
		setupRolls []int
		count      int
		sides      int
		bonus      int
		wantTotal  int
		wantRolls  []int
		wantErr    bool
	}{
		{
			name:       "single d6 roll",
			setupRolls: []int{4},
			count:      1,
			sides:      6,
			bonus:      0,
			wantTotal:  4,
			wantRolls:  []int{4},
		},
		{
			name:       "2d6+3",
			setupRolls: []int{4, 5},
			count:      2,
			sides:      6,
			bonus:      3,
			wantTotal:  12, // 4+5+3
			wantRolls:  []int{4, 5},
		},
		{
			name:       "not enough rolls",
			setupRolls: []int{10},
			count:      2,
			sides:      6,
			wantErr:    true,
		},
		{
			name:       "invalid roll for die size",
			setupRolls: []int{7},
			count:      1,
			sides:      6,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roller := mockdice.NewManualMockRoller()
			roller.SetRolls(tt.setupRolls)

			result, err := roller.Roll(tt.count, tt.sides, tt.bonus)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, result.Total)
			assert.Equal(t, tt.wantRolls, result.Rolls)
		})
	}
}

func TestParseNotation(t *testing.T) {
	tests := []struct {
		expr      string
		wantCount int
		wantSides int
		wantBonus int
		wantErr   bool
	}{
		{expr: "2d6", wantCount: 2, wantSides: 6},
		{expr: "1d8+2", wantCount: 1, wantSides: 8, wantBonus: 2},
		{expr: "10d10+0", wantCount: 10, wantSides: 10},
		{expr: "d6", wantErr: true},
		{expr: "2d", wantErr: true},
		{expr: "2d6+x", wantErr: true},
		{expr: "banana", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			count, sides, bonus, err := dice.ParseNotation(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, count)
			assert.Equal(t, tt.wantSides, sides)
			assert.Equal(t, tt.wantBonus, bonus)
		})
	}
}

func TestRandomRoller_Bounds(t *testing.T) {
	roller := dice.NewRandomRoller()

	for i := 0; i < 100; i++ {
		result, err := roller.Roll(2, 6, 1)
		require.NoError(t, err)

		assert.Len(t, result.Rolls, 2)
		assert.GreaterOrEqual(t, result.Total, 3) // 1+1+1
		assert.LessOrEqual(t, result.Total, 13)   // 6+6+1
		for _, r := range result.Rolls {
			assert.GreaterOrEqual(t, r, 1)
			assert.LessOrEqual(t, r, 6)
		}
	}

	_, err := roller.Roll(0, 6, 0)
	assert.Error(t, err)
}

func TestRollExpression(t *testing.T) {
	roller := mockdice.NewManualMockRoller()
	roller.SetRolls([]int{3, 4})

	result, err := dice.RollExpression(roller, "2d6")
	require.NoError(t, err)
	assert.Equal(t, 7, result.Total)

	_, err = dice.RollExpression(roller, "nope")
	assert.Error(t, err)
}
