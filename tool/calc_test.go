package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"2+2", "4"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"10 / 4", "2.5"},
		{"7 % 3", "1"},
		{"-5 + 2", "-3"},
		{"+5", "5"},
		{"3.5 * 2", "7"},
		{"((1))", "1"},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"2 +",
		"1 / 0",
		"5 % 0",
		"(1 + 2",
		"abc",
		"2 ** 3",
		"1 2",
	} {
		_, err := Evaluate(expr)
		assert.Error(t, err, expr)
	}
}
