package botspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Table(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Command
	}{
		{
			name:  "Bare command",
			input: "-m",
			want:  []Command{{Name: "m"}},
		},
		{
			name:  "Command with value",
			input: "-m test",
			want:  []Command{{Name: "m", Values: []string{"test"}}},
		},
		{
			name:  "Command with value and boolean flag",
			input: "-m test --flag",
			want:  []Command{{Name: "m", Values: []string{"test"}, Flags: []Flag{{Name: "flag"}}}},
		},
		{
			name:  "Flag with value",
			input: "-m --flag flag_value",
			want:  []Command{{Name: "m", Flags: []Flag{{Name: "flag", Values: []string{"flag_value"}}}}},
		},
		{
			name:  "Flag with two values",
			input: "-m test --flag v1 v2",
			want: []Command{{
				Name:   "m",
				Values: []string{"test"},
				Flags:  []Flag{{Name: "flag", Values: []string{"v1", "v2"}}},
			}},
		},
		{
			name:  "Delimiter splits commands",
			input: "-m test | -s",
			want:  []Command{{Name: "m", Values: []string{"test"}}, {Name: "s"}},
		},
		{
			name:  "Multiple flags",
			input: "-m --one v1 --two v2",
			want: []Command{{
				Name:  "m",
				Flags: []Flag{{Name: "one", Values: []string{"v1"}}, {Name: "two", Values: []string{"v2"}}},
			}},
		},
		{
			name:  "Flag cluster",
			input: "-m test -abc",
			want: []Command{{
				Name:   "m",
				Values: []string{"test"},
				Flags:  []Flag{{Name: "a"}, {Name: "b"}, {Name: "c"}},
			}},
		},
		{
			name:  "Long flag reopens value context after cluster",
			input: "-m -ab --flag v1",
			want: []Command{{
				Name:  "m",
				Flags: []Flag{{Name: "a"}, {Name: "b"}, {Name: "flag", Values: []string{"v1"}}},
			}},
		},
		{
			name:  "Quoted multi-token value",
			input: `-m "multi word value"`,
			want:  []Command{{Name: "m", Values: []string{"multi word value"}}},
		},
		{
			name:  "Escaped quote stays literal",
			input: `-m \"test\"`,
			want:  []Command{{Name: "m", Values: []string{`"test"`}}},
		},
		{
			name:  "Quoted delimiter is a value",
			input: `-m "|"`,
			want:  []Command{{Name: "m", Values: []string{"|"}}},
		},
		{
			name:  "Empty input",
			input: "",
			want:  nil,
		},
		{
			name:  "Plain chat text is not a command",
			input: "hello there general",
			want:  nil,
		},
		{
			name:  "Leading flag stops parsing quietly",
			input: "--flag -m",
			want:  nil,
		},
		{
			name:  "Non-command after delimiter ends the message",
			input: "-m test | whatever",
			want:  []Command{{Name: "m", Values: []string{"test"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Run("Positional value after flag cluster", func(t *testing.T) {
		_, err := Parse("-m test -abc value", "")
		var unexpected *UnexpectedTokenError
		require.ErrorAs(t, err, &unexpected)
		assert.Equal(t, "value", unexpected.Token)
	})

	t.Run("Unterminated quote", func(t *testing.T) {
		_, err := Parse(`-m "value`, "")
		var enclosing *EnclosingError
		assert.ErrorAs(t, err, &enclosing)
	})

	t.Run("Value before any command parses to nothing", func(t *testing.T) {
		got, err := Parse("value -m", "")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestParse_CustomPrefix(t *testing.T) {
	got, err := Parse("!m test", "!")
	require.NoError(t, err)
	assert.Equal(t, []Command{{Name: "m", Values: []string{"test"}}}, got)
}
