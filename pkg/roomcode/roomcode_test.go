package roomcode

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestGenerate_Format(t *testing.T) {
	for i := 0; i < 500; i++ {
		code := Generate()
		require.Len(t, code, Length)
		assert.True(t, codePattern.MatchString(code), "generated %q", code)
		assert.True(t, Validate(code))
	}
}

func TestGenerate_UsesWholeAlphabet(t *testing.T) {
	seen := make(map[rune]bool)
	for i := 0; i < 2000; i++ {
		for _, r := range Generate() {
			seen[r] = true
		}
	}
	assert.Len(t, seen, len(alphabet))
}

func TestValidate(t *testing.T) {
	cases := map[string]bool{
		"AB12CD":  true,
		"ZZZZZZ":  true,
		"000000":  true,
		"ab12cd":  false,
		"AB12C":   false,
		"AB12CDE": false,
		"AB-2CD":  false,
		"":        false,
		"ÅB12CD":  false,
	}
	for in, want := range cases {
		assert.Equal(t, want, Validate(in), "Validate(%q)", in)
		assert.Equal(t, codePattern.MatchString(in), Validate(in), "regexp parity for %q", in)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"ab12cd":      "AB12CD",
		" ab-12 cd ":  "AB12CD",
		"AB12CD9999":  "AB12CD",
		"a!b":         "AB",
		"":            "",
		"  x y z 1 2": "XYZ12",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"AB12CD", "ab-12cd", "q w e r t y u", Generate(), "!!"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestUnique_RetriesOnCollision(t *testing.T) {
	codes := []string{"AAAAAA", "BBBBBB", "CCCCCC"}
	i := 0
	gen := func() string {
		c := codes[i]
		i++
		return c
	}
	taken := map[string]bool{"AAAAAA": true, "BBBBBB": true}

	code, err := Unique(gen, 5, func(c string) bool { return !taken[c] })
	require.NoError(t, err)
	assert.Equal(t, "CCCCCC", code)
	assert.Equal(t, 3, i)
}

func TestUnique_Exhausted(t *testing.T) {
	calls := 0
	_, err := Unique(func() string { calls++; return "AAAAAA" }, 4, func(string) bool { return false })
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, calls)
}
