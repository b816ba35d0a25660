package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{name: "newer major version", a: "2.0.0", b: "1.0.0", expected: 1},
		{name: "newer minor version", a: "1.2.0", b: "1.1.0", expected: 1},
		{name: "older patch version", a: "1.0.1", b: "1.0.2", expected: -1},
		{name: "equal versions", a: "1.0.0", b: "1.0.0", expected: 0},
		{name: "release vs prerelease", a: "1.0.0", b: "1.0.0-alpha", expected: 1},
		{name: "prerelease vs release", a: "1.0.0-alpha", b: "1.0.0", expected: -1},
		{name: "numeric not lexicographic", a: "10.0.0", b: "9.0.0", expected: 1},
		{name: "four part versions fall back to strings", a: "1.0.0.2", b: "1.0.0.10", expected: 1},
		{name: "semver sorts before non-semver", a: "custom", b: "1.0.0", expected: 1},
		{name: "non-semver sorts after semver", a: "1.0.0", b: "custom", expected: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Compare(tt.a, tt.b))
		})
	}
}

func TestSort(t *testing.T) {
	t.Parallel()

	vs := []string{"10.0.0", "1.0.0-beta", "2.0.0", "weird", "1.0.0", "1.0"}
	Sort(vs)
	assert.Equal(t, []string{"1.0.0-beta", "1.0", "1.0.0", "2.0.0", "10.0.0", "weird"}, vs)
}
