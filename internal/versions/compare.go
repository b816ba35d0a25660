package versions

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Compare orders two package version strings. Versions that parse as semver
// are compared by semver precedence and sort before versions that do not
// parse; unparseable versions compare lexicographically. The result is -1, 0
// or +1.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)

	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
		// Equal precedence ("1.0" and "1.0.0") still needs a stable order.
		return compareStrings(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return compareStrings(a, b)
	}
}

// Sort orders versions in place, oldest first, so the last element is the latest.
func Sort(vs []string) {
	sort.SliceStable(vs, func(i, j int) bool {
		return Compare(vs[i], vs[j]) < 0
	})
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
