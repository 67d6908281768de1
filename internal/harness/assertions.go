package harness

import (
	"regexp"
	"sort"
	"strconv"
)

// closingRef matches a closing keyword followed by an issue reference:
// "Closes #12", "fixes: #12", "RESOLVED #12". The number is captured whole,
// so "#12" never matches inside "#123".
var closingRef = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)(?::\s*|\s+)#(\d+)`)

// issueRef matches any "#N" reference.
var issueRef = regexp.MustCompile(`#(\d+)`)

// dependencyRef matches "depends on #N", "blocked by #N" and "requires #N".
var dependencyRef = regexp.MustCompile(`(?i)\b(?:depends\s+on|blocked\s+by|requires)\s+#(\d+)`)

// ClosesIssue reports whether body links issue n with a closing keyword.
// A plain reference such as "Relates to #n" does not count.
func ClosesIssue(body string, n int) bool {
	return containsRef(closingRef, body, n)
}

// ReferencesIssue reports whether body mentions #n at all.
func ReferencesIssue(body string, n int) bool {
	return containsRef(issueRef, body, n)
}

// ClosedIssues returns every issue number body closes, ascending and
// without duplicates.
func ClosedIssues(body string) []int {
	return refs(closingRef, body)
}

// DependencyRefs returns the issues body declares a dependency on,
// ascending and without duplicates.
func DependencyRefs(body string) []int {
	return refs(dependencyRef, body)
}

// IsCircular reports whether issue n declares a dependency on itself.
func IsCircular(n int, body string) bool {
	return containsRef(dependencyRef, body, n)
}

func containsRef(re *regexp.Regexp, body string, n int) bool {
	for _, m := range re.FindAllStringSubmatch(body, -1) {
		if got, err := strconv.Atoi(m[1]); err == nil && got == n {
			return true
		}
	}
	return false
}

func refs(re *regexp.Regexp, body string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range re.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
