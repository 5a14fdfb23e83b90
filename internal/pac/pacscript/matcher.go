package pacscript

import "strings"

// SecondLevel reduces host exactly as the generated script does: one trailing
// dot is dropped and everything before the second-to-last dot is cut, so
// "a.b.example.com" and "example.com" both become "example.com". Hosts with at
// most one dot are returned unchanged.
func SecondLevel(host string) string {
	host = strings.TrimSuffix(host, ".")

	lastDot := strings.LastIndexByte(host, '.')
	if lastDot == -1 {
		return host
	}

	// lastIndexOf('.', -1) in the script still inspects index 0.
	var prev int
	if lastDot == 0 {
		prev = 0
	} else {
		prev = strings.LastIndexByte(host[:lastDot], '.')
	}
	if prev != -1 {
		host = host[prev+1:]
	}
	return host
}

// Search is the closed-interval binary search embedded in the script. sorted
// must be in ascending order.
func Search(sorted []string, target string) bool {
	left, right := 0, len(sorted)-1
	for left <= right {
		mid := left + (right-left)/2
		switch {
		case sorted[mid] == target:
			return true
		case sorted[mid] < target:
			left = mid + 1
		default:
			right = mid - 1
		}
	}
	return false
}

// Evaluate returns the directive the rendered script yields for host.
// sorted must come from Prepare.
func Evaluate(sorted []string, endpoint, host string) string {
	if Search(sorted, SecondLevel(host)) {
		return Directive(endpoint)
	}
	return Direct
}
