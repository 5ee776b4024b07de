package reconcile

import "strings"

// SplitName puts the first whitespace separated token in first and the rest
// in last: "Mary Jane Smith" is "Mary" / "Jane Smith".
func SplitName(full string) (first, last string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
