package mqtt

import "strings"

// Match reports whether topic matches the subscription filter, honouring the single-level (+)
// and multi-level (#) wildcards.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, f := range fp {
		switch {
		case f == "#":
			return i == len(fp)-1
		case i >= len(tp):
			return false
		case f == "+":
			continue
		case f != tp[i]:
			return false
		}
	}
	return len(fp) == len(tp)
}
