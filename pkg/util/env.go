package util

import "os"

// FirstEnv returns the value of the first non-empty variable in names.
func FirstEnv(names ...string) string {
	for _, n := range names {
		if val := os.Getenv(n); val != "" {
			return val
		}
	}
	return ""
}
