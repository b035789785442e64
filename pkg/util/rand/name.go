package rand

import (
	mrand "math/rand/v2"
)

var adjectives = []string{
	"brisk", "calm", "clear", "deep", "eager",
	"gentle", "humid", "lively", "misty", "quick",
	"rapid", "steady", "still", "swift", "tidal",
	"vivid", "wild", "cool", "bright", "quiet",
}

var waters = []string{
	"brook", "canal", "cascade", "creek", "delta",
	"estuary", "fjord", "geyser", "lagoon", "marsh",
	"rapids", "reservoir", "river", "spring", "stream",
	"torrent", "weir", "wellspring", "cistern", "aqueduct",
}

// NewName returns a random adjective-noun pair such as "steady-creek".
func NewName() string {
	return adjectives[mrand.IntN(len(adjectives))] + "-" + waters[mrand.IntN(len(waters))]
}
