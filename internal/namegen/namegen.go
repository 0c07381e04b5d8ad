// Package namegen produces memorable adjective-noun agent names like
// BlueLake or QuietFox. Names are display handles, not identifiers:
// callers deduplicate against their own registry and re-roll on
// collision.
package namegen

import (
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"
)

var adjectives = []string{
	"Amber", "Azure", "Blue", "Bold", "Brave", "Bright", "Bronze", "Calm",
	"Clever", "Copper", "Coral", "Crimson", "Deep", "Eager", "Fleet", "Gentle",
	"Gold", "Green", "Grey", "Happy", "Iron", "Ivory", "Jade", "Keen",
	"Lively", "Lunar", "Mellow", "Misty", "Noble", "Pale", "Proud", "Quick",
	"Quiet", "Rapid", "Red", "Sable", "Sharp", "Silent", "Silver", "Solar",
	"Stout", "Swift", "Tidal", "Vivid", "Warm", "Wild", "Wise", "Witty",
}

var nouns = []string{
	"Aspen", "Badger", "Bay", "Bear", "Birch", "Brook", "Cedar", "Cliff",
	"Cloud", "Comet", "Crane", "Creek", "Crow", "Dawn", "Deer", "Delta",
	"Dune", "Eagle", "Elm", "Falcon", "Fern", "Finch", "Fox", "Glade",
	"Grove", "Hare", "Hawk", "Heron", "Hill", "Lake", "Lark", "Lynx",
	"Maple", "Marsh", "Moose", "Otter", "Owl", "Peak", "Pine", "Raven",
	"Reef", "Ridge", "River", "Robin", "Shore", "Stone", "Swan", "Wolf",
}

var (
	rng     *rand.Rand
	rngOnce sync.Once
)

// initRNG seeds the generator, honoring WAGGLE_NAME_SEED for
// deterministic tests.
func initRNG() {
	rngOnce.Do(func() {
		seed := time.Now().UnixNano()
		if s := os.Getenv("WAGGLE_NAME_SEED"); s != "" {
			if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
				seed = parsed
			}
		}
		// nolint:gosec // G404: display names, not security material
		rng = rand.New(rand.NewSource(seed))
	})
}

// New returns a random adjective-noun name.
func New() string {
	initRNG()
	return adjectives[rng.Intn(len(adjectives))] + nouns[rng.Intn(len(nouns))]
}

// Combinations reports the size of the name space, for callers deciding
// how many collision re-rolls are sensible.
func Combinations() int {
	return len(adjectives) * len(nouns)
}
