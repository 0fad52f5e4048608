package animation

import "math/rand/v2"

// PickRandom returns a uniformly chosen entry of pool, or "" if it is empty.
// A nil rng uses the global source.
func PickRandom(rng *rand.Rand, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	if rng == nil {
		return pool[rand.IntN(len(pool))]
	}
	return pool[rng.IntN(len(pool))]
}
