package planner

import (
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/user-none/motioncore/axis"
)

// JunctionConfig is the global cornering configuration (spec §6):
// per-axis deviation tolerance plus the shared junction acceleration
// limit.
type JunctionConfig struct {
	Deviation     axis.Vector
	JunctionAccel float64
}

// sentinelVelocity stands in for "no cornering limit" on a near-collinear
// junction (spec §4.3: costheta < -0.99).
const sentinelVelocity = 1e12

// junctionKey quantizes a direction pair for the cache. computeJunctionVelocity's
// delta sum depends on the individual per-axis components of a and b,
// not just their dot product — two direction pairs can share costheta
// while disagreeing on delta (e.g. a=(1,0,0,0,0,0),b=(0,1,0,0,0,0) vs.
// a=(1,0,0,0,0,0),b=(0,.6,.8,0,0,0) both have costheta=0 but, whenever
// the Y and Z deviations differ, different deltas), so the key must quantize a and b
// themselves, not just their angle. A 1e-4 bucket on each unit-vector
// component is well under any jerk-dominated velocity error, and still
// collapses the effectively infinite space of unit vectors sharing an
// exact direction pair into a small, highly-reused key (repeated
// corners on the same two axis directions in a pocket-milling
// toolpath, for instance).
type junctionKey struct {
	aBucket     [int(axis.Count)]int64
	bBucket     [int(axis.Count)]int64
	devBucket   int64
	accelBucket int64
}

// JunctionCache memoizes JunctionVelocity results. Spec §3 already
// calls out caching "last used jerk terms... to avoid recomputation
// when consecutive blocks share jerk"; this generalizes that single-slot
// cache to a bounded LRU so repeated corner angles anywhere in the
// recent queue benefit, not just back-to-back identical moves.
type JunctionCache struct {
	cache *lru.Cache[junctionKey, float64]
}

// NewJunctionCache builds a cache holding up to size entries.
func NewJunctionCache(size int) *JunctionCache {
	c, err := lru.New[junctionKey, float64](size)
	if err != nil {
		// Only returns an error for size <= 0; callers pass a
		// compile-time constant, so this is a programming error.
		panic(err)
	}
	return &JunctionCache{cache: c}
}

func quantize(f, step float64) int64 {
	return int64(math.Round(f / step))
}

// JunctionVelocity computes the maximum cornering speed between unit
// vectors a and b (spec §4.3). cfg.Deviation and cfg.JunctionAccel are
// the global per-axis/global configuration; cache may be nil to skip
// memoization.
func JunctionVelocity(a, b axis.Vector, cfg JunctionConfig, cache *JunctionCache) float64 {
	costheta := -a.Dot(b)

	var key junctionKey
	var useCache bool
	if cache != nil {
		for i := 0; i < int(axis.Count); i++ {
			key.aBucket[i] = quantize(a[i], 1e-4)
			key.bBucket[i] = quantize(b[i], 1e-4)
		}
		key.devBucket = quantize(cfg.Deviation.Length(), 1e-6)
		key.accelBucket = quantize(cfg.JunctionAccel, 1e-3)
		if v, ok := cache.cache.Get(key); ok {
			return v
		}
		useCache = true
	}

	v := computeJunctionVelocity(a, b, costheta, cfg)
	if useCache {
		cache.cache.Add(key, v)
	}
	return v
}

func computeJunctionVelocity(a, b axis.Vector, costheta float64, cfg JunctionConfig) float64 {
	if costheta < -0.99 {
		return sentinelVelocity
	}
	if costheta > 0.99 {
		return 0
	}

	// Per-axis junction deviation combination: (|a*dev| + |b*dev|)/2,
	// where |a*dev| is the length of the vector of a's components each
	// scaled by that axis's deviation tolerance (likewise for b).
	var aDelta, bDelta float64
	for i := 0; i < int(axis.Count); i++ {
		da := a[i] * cfg.Deviation[i]
		db := b[i] * cfg.Deviation[i]
		aDelta += da * da
		bDelta += db * db
	}
	delta := (math.Sqrt(aDelta) + math.Sqrt(bDelta)) / 2

	sinHalfTheta := math.Sqrt((1 - costheta) / 2)
	if sinHalfTheta >= 1 {
		return 0
	}
	radius := delta * sinHalfTheta / (1 - sinHalfTheta)
	return math.Sqrt(radius * cfg.JunctionAccel)
}
