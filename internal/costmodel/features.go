package costmodel

import (
	"math"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
)

// Feature indices
const (
	FeatBias = iota
	FeatLogTrips
	FeatVectorContiguous
	FeatVectorStrided
	FeatUnroll
	FeatStridedFraction
	FeatFootprint
	FeatDepth
	FeatReductionInnermost
	NumFeatures
)

var featureNames = [NumFeatures]string{
	"bias", "log_trips", "vector_contiguous", "vector_strided", "unroll",
	"strided_fraction", "footprint", "depth", "reduction_innermost",
}

// FeatureName returns the name of feature i
func FeatureName(i int) string {
	return featureNames[i]
}

// Features is the structural feature vector of a loop nest
type Features [NumFeatures]float64

type access struct {
	indices []ir.Expr
}

// Extract computes features from the dominant store of body, that is the store with
// the largest trip count.
func Extract(body ir.Stmt) Features {
	var f Features
	f[FeatBias] = 1

	var (
		best      *ir.Store
		bestLoops []*ir.For
		bestTrips = -1.0
	)
	ir.VisitStores(body, func(st *ir.Store, loops []*ir.For) {
		trips := 1.0
		for _, l := range loops {
			trips *= float64(l.Extent)
		}
		if trips >= bestTrips {
			best, bestTrips = st, trips
			bestLoops = append(bestLoops[:0], loops...)
		}
	})
	if best == nil {
		return f
	}

	f[FeatLogTrips] = math.Log(bestTrips)
	f[FeatDepth] = float64(len(bestLoops)) / 8
	if len(bestLoops) == 0 {
		return f
	}

	accesses := []access{{indices: best.Indices}}
	ir.VisitLoads(best.Value, func(l *ir.Load) {
		accesses = append(accesses, access{indices: l.Indices})
	})

	inner := bestLoops[len(bestLoops)-1]
	strided := 0
	for _, a := range accesses {
		if stridedOver(a.indices, inner.Var) {
			strided++
		}
	}
	f[FeatStridedFraction] = float64(strided) / float64(len(accesses))

	if inner.Kind == ir.ForVectorized {
		if strided == 0 {
			f[FeatVectorContiguous] = 1
		} else {
			f[FeatVectorStrided] = 1
		}
	}

	unrolled := 1.0
	for _, l := range bestLoops {
		if l.Kind == ir.ForUnrolled {
			unrolled *= float64(l.Extent)
		}
	}
	f[FeatUnroll] = math.Log2(unrolled) / 6

	tile := bestLoops[max(0, len(bestLoops)-2):]
	bytes := 0.0
	for _, a := range accesses {
		bytes += 4 * span(a.indices, tile)
	}
	f[FeatFootprint] = math.Log2(1+bytes) / 16

	reduction := true
	for _, idx := range best.Indices {
		coeffs, _, _ := ir.Affine(idx)
		if coeffs[inner.Var] != 0 {
			reduction = false
			break
		}
	}
	if reduction {
		f[FeatReductionInnermost] = 1
	}
	return f
}

// stridedOver reports whether consecutive iterations of v touch non-adjacent
// elements: v appears in a non-minor dimension, or in the minor one with |coeff| > 1.
func stridedOver(indices []ir.Expr, v string) bool {
	for d, idx := range indices {
		coeffs, _, ok := ir.Affine(idx)
		if !ok {
			return true
		}
		c := coeffs[v]
		if c == 0 {
			continue
		}
		if d != len(indices)-1 || c > 1 || c < -1 {
			return true
		}
	}
	return false
}

// span estimates how many distinct elements an access touches over the given loops
func span(indices []ir.Expr, loops []*ir.For) float64 {
	total := 1.0
	for _, idx := range indices {
		coeffs, _, ok := ir.Affine(idx)
		if !ok {
			continue
		}
		width := 1
		for _, l := range loops {
			c := coeffs[l.Var]
			if c < 0 {
				c = -c
			}
			width += c * (l.Extent - 1)
		}
		total *= float64(width)
	}
	return total
}
