// Package geo groups nearby restaurants for the discovery view.
package geo

import (
	"math"
	"sort"
	"sync"
)

// EarthRadiusMiles is the spherical-earth radius used by Distance. Displayed
// distances depend on this exact value.
const EarthRadiusMiles = 3958.8

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the haversine great-circle distance in miles.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMiles * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Candidate is one place that may be shown on the map.
type Candidate struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Point Point  `json:"point"`
}

// Member is a candidate together with its distance from the origin.
type Member struct {
	Candidate
	Miles float64 `json:"miles"`
}

// Cluster is a seed and every candidate pulled in around it. Members[0] is
// the seed.
type Cluster struct {
	Members []Member `json:"members"`
}

// Seed returns the member the cluster was grown from.
func (c Cluster) Seed() Member {
	return c.Members[0]
}

// Options bounds the clustering.
type Options struct {
	MaxRadiusMiles     float64
	ClusterRadiusMiles float64
	MaxClusters        int
}

// DefaultOptions returns 15 mile reach, 3 mile clusters, at most 4 clusters.
func DefaultOptions() Options {
	return Options{MaxRadiusMiles: 15, ClusterRadiusMiles: 3, MaxClusters: 4}
}

// Clusters groups candidates around origin.
//
// Candidates farther than MaxRadiusMiles are dropped and the rest are sorted
// by distance from origin. A single greedy pass then seeds a cluster with the
// next unassigned candidate and pulls in every unassigned candidate within
// ClusterRadiusMiles of that seed. Membership is measured from the seed, not
// a centroid, and is never revisited. Only the MaxClusters closest clusters
// (by seed distance) are returned.
func Clusters(origin Point, candidates []Candidate, opts Options) []Cluster {
	var near []Member
	for _, c := range candidates {
		d := Distance(origin, c.Point)
		if d <= opts.MaxRadiusMiles {
			near = append(near, Member{Candidate: c, Miles: d})
		}
	}
	sort.SliceStable(near, func(i, j int) bool { return near[i].Miles < near[j].Miles })

	assigned := make([]bool, len(near))
	var out []Cluster
	for i := range near {
		if assigned[i] {
			continue
		}
		if opts.MaxClusters > 0 && len(out) == opts.MaxClusters {
			break
		}
		assigned[i] = true
		cl := Cluster{Members: []Member{near[i]}}
		for j := i + 1; j < len(near); j++ {
			if assigned[j] {
				continue
			}
			if Distance(near[i].Point, near[j].Point) <= opts.ClusterRadiusMiles {
				assigned[j] = true
				cl.Members = append(cl.Members, near[j])
			}
		}
		out = append(out, cl)
	}
	return out
}

// Engine holds the last clustering and a rotation cursor over it.
type Engine struct {
	opts Options

	mu       sync.Mutex
	origin   Point
	hasPoint bool
	clusters []Cluster
	cursor   int
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Nearby clusters candidates around origin and remembers the result for
// CycleNext. The cursor resets to the first cluster when origin moves.
func (e *Engine) Nearby(origin Point, candidates []Candidate) []Cluster {
	clusters := Clusters(origin, candidates, e.opts)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasPoint || origin != e.origin {
		e.cursor = 0
	}
	e.origin = origin
	e.hasPoint = true
	e.clusters = clusters
	if len(clusters) > 0 {
		e.cursor %= len(clusters)
	} else {
		e.cursor = 0
	}
	return clusters
}

// CycleNext returns the cluster at the cursor and advances it, wrapping
// around. It returns false when there are no clusters.
func (e *Engine) CycleNext() (Cluster, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.clusters) == 0 {
		return Cluster{}, false
	}
	c := e.clusters[e.cursor]
	e.cursor = (e.cursor + 1) % len(e.clusters)
	return c, true
}
