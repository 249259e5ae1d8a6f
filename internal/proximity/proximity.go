// Package proximity maps the distance between two repository paths to a playback gain.
package proximity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const sep = "/"

// Distance counts hops between two slash-delimited paths, less one.
// Identical paths are at distance 0, sibling files at 1.
func Distance(a, b string) int {
	sa := segments(a)
	sb := segments(b)

	common := 0
	for common < len(sa) && common < len(sb) && sa[common] == sb[common] {
		common++
	}

	up := len(sa) - common
	down := len(sb) - common
	return max(up+down-1, 0)
}

func segments(p string) []string {
	parts := strings.Split(p, sep)
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// VolumeTable is a gain lookup keyed by distance. Missing distances are silent.
type VolumeTable map[int]float64

// DefaultTable is the stock policy.
var DefaultTable = VolumeTable{
	0: 1.0,
	1: 0.6,
	2: 0.1,
}

var ErrNotMonotonic = errors.New("volume table must be non-increasing in distance")

// Volume returns the gain for d, 0 when d is negative or not listed.
func (t VolumeTable) Volume(d int) float64 {
	if d < 0 {
		return 0
	}
	return t[d]
}

// Validate checks gains are within [0,1] and never grow with distance.
func (t VolumeTable) Validate() error {
	keys := make([]int, 0, len(t))
	for d, v := range t {
		if d < 0 {
			return fmt.Errorf("negative distance %d", d)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("gain %v for distance %d out of range [0,1]", v, d)
		}
		keys = append(keys, d)
	}
	sort.Ints(keys)
	// a gap in the keys means the gain drops to 0 there
	for i := 1; i < len(keys); i++ {
		prev, cur := keys[i-1], keys[i]
		if cur != prev+1 && t[cur] > 0 {
			return ErrNotMonotonic
		}
		if t[cur] > t[prev] {
			return ErrNotMonotonic
		}
	}
	if len(keys) > 0 && keys[0] != 0 && t[keys[0]] > 0 {
		return ErrNotMonotonic
	}
	return nil
}

// Volume uses DefaultTable.
func Volume(d int) float64 { return DefaultTable.Volume(d) }

// VolumeFor is the gain at which self hears a participant at other. A nil self is absent and hears nothing.
func (t VolumeTable) VolumeFor(self *string, other string) float64 {
	if self == nil {
		return 0
	}
	return t.Volume(Distance(*self, other))
}
