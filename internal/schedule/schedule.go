// Package schedule holds compute definitions, the schedule decisions the tuner
// searches over, and the lowering that turns a (compute, schedule) pair into a
// loop-nest body.
//
// Every axis is split into an outer and an inner loop by its tile factor. A
// schedule orders all split loops, optionally vectorizes the innermost loop and
// unrolls the innermost loops up to a maximum trip count.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

// ErrInvalidSchedule is returned when a schedule cannot be applied to a computation
var ErrInvalidSchedule = errors.New("invalid schedule")

// UnrollChoices are the supported maximum unroll trip counts (0 disables unrolling)
var UnrollChoices = []int{0, 4, 16, 64}

// Level selects the outer or inner half of a split axis
type Level int

const (
	Outer Level = 0
	Inner Level = 1
)

// LoopID names one loop of the split nest
type LoopID struct {
	Axis  int   `json:"axis"`
	Level Level `json:"level"`
}

func (l LoopID) String() string {
	return strconv.Itoa(l.Axis) + "." + strconv.Itoa(int(l.Level))
}

// Schedule is one point of the search space. Tiles holds the inner tile factor per
// axis; Order lists every loop outermost first.
type Schedule struct {
	Tiles     []int    `json:"tiles"`
	Order     []LoopID `json:"order"`
	Vectorize bool     `json:"vectorize"`
	Unroll    int      `json:"unroll"`
}

// DefaultOrder returns all outer loops in axis order followed by all inner loops
func DefaultOrder(naxes int) []LoopID {
	order := make([]LoopID, 0, 2*naxes)
	for a := 0; a < naxes; a++ {
		order = append(order, LoopID{Axis: a, Level: Outer})
	}
	for a := 0; a < naxes; a++ {
		order = append(order, LoopID{Axis: a, Level: Inner})
	}
	return order
}

// Identity returns the schedule that lowers to the plain, untiled loop nest
func Identity(c *ComputeDef) Schedule {
	tiles := make([]int, len(c.Axes))
	for i := range tiles {
		tiles[i] = 1
	}
	return Schedule{Tiles: tiles, Order: DefaultOrder(len(c.Axes))}
}

// Random draws a schedule whose tile factors all divide their axis extents
func Random(c *ComputeDef, rng *utils.RandSource) Schedule {
	tiles := make([]int, len(c.Axes))
	for i, a := range c.Axes {
		tiles[i] = utils.Pick(rng, utils.Divisors(a.Extent))
	}
	base := DefaultOrder(len(c.Axes))
	perm := rng.Perm(len(base))
	order := make([]LoopID, len(base))
	for i, p := range perm {
		order[i] = base[p]
	}
	return Schedule{
		Tiles:     tiles,
		Order:     order,
		Vectorize: rng.BernoulliBool(0.5),
		Unroll:    utils.Pick(rng, UnrollChoices),
	}
}

// Clone returns a deep copy
func (s Schedule) Clone() Schedule {
	return Schedule{
		Tiles:     append([]int(nil), s.Tiles...),
		Order:     append([]LoopID(nil), s.Order...),
		Vectorize: s.Vectorize,
		Unroll:    s.Unroll,
	}
}

// Key is a canonical string identifying the schedule
func (s Schedule) Key() string {
	var sb strings.Builder
	sb.WriteString("t=")
	for i, t := range s.Tiles {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(t))
	}
	sb.WriteString(";o=")
	for i, l := range s.Order {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(l.String())
	}
	if s.Vectorize {
		sb.WriteString(";v=1")
	} else {
		sb.WriteString(";v=0")
	}
	sb.WriteString(";u=")
	sb.WriteString(strconv.Itoa(s.Unroll))
	return sb.String()
}

func (s Schedule) String() string {
	return s.Key()
}

// Check verifies that s is structurally applicable to c. Tile factors that do not
// divide their extent are accepted here; the lowered body will fail validation.
func (s Schedule) Check(c *ComputeDef) error {
	n := len(c.Axes)
	if len(s.Tiles) != n {
		return fmt.Errorf("%w: %d tile factors for %d axes", ErrInvalidSchedule, len(s.Tiles), n)
	}
	for i, t := range s.Tiles {
		if t < 1 {
			return fmt.Errorf("%w: tile factor %d for axis %s", ErrInvalidSchedule, t, c.Axes[i].Name)
		}
	}
	if len(s.Order) != 2*n {
		return fmt.Errorf("%w: order has %d loops, want %d", ErrInvalidSchedule, len(s.Order), 2*n)
	}
	seen := make(map[LoopID]bool, 2*n)
	for _, l := range s.Order {
		if l.Axis < 0 || l.Axis >= n || (l.Level != Outer && l.Level != Inner) {
			return fmt.Errorf("%w: unknown loop %s", ErrInvalidSchedule, l)
		}
		if seen[l] {
			return fmt.Errorf("%w: loop %s appears twice", ErrInvalidSchedule, l)
		}
		seen[l] = true
	}
	valid := false
	for _, u := range UnrollChoices {
		if s.Unroll == u {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: unroll factor %d", ErrInvalidSchedule, s.Unroll)
	}
	return nil
}

// Encode serializes the schedule for persistence
func (s Schedule) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a schedule produced by Encode
func Decode(data []byte) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return Schedule{}, fmt.Errorf("failed to decode schedule: %w", err)
	}
	return s, nil
}
