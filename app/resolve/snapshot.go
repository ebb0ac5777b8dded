package resolve

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fleximart/retail-etl/app/row"
)

// Version is one row of a Type-2 dimension.
type Version struct {
	Key        int64
	NaturalKey int64
	Tracked    []string
	Hash       uint64
	Start      time.Time
	End        *time.Time
	Current    bool
}

// Covers reports whether t falls inside the version's validity window.
func (v Version) Covers(t time.Time) bool {
	if t.Before(v.Start) {
		return false
	}
	return v.End == nil || !t.After(*v.End)
}

// Fingerprint hashes tracked attribute values in order.
func Fingerprint(tracked []string) uint64 {
	return xxhash.Sum64String(strings.Join(tracked, "\x1f"))
}

// Dimension holds every version of a Type-2 dimension, grouped by natural
// key and ordered by start date.
type Dimension struct {
	versions map[int64][]Version
	nextKey  int64
}

func NewDimension() *Dimension {
	return &Dimension{versions: map[int64][]Version{}, nextKey: 1}
}

// Add inserts a stored version. Surrogate keys handed out later start above
// the highest key seen.
func (d *Dimension) Add(v Version) {
	if v.Hash == 0 {
		v.Hash = Fingerprint(v.Tracked)
	}
	vs := append(d.versions[v.NaturalKey], v)
	slices.SortStableFunc(vs, func(a, b Version) int { return a.Start.Compare(b.Start) })
	d.versions[v.NaturalKey] = vs
	if v.Key >= d.nextKey {
		d.nextKey = v.Key + 1
	}
}

// NextKey is the surrogate key the next new version will get.
func (d *Dimension) NextKey() int64 { return d.nextKey }

func (d *Dimension) Len() int { return len(d.versions) }

func (d *Dimension) Versions(naturalKey int64) []Version {
	return slices.Clone(d.versions[naturalKey])
}

func (d *Dimension) Current(naturalKey int64) (Version, bool) {
	for _, v := range slices.Backward(d.versions[naturalKey]) {
		if v.Current {
			return v, true
		}
	}
	return Version{}, false
}

// AsOf returns the version valid on t.
func (d *Dimension) AsOf(naturalKey int64, t time.Time) (Version, bool) {
	for _, v := range d.versions[naturalKey] {
		if v.Covers(t) {
			return v, true
		}
	}
	return Version{}, false
}

func (d *Dimension) Clone() *Dimension {
	c := &Dimension{versions: make(map[int64][]Version, len(d.versions)), nextKey: d.nextKey}
	for k, vs := range d.versions {
		c.versions[k] = slices.Clone(vs)
	}
	return c
}

func (d *Dimension) allocate() int64 {
	k := d.nextKey
	d.nextKey++
	return k
}

func (d *Dimension) replace(v Version) {
	vs := d.versions[v.NaturalKey]
	for i := range vs {
		if vs[i].Key == v.Key {
			vs[i] = v
			return
		}
	}
}

// Calendar is the set of date keys present in dim_date, held as its bounds
// and the unseeded stretches between them.
type Calendar struct {
	Min, Max int
	Gaps     []KeyRange
}

// KeyRange is an inclusive run of date keys.
type KeyRange struct {
	From, To int
}

// NewCalendar builds a calendar from seeded date keys in ascending order.
func NewCalendar(keys []int) Calendar {
	if len(keys) == 0 {
		return Calendar{}
	}
	cal := Calendar{Min: keys[0], Max: keys[len(keys)-1]}
	for i := 1; i < len(keys); i++ {
		next := DateKey(KeyDate(keys[i-1]).AddDate(0, 0, 1))
		if next < keys[i] {
			cal.Gaps = append(cal.Gaps, KeyRange{From: next, To: DateKey(KeyDate(keys[i]).AddDate(0, 0, -1))})
		}
	}
	return cal
}

// DateKey formats t as YYYYMMDD.
func DateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// KeyDate is the UTC day a YYYYMMDD key names.
func KeyDate(k int) time.Time {
	return time.Date(k/10000, time.Month(k/100%100), k%100, 0, 0, 0, 0, time.UTC)
}

// Key returns the date key for t when dim_date holds it.
func (c Calendar) Key(t time.Time) (int, error) {
	k := DateKey(t)
	if k < c.Min || k > c.Max {
		return 0, &row.DateOutOfRangeError{Date: t, Min: c.Min, Max: c.Max}
	}
	// First gap ending on or after k.
	i, _ := slices.BinarySearchFunc(c.Gaps, k, func(g KeyRange, k int) int { return cmp.Compare(g.To, k) })
	if i < len(c.Gaps) && c.Gaps[i].From <= k {
		return 0, &row.DateOutOfRangeError{Date: t, Min: c.Min, Max: c.Max, Gap: true}
	}
	return k, nil
}

// Snapshot is the store state resolution runs against.
type Snapshot struct {
	Customers *Dimension
	Products  *Dimension
	Calendar  Calendar
}

func NewSnapshot(cal Calendar) Snapshot {
	return Snapshot{Customers: NewDimension(), Products: NewDimension(), Calendar: cal}
}

func (s Snapshot) Clone() Snapshot {
	return Snapshot{Customers: s.Customers.Clone(), Products: s.Products.Clone(), Calendar: s.Calendar}
}
