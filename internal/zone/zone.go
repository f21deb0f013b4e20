// Package zone is the timezone registry offered to the operator.
// Zones are identified by a stable 32-bit id (djb2 hash of the IANA name)
// so a persisted id survives reordering of the registry.
package zone

import (
	"errors"
	"fmt"
	"sort"
	"time"
	_ "time/tzdata" // embedded zone database for hosts without /usr/share/zoneinfo

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DefaultName is the zone used when nothing valid is persisted.
const DefaultName = "Europe/Berlin"

// ErrUnknownZone is returned for ids or indexes not in the registry.
var ErrUnknownZone = errors.New("zone: unknown zone")

// Zone is one registry entry.
type Zone struct {
	ID       uint32
	Name     string
	Index    int
	Location *time.Location
}

// ID hashes a zone name with djb2.
func ID(name string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// DefaultID is the id of DefaultName.
var DefaultID = ID(DefaultName)

// Registry maps ids and indexes to zones.
type Registry struct {
	zones  []Zone
	byID   map[uint32]int
	sorted []Zone
}

// NewRegistry loads every named zone. Names that fail to load are skipped
// and reported in the returned error; the registry is still usable.
func NewRegistry(names []string) (*Registry, error) {
	r := &Registry{byID: make(map[uint32]int, len(names))}
	var bad []string
	for _, name := range names {
		loc, err := time.LoadLocation(name)
		if err != nil {
			bad = append(bad, name)
			continue
		}
		id := ID(name)
		if _, dup := r.byID[id]; dup {
			continue
		}
		r.byID[id] = len(r.zones)
		r.zones = append(r.zones, Zone{ID: id, Name: name, Index: len(r.zones), Location: loc})
	}

	r.sorted = make([]Zone, len(r.zones))
	copy(r.sorted, r.zones)
	c := collate.New(language.English)
	sort.SliceStable(r.sorted, func(i, j int) bool {
		return c.CompareString(r.sorted[i].Name, r.sorted[j].Name) < 0
	})

	if len(bad) > 0 {
		return r, fmt.Errorf("load zones %v: %w", bad, ErrUnknownZone)
	}
	return r, nil
}

// Default returns the built-in registry.
func Default() *Registry {
	r, _ := NewRegistry(Names)
	return r
}

// ByID looks a zone up by its persisted id.
func (r *Registry) ByID(id uint32) (Zone, error) {
	i, ok := r.byID[id]
	if !ok {
		return Zone{}, fmt.Errorf("id %#x: %w", id, ErrUnknownZone)
	}
	return r.zones[i], nil
}

// ByIndex looks a zone up by its registry index (the form value).
func (r *Registry) ByIndex(index int) (Zone, error) {
	if index < 0 || index >= len(r.zones) {
		return Zone{}, fmt.Errorf("index %d: %w", index, ErrUnknownZone)
	}
	return r.zones[index], nil
}

// ByName looks a zone up by its IANA name.
func (r *Registry) ByName(name string) (Zone, error) {
	return r.ByID(ID(name))
}

// Valid reports whether the id is in the registry.
func (r *Registry) Valid(id uint32) bool {
	_, ok := r.byID[id]
	return ok
}

// Sorted returns the zones ordered by name for display.
func (r *Registry) Sorted() []Zone {
	return r.sorted
}

// Len returns the number of zones.
func (r *Registry) Len() int {
	return len(r.zones)
}
