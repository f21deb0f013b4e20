package persist

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Hook owns the in-memory record and writes it through a Store.
// It is never on the pulse path. Not safe for concurrent use: the scheduler owns it.
type Hook struct {
	store       Store
	rec         Record
	defaultZone uint32
	validZone   func(uint32) bool
	log         zerolog.Logger
}

// Load reads the record, repairing it if needed:
// a bad magic marker reinitializes the record with defaultZone; an unknown
// zone falls back to defaultZone. Either repair is written back.
// The session counters are reset and the previous total is captured.
func Load(store Store, defaultZone uint32, validZone func(uint32) bool, log zerolog.Logger) (*Hook, error) {
	h := &Hook{store: store, defaultZone: defaultZone, validZone: validZone, log: log}

	b, err := store.ReadRecord()
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	if err := h.rec.UnmarshalBinary(b); err != nil {
		return nil, err
	}

	dirty := false
	if !h.rec.Valid() {
		log.Warn().Uint32("magic", h.rec.Magic).Msg("persisted record invalid, reinitializing")
		h.rec = Defaults(defaultZone)
		dirty = true
	}

	h.rec.PreviousSecondsTotal = h.rec.UptimeSecondsTotal

	if validZone != nil && !validZone(h.rec.ZoneID) {
		log.Warn().Uint32("zone_id", h.rec.ZoneID).Msg("persisted zone unknown, using default")
		h.rec.ZoneID = defaultZone
		dirty = true
	}
	h.rec.UptimeSeconds = 0

	if dirty {
		if err := h.Save(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Boot counts this process start and writes the record.
// Call exactly once per process.
func (h *Hook) Boot() error {
	h.rec.Reboots++
	return h.Save()
}

// UpdateUptime sets the session uptime and the running total in memory.
func (h *Hook) UpdateUptime(session time.Duration) {
	h.rec.UptimeSeconds = uint32(session / time.Second)
	h.rec.UptimeSecondsTotal = h.rec.PreviousSecondsTotal + h.rec.UptimeSeconds
}

// SetZone activates a zone id and writes the record immediately.
func (h *Hook) SetZone(id uint32) error {
	h.rec.ZoneID = id
	return h.Save()
}

// Save writes the whole record.
func (h *Hook) Save() error {
	b, err := h.rec.MarshalBinary()
	if err != nil {
		return err
	}
	if err := h.store.WriteRecord(b); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	h.log.Debug().
		Uint32("uptime", h.rec.UptimeSeconds).
		Uint32("uptime_total", h.rec.UptimeSecondsTotal).
		Uint16("reboots", h.rec.Reboots).
		Uint32("zone_id", h.rec.ZoneID).
		Msg("record saved")
	return nil
}

// Record returns a copy of the in-memory record.
func (h *Hook) Record() Record {
	return h.rec
}
