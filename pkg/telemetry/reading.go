// Package telemetry defines pump readings, control commands and the topic layout shared by the
// ingest listener and the control relay.
package telemetry

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// PumpID identifies a device. It is opaque to the relay but encodes as a JSON number when it is
// a plain decimal integer, which is what the dashboard and the ESP32 firmware expect.
type PumpID string

func (id PumpID) String() string { return string(id) }

func (id PumpID) MarshalJSON() ([]byte, error) {
	if n, ok := id.number(); ok {
		return []byte(strconv.FormatUint(n, 10)), nil
	}
	return json.Marshal(string(id))
}

func (id *PumpID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*id = PumpID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("pump_id must be a number or string: %w", err)
	}
	*id = PumpID(s)
	return nil
}

func (id PumpID) number() (uint64, bool) {
	s := string(id)
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}

// Reading is one persisted telemetry observation.
type Reading struct {
	ID                 int64     `json:"id,omitempty"`
	PumpID             PumpID    `json:"pump_id"`
	Timestamp          time.Time `json:"timestamp"`
	WaterLevelPercent  float64   `json:"water_level_percent"`
	CurrentAmps        float64   `json:"current_amps"`
	InflowRate         float64   `json:"current_inflow_rate"`
	FlowStatus         string    `json:"street_flow_status"`
	TemperatureCelsius *float64  `json:"pump_temperature_celsius"`
}

// ComparePumpIDs orders numeric ids numerically and falls back to lexical order otherwise.
// Numeric ids sort before non-numeric ones.
func ComparePumpIDs(a, b PumpID) int {
	na, aok := a.number()
	nb, bok := b.number()
	switch {
	case aok && bok:
		return cmp.Compare(na, nb)
	case aok:
		return -1
	case bok:
		return 1
	}
	return cmp.Compare(a, b)
}

// SortNewestFirst orders readings by timestamp descending. Equal timestamps are ordered by
// descending row id so the later insert wins.
func SortNewestFirst(readings []Reading) {
	slices.SortStableFunc(readings, func(a, b Reading) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// LatestPerPump reduces readings to the most recent one per pump, ordered by pump id.
// The input is not assumed to be sorted and is left untouched.
func LatestPerPump(readings []Reading) []Reading {
	sorted := slices.Clone(readings)
	SortNewestFirst(sorted)

	seen := make(map[PumpID]struct{}, len(sorted))
	latest := make([]Reading, 0, len(sorted))
	for _, r := range sorted {
		if _, ok := seen[r.PumpID]; ok {
			continue
		}
		seen[r.PumpID] = struct{}{}
		latest = append(latest, r)
	}

	slices.SortFunc(latest, func(a, b Reading) int {
		return ComparePumpIDs(a.PumpID, b.PumpID)
	})
	return latest
}
