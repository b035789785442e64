package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrDecode = errors.New("telemetry decode error")

// Controllers without a synced clock report seconds since boot. Anything before this instant is
// treated as "no timestamp".
var minDeviceTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

type payload struct {
	WaterLevelPercent  *float64        `json:"water_level_percent"`
	CurrentAmps        *float64        `json:"current_amps"`
	InflowRate         *float64        `json:"current_inflow_rate"`
	FlowStatus         *string         `json:"street_flow_status"`
	TemperatureCelsius *float64        `json:"pump_temperature_celsius"`
	Timestamp          json.RawMessage `json:"timestamp"`
}

// Decode turns a telemetry payload into a Reading for pumpID. Any pump_id in the payload is
// ignored. now is used when the payload has no usable timestamp.
func Decode(pumpID PumpID, data []byte, now time.Time) (Reading, error) {
	if pumpID == "" {
		return Reading{}, fmt.Errorf("%w: empty pump id", ErrDecode)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var missing []string
	if p.WaterLevelPercent == nil {
		missing = append(missing, "water_level_percent")
	}
	if p.CurrentAmps == nil {
		missing = append(missing, "current_amps")
	}
	if p.InflowRate == nil {
		missing = append(missing, "current_inflow_rate")
	}
	if p.FlowStatus == nil || *p.FlowStatus == "" {
		missing = append(missing, "street_flow_status")
	}
	if len(missing) > 0 {
		return Reading{}, fmt.Errorf("%w: missing required fields: %s", ErrDecode, strings.Join(missing, ", "))
	}

	ts, err := parseTimestamp(p.Timestamp, now)
	if err != nil {
		return Reading{}, err
	}

	return Reading{
		PumpID:             pumpID,
		Timestamp:          ts,
		WaterLevelPercent:  *p.WaterLevelPercent,
		CurrentAmps:        *p.CurrentAmps,
		InflowRate:         *p.InflowRate,
		FlowStatus:         *p.FlowStatus,
		TemperatureCelsius: p.TemperatureCelsius,
	}, nil
}

// ExtractPumpID reads the pump_id field of an HTTP-submitted reading.
func ExtractPumpID(data []byte) (PumpID, error) {
	var body struct {
		PumpID *PumpID `json:"pump_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if body.PumpID == nil || *body.PumpID == "" {
		return "", fmt.Errorf("%w: missing required fields: pump_id", ErrDecode)
	}
	id, err := ValidatePumpID(body.PumpID.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return id, nil
}

func parseTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	now = now.UTC()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return now, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrDecode, err)
		}
		if s == "" {
			return now, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q is not RFC 3339", ErrDecode, s)
		}
		return sanitizeDeviceTime(t, now), nil
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp must be a string or epoch number", ErrDecode)
		}
		return sanitizeDeviceTime(epochToTime(f), now), nil
	}
}

// epochToTime accepts seconds or, for values too large to be seconds, milliseconds.
func epochToTime(f float64) time.Time {
	if math.Abs(f) >= 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func sanitizeDeviceTime(t, now time.Time) time.Time {
	if t.Before(minDeviceTime) {
		return now
	}
	return t.UTC()
}
