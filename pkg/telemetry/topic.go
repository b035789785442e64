package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the prefix the pump controllers publish under.
const DefaultTopicPrefix = "caracas/pumps"

const (
	telemetrySuffix = "telemetry"
	controlSuffix   = "control"
)

var ErrInvalidTopic = errors.New("invalid telemetry topic")

// TelemetryFilter returns the wildcard subscription covering every pump: <prefix>/+/telemetry.
func TelemetryFilter(prefix string) string {
	return fmt.Sprintf("%s/+/%s", normalizePrefix(prefix), telemetrySuffix)
}

// TelemetryTopic returns the topic a pump publishes readings on.
func TelemetryTopic(prefix string, id PumpID) string {
	return fmt.Sprintf("%s/%s/%s", normalizePrefix(prefix), id, telemetrySuffix)
}

// ControlTopic returns the topic a pump listens for commands on.
func ControlTopic(prefix string, id PumpID) string {
	return fmt.Sprintf("%s/%s/%s", normalizePrefix(prefix), id, controlSuffix)
}

// ParseTopic extracts the pump id from <prefix>/<id>/telemetry. The id must be exactly one
// non-empty segment.
func ParseTopic(prefix, topic string) (PumpID, error) {
	p := normalizePrefix(prefix) + "/"
	rest, ok := strings.CutPrefix(topic, p)
	if !ok {
		return "", fmt.Errorf("%w: %q does not start with %q", ErrInvalidTopic, topic, p)
	}

	id, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != telemetrySuffix {
		return "", fmt.Errorf("%w: %q is not <prefix>/<id>/%s", ErrInvalidTopic, topic, telemetrySuffix)
	}
	if id == "" || strings.ContainsAny(id, "+#") {
		return "", fmt.Errorf("%w: bad pump id segment %q", ErrInvalidTopic, id)
	}
	return PumpID(id), nil
}

// ValidatePrefix rejects prefixes that cannot be used as a literal topic root.
func ValidatePrefix(prefix string) error {
	p := normalizePrefix(prefix)
	if p == "" {
		return errors.New("topic prefix must not be empty")
	}
	if strings.ContainsAny(p, "+#") {
		return fmt.Errorf("topic prefix %q must not contain wildcards", prefix)
	}
	return nil
}

func normalizePrefix(prefix string) string {
	return strings.TrimSuffix(prefix, "/")
}
