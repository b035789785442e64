package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "caracas/pumps/+/telemetry", TelemetryFilter(DefaultTopicPrefix))
	assert.Equal(t, "caracas/pumps/+/telemetry", TelemetryFilter("caracas/pumps/"))
	assert.Equal(t, "caracas/pumps/7/control", ControlTopic(DefaultTopicPrefix, "7"))
	assert.Equal(t, "caracas/pumps/7/telemetry", TelemetryTopic(DefaultTopicPrefix, "7"))
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		topic   string
		want    PumpID
		wantErr bool
	}{
		{name: "numeric id", prefix: DefaultTopicPrefix, topic: "caracas/pumps/1/telemetry", want: "1"},
		{name: "opaque id", prefix: DefaultTopicPrefix, topic: "caracas/pumps/north-a/telemetry", want: "north-a"},
		{name: "prefix with trailing slash", prefix: "caracas/pumps/", topic: "caracas/pumps/2/telemetry", want: "2"},
		{name: "other prefix", prefix: DefaultTopicPrefix, topic: "valencia/pumps/1/telemetry", wantErr: true},
		{name: "control topic", prefix: DefaultTopicPrefix, topic: "caracas/pumps/1/control", wantErr: true},
		{name: "extra segment", prefix: DefaultTopicPrefix, topic: "caracas/pumps/1/a/telemetry", wantErr: true},
		{name: "empty id", prefix: DefaultTopicPrefix, topic: "caracas/pumps//telemetry", wantErr: true},
		{name: "no id", prefix: DefaultTopicPrefix, topic: "caracas/pumps/telemetry", wantErr: true},
		{name: "wildcard id", prefix: DefaultTopicPrefix, topic: "caracas/pumps/+/telemetry", wantErr: true},
		{name: "prefix is a substring", prefix: DefaultTopicPrefix, topic: "caracas/pumpsX/1/telemetry", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTopic(tt.prefix, tt.topic)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidatePrefix(t *testing.T) {
	assert.NoError(t, ValidatePrefix(DefaultTopicPrefix))
	assert.Error(t, ValidatePrefix(""))
	assert.Error(t, ValidatePrefix("/"))
	assert.Error(t, ValidatePrefix("caracas/+"))
	assert.Error(t, ValidatePrefix("caracas/#"))
}

func TestParseCommand(t *testing.T) {
	for _, s := range []string{"START", "STOP"} {
		c, err := ParseCommand(s)
		require.NoError(t, err)
		assert.Equal(t, Command(s), c)
	}
	for _, s := range []string{"", "start", "Stop", "RESTART", " START"} {
		_, err := ParseCommand(s)
		assert.ErrorIs(t, err, ErrInvalidCommand, s)
	}
}

func TestValidatePumpID(t *testing.T) {
	for _, s := range []string{"1", "7", "42"} {
		id, err := ValidatePumpID(s)
		require.NoError(t, err)
		assert.Equal(t, PumpID(s), id)
	}
	for _, s := range []string{"", "0", "-1", "+1", "01", "abc", "1.5", "1/2"} {
		_, err := ValidatePumpID(s)
		assert.ErrorIs(t, err, ErrInvalidPumpID, s)
	}
}

func TestNewControlMessage(t *testing.T) {
	msg := NewControlMessage(CommandStop, time.Date(2026, 2, 8, 18, 59, 42, 0, time.FixedZone("VET", -4*3600)))
	assert.Equal(t, CommandStop, msg.Command)
	assert.Equal(t, "2026-02-08T22:59:42Z", msg.Timestamp)
}

func TestLatestPerPump(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := []Reading{
		{ID: 1, PumpID: "2", Timestamp: base, FlowStatus: "STOPPED"},
		{ID: 2, PumpID: "10", Timestamp: base.Add(time.Minute), FlowStatus: "FLOWING"},
		{ID: 3, PumpID: "1", Timestamp: base.Add(2 * time.Minute), FlowStatus: "FLOWING"},
		{ID: 4, PumpID: "2", Timestamp: base.Add(3 * time.Minute), FlowStatus: "FLOWING"},
		{ID: 5, PumpID: "1", Timestamp: base, FlowStatus: "STOPPED"},
		{ID: 6, PumpID: "10", Timestamp: base.Add(time.Minute), FlowStatus: "STOPPED"},
	}

	latest := LatestPerPump(readings)
	require.Len(t, latest, 3)

	assert.Equal(t, PumpID("1"), latest[0].PumpID)
	assert.Equal(t, int64(3), latest[0].ID)
	assert.Equal(t, PumpID("2"), latest[1].PumpID)
	assert.Equal(t, int64(4), latest[1].ID)
	assert.Equal(t, PumpID("10"), latest[2].PumpID)
	assert.Equal(t, int64(6), latest[2].ID, "equal timestamps resolve to the later row")

	assert.Equal(t, int64(1), readings[0].ID, "input must not be reordered")
}

func TestComparePumpIDs(t *testing.T) {
	assert.Negative(t, ComparePumpIDs("2", "10"))
	assert.Positive(t, ComparePumpIDs("b", "a"))
	assert.Negative(t, ComparePumpIDs("9", "a"))
	assert.Zero(t, ComparePumpIDs("3", "3"))
}
