package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/trunk-monitor/internal/channel"
	"github.com/sweeney/trunk-monitor/internal/logic"
)

var testTime = time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC)

func TestFormatStatePayloadExactJSON(t *testing.T) {
	payload, err := FormatStatePayload(channel.StateChange{
		Channel:  "control-1",
		Type:     logic.ChannelStandard,
		Timeslot: 0,
		From:     logic.StateIdle,
		To:       logic.StateCall,
		Time:     testTime,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"timestamp":"2026-02-02T22:18:12Z","channel":"control-1","type":"STANDARD","timeslot":0,"from":"IDLE","state":"CALL"}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSquelchPayload(t *testing.T) {
	payload, err := FormatSquelchPayload("dmr-1", logic.SquelchEvent{State: logic.Unsquelch, Timeslot: 1}, testTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed SquelchPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Channel != "dmr-1" || parsed.Timeslot != 1 || parsed.Squelch != "UNSQUELCH" {
		t.Errorf("unexpected payload: %+v", parsed)
	}
}

func TestFormatChannelEventPayloadExactJSON(t *testing.T) {
	payload, err := FormatChannelEventPayload(logic.ChannelEvent{Channel: "traffic-1", Kind: logic.ChannelRequestDisable}, testTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"timestamp":"2026-02-02T22:18:12Z","channel":"traffic-1","event":"REQUEST_DISABLE"}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestDecoderEventRoundTrip(t *testing.T) {
	source := logic.NewSourceID()
	in := logic.NewChangeCallTimeoutEvent(source, logic.ChannelTraffic, 1500*time.Millisecond, logic.StateCall, 1)

	payload, err := FormatDecoderEventPayload(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := ParseDecoderEvent(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch:\ngot:  %+v\nwant: %+v", out, in)
	}
}

func TestParseDecoderEventAssignsSource(t *testing.T) {
	e, err := ParseDecoderEvent([]byte(`{"event":"START","state":"CALL","timeslot":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Source == "" {
		t.Error("expected a generated source id")
	}
	if e.Kind != logic.EventStart || e.State != logic.StateCall {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestParseDecoderEventAllocation(t *testing.T) {
	e, err := ParseDecoderEvent([]byte(`{"event":"TRAFFIC_CHANNEL_ALLOCATION","state":"CALL","channel_number":"0-1-17","frequency":853112500}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ChannelNumber != "0-1-17" || e.Frequency != 853112500 {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestParseDecoderEventRejectsGarbage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{`},
		{"unknown event", `{"event":"EXPLODE"}`},
		{"unknown state", `{"event":"START","state":"ON"}`},
		{"unknown channel type", `{"event":"CHANGE_CALL_TIMEOUT","timeout_channel_type":"CONTROL"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDecoderEvent([]byte(tt.payload))
			if !errors.Is(err, ErrBadEvent) {
				t.Errorf("expected ErrBadEvent, got %v", err)
			}
		})
	}
}

func TestParseSourceEvent(t *testing.T) {
	e, err := ParseSourceEvent([]byte(`{"event":"NOTIFICATION_FREQUENCY_CHANGE","value":852000000}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Kind != logic.SourceFrequencyChange || e.Value != 852000000 {
		t.Errorf("unexpected event: %+v", e)
	}

	// Sync locked measurements are produced by channels, never consumed.
	_, err = ParseSourceEvent([]byte(`{"event":"NOTIFICATION_MEASURED_FREQUENCY_ERROR_SYNC_LOCKED","value":1}`))
	if !errors.Is(err, ErrBadEvent) {
		t.Errorf("expected ErrBadEvent, got %v", err)
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("")
	tests := []struct {
		got, want string
	}{
		{topics.Decoder("control-1"), "trunk/monitor/decoder/control-1"},
		{topics.Source("control-1"), "trunk/monitor/source/control-1"},
		{topics.DecoderWildcard(), "trunk/monitor/decoder/+"},
		{topics.SourceWildcard(), "trunk/monitor/source/+"},
		{topics.ChannelEvents(), "trunk/monitor/channel/events"},
		{topics.State("control-1"), "trunk/monitor/channel/control-1/state"},
		{topics.Squelch("control-1"), "trunk/monitor/channel/control-1/squelch"},
		{topics.DecoderOut("control-1"), "trunk/monitor/channel/control-1/decoder"},
		{topics.System(), "trunk/monitor/system"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %s, want %s", tt.got, tt.want)
		}
	}

	if got := NewTopics("radio/").System(); got != "radio/system" {
		t.Errorf("custom prefix: got %s", got)
	}
}

type recordingHandler struct {
	decoder []string
	source  []string
}

func (h *recordingHandler) HandleDecoderEvent(ch string, e logic.DecoderStateEvent) {
	h.decoder = append(h.decoder, ch+":"+string(e.Kind))
}

func (h *recordingHandler) HandleSourceEvent(ch string, e logic.SourceEvent) {
	h.source = append(h.source, ch+":"+string(e.Kind))
}

func TestDispatch(t *testing.T) {
	topics := NewTopics("")
	h := &recordingHandler{}

	if err := topics.Dispatch(h, "trunk/monitor/decoder/control-1", []byte(`{"event":"DECODE","state":"CONTROL"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := topics.Dispatch(h, "trunk/monitor/source/control-1", []byte(`{"event":"NOTIFICATION_MEASURED_FREQUENCY_ERROR","value":-40}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.decoder) != 1 || h.decoder[0] != "control-1:DECODE" {
		t.Errorf("unexpected decoder events: %v", h.decoder)
	}
	if len(h.source) != 1 || h.source[0] != "control-1:NOTIFICATION_MEASURED_FREQUENCY_ERROR" {
		t.Errorf("unexpected source events: %v", h.source)
	}

	for _, topic := range []string{
		"other/decoder/control-1",
		"trunk/monitor/decoder",
		"trunk/monitor/decoder/a/b",
		"trunk/monitor/channel/control-1",
	} {
		if err := topics.Dispatch(h, topic, []byte(`{"event":"DECODE"}`)); !errors.Is(err, ErrUnknownTopic) {
			t.Errorf("%s: expected ErrUnknownTopic, got %v", topic, err)
		}
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	err := f.PublishState(channel.StateChange{Channel: "control-1", From: logic.StateIdle, To: logic.StateCall, Time: testTime})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishSquelch("control-1", logic.SquelchEvent{State: logic.Unsquelch}, testTime); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.States()) != 1 || f.States()[0].To != logic.StateCall {
		t.Errorf("unexpected states: %v", f.States())
	}
	msgs := f.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "trunk/monitor/channel/control-1/state" || !msgs[0].Retained {
		t.Errorf("state message should be retained on the state topic: %+v", msgs[0])
	}
	if msgs[1].Topic != "trunk/monitor/channel/control-1/squelch" || msgs[1].Retained {
		t.Errorf("unexpected squelch message: %+v", msgs[1])
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")

	err := f.PublishChannelEvent(logic.ChannelEvent{Channel: "traffic-1", Kind: logic.ChannelRequestEnable}, testTime)
	if err == nil {
		t.Error("expected error")
	}
	if len(f.ChannelEvents()) != 0 {
		t.Errorf("expected no events recorded on error, got %d", len(f.ChannelEvents()))
	}
	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err != nil {
		t.Errorf("system events use their own error: %v", err)
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.PublishDecoderEvent("control-1", logic.NewDecoderStateEvent(logic.NewSourceID(), logic.EventReset, logic.StateIdle, 0))
	f.Close()
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.DecoderEvents()) != 0 {
		t.Error("events should be cleared")
	}
	if len(f.Messages()) != 0 {
		t.Error("messages should be cleared")
	}
	if f.Closed {
		t.Error("closed should be reset")
	}
	if f.PublishError != nil {
		t.Error("error should be cleared")
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: testTime, Event: "RECONNECTED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	system := parsed["system"].(map[string]interface{})
	if _, exists := system["reason"]; exists {
		t.Error("reason field should be omitted")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":"ok"}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through, got %s", payload)
	}
}
