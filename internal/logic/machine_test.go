package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type recordedState struct {
	State    State
	Timeslot int
}

type stateRecorder struct {
	changes []recordedState
}

func (r *stateRecorder) StateChanged(state State, timeslot int) {
	r.changes = append(r.changes, recordedState{state, timeslot})
}

func newTestMachine(t *testing.T, channelType ChannelType) (*StateMachine, *ManualClock, *stateRecorder) {
	t.Helper()
	clock := NewManualClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	m := NewStateMachine(1, channelType, clock.Now)
	rec := &stateRecorder{}
	m.AddListener(rec)
	return m, clock, rec
}

func TestNewStateMachine(t *testing.T) {
	m := NewStateMachine(2, ChannelStandard, nil)
	if m.State() != StateIdle {
		t.Errorf("expected IDLE, got %s", m.State())
	}
	if m.Timeslot() != 2 {
		t.Errorf("expected timeslot 2, got %d", m.Timeslot())
	}
	if m.FadeTimeoutBuffer() != DefaultFadeTimeout {
		t.Errorf("expected fade buffer %v, got %v", DefaultFadeTimeout, m.FadeTimeoutBuffer())
	}
	if m.EndTimeoutBuffer() != DefaultResetTimeout {
		t.Errorf("expected end buffer %v, got %v", DefaultResetTimeout, m.EndTimeoutBuffer())
	}

	traffic := NewStateMachine(0, ChannelTraffic, nil)
	if traffic.FadeTimeoutBuffer() != DefaultTrafficCallTimeout {
		t.Errorf("expected traffic fade buffer %v, got %v", DefaultTrafficCallTimeout, traffic.FadeTimeoutBuffer())
	}
}

// Scenario A: IDLE -> CALL notifies once and opens the squelch.
func TestIdleToCallNotifiesAndUnsquelches(t *testing.T) {
	m, _, rec := newTestMachine(t, ChannelStandard)
	sq := NewSquelchController(1)
	var gates []SquelchEvent
	sq.SetListener(SquelchListenerFunc(func(e SquelchEvent) { gates = append(gates, e) }))
	m.AddListener(sq)

	require.True(t, m.SetState(StateCall))
	assert.Equal(t, StateCall, m.State())
	assert.Equal(t, []recordedState{{StateCall, 1}}, rec.changes)
	assert.Equal(t, []SquelchEvent{{State: Unsquelch, Timeslot: 1}}, gates)
}

// Scenario B: CONTROL is refused on a traffic channel.
func TestControlRejectedOnTrafficChannel(t *testing.T) {
	m, _, rec := newTestMachine(t, ChannelTraffic)
	m.SetState(StateCall)
	rec.changes = nil

	if m.SetState(StateControl) {
		t.Error("CONTROL should be rejected on a traffic channel")
	}
	if m.State() != StateCall {
		t.Errorf("expected CALL, got %s", m.State())
	}
	if len(rec.changes) != 0 {
		t.Errorf("expected no notifications, got %v", rec.changes)
	}
}

func TestControlAllowedOnStandardChannel(t *testing.T) {
	m, _, _ := newTestMachine(t, ChannelStandard)
	m.SetState(StateCall)

	if !m.SetState(StateControl) {
		t.Fatal("CONTROL should be accepted on a standard channel")
	}
	if m.State() != StateControl {
		t.Errorf("expected CONTROL, got %s", m.State())
	}
}

// Scenario C: a call fades after the fade buffer expires.
func TestCallFadesAfterTimeout(t *testing.T) {
	m, clock, rec := newTestMachine(t, ChannelStandard)
	m.SetFadeTimeoutBuffer(100 * time.Millisecond)
	sq := NewSquelchController(1)
	var gates []SquelchEvent
	sq.SetListener(SquelchListenerFunc(func(e SquelchEvent) { gates = append(gates, e) }))
	m.AddListener(sq)

	m.SetState(StateCall)
	clock.Advance(150 * time.Millisecond)
	m.CheckState()

	assert.Equal(t, StateFade, m.State())
	assert.Equal(t, []SquelchEvent{
		{State: Unsquelch, Timeslot: 1},
		{State: Squelch, Timeslot: 1},
	}, gates)
	assert.Equal(t, []recordedState{{StateCall, 1}, {StateFade, 1}}, rec.changes)
}

// Scenario D: FADE decays to TEARDOWN after the end buffer.
func TestFadeTearsDownAfterEndTimeout(t *testing.T) {
	m, clock, _ := newTestMachine(t, ChannelTraffic)
	m.SetEndTimeoutBuffer(50 * time.Millisecond)
	m.SetState(StateCall)
	m.SetState(StateFade)

	clock.Advance(30 * time.Millisecond)
	m.CheckState()
	if m.State() != StateFade {
		t.Fatalf("expected FADE before end deadline, got %s", m.State())
	}

	clock.Advance(50 * time.Millisecond)
	m.CheckState()
	if m.State() != StateTeardown {
		t.Errorf("expected TEARDOWN, got %s", m.State())
	}
}

func TestCheckStateBeforeDeadlineKeepsState(t *testing.T) {
	m, clock, rec := newTestMachine(t, ChannelStandard)
	m.SetFadeTimeoutBuffer(100 * time.Millisecond)
	m.SetState(StateData)

	clock.Advance(99 * time.Millisecond)
	m.CheckState()

	if m.State() != StateData {
		t.Errorf("expected DATA, got %s", m.State())
	}
	if len(rec.changes) != 1 {
		t.Errorf("expected 1 notification, got %d", len(rec.changes))
	}
}

func TestCheckStateFiresAtExactDeadline(t *testing.T) {
	m, clock, _ := newTestMachine(t, ChannelStandard)
	m.SetFadeTimeoutBuffer(100 * time.Millisecond)
	m.SetState(StateActive)

	clock.Advance(100 * time.Millisecond)
	m.CheckState()

	if m.State() != StateFade {
		t.Errorf("expected FADE at deadline, got %s", m.State())
	}
}

func TestAutonomousDecayFiresOnce(t *testing.T) {
	m, clock, rec := newTestMachine(t, ChannelStandard)
	m.SetFadeTimeoutBuffer(100 * time.Millisecond)
	m.SetEndTimeoutBuffer(200 * time.Millisecond)
	m.SetState(StateCall)

	clock.Advance(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		m.CheckState()
	}
	clock.Advance(200 * time.Millisecond)
	for i := 0; i < 5; i++ {
		m.CheckState()
	}

	want := []recordedState{{StateCall, 1}, {StateFade, 1}, {StateTeardown, 1}}
	assert.Equal(t, want, rec.changes)
}

func TestEndDeadlineMeasuredFromEnteringFade(t *testing.T) {
	m, clock, _ := newTestMachine(t, ChannelStandard)
	m.SetFadeTimeoutBuffer(100 * time.Millisecond)
	m.SetEndTimeoutBuffer(100 * time.Millisecond)
	m.SetState(StateCall)

	// Fade is entered late, the end window starts there.
	clock.Advance(500 * time.Millisecond)
	m.CheckState()
	require.Equal(t, StateFade, m.State())

	clock.Advance(99 * time.Millisecond)
	m.CheckState()
	assert.Equal(t, StateFade, m.State())

	clock.Advance(time.Millisecond)
	m.CheckState()
	assert.Equal(t, StateTeardown, m.State())
}

func TestRepeatedCallRefreshesDeadlineWithoutNotifying(t *testing.T) {
	m, clock, rec := newTestMachine(t, ChannelStandard)
	m.SetFadeTimeoutBuffer(100 * time.Millisecond)
	m.SetState(StateCall)

	for i := 0; i < 10; i++ {
		clock.Advance(80 * time.Millisecond)
		if m.SetState(StateCall) {
			t.Fatalf("iteration %d: repeated CALL reported a change", i)
		}
		want := clock.Now().Add(100 * time.Millisecond)
		if !m.FadeDeadline().Equal(want) {
			t.Fatalf("iteration %d: fade deadline %v, want %v", i, m.FadeDeadline(), want)
		}
		m.CheckState()
		if m.State() != StateCall {
			t.Fatalf("iteration %d: expected CALL, got %s", i, m.State())
		}
	}

	if len(rec.changes) != 1 {
		t.Errorf("expected a single notification, got %d", len(rec.changes))
	}
}

func TestRepeatedFadeDoesNotExtendEndDeadline(t *testing.T) {
	m, clock, rec := newTestMachine(t, ChannelStandard)
	m.SetState(StateCall)
	m.SetState(StateFade)
	deadline := m.EndDeadline()

	clock.Advance(time.Second)
	if m.SetState(StateFade) {
		t.Error("FADE -> FADE should not report a change")
	}
	if !m.EndDeadline().Equal(deadline) {
		t.Errorf("end deadline moved from %v to %v", deadline, m.EndDeadline())
	}
	if len(rec.changes) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(rec.changes))
	}
}

func TestSetTimeoutBuffersRearmFromNow(t *testing.T) {
	m, clock, _ := newTestMachine(t, ChannelStandard)
	clock.Advance(time.Minute)

	m.SetFadeTimeoutBuffer(5 * time.Second)
	m.SetEndTimeoutBuffer(7 * time.Second)

	assert.Equal(t, clock.Now().Add(5*time.Second), m.FadeDeadline())
	assert.Equal(t, clock.Now().Add(7*time.Second), m.EndDeadline())
}

func TestIdentifierListenerNotifiedFirst(t *testing.T) {
	m, _, _ := newTestMachine(t, ChannelStandard)
	var order []string
	m.SetIdentifierListener(StateListenerFunc(func(State, int) { order = append(order, "identifier") }))
	m.AddListener(StateListenerFunc(func(State, int) { order = append(order, "listener") }))

	m.SetState(StateCall)

	assert.Equal(t, []string{"identifier", "listener"}, order)
}

func TestTeardownResetIdleCycle(t *testing.T) {
	m, _, rec := newTestMachine(t, ChannelTraffic)
	m.SetState(StateCall)
	m.SetState(StateTeardown)

	assert.False(t, m.SetState(StateIdle), "TEARDOWN -> IDLE must go through RESET")
	assert.True(t, m.SetState(StateReset))
	assert.True(t, m.SetState(StateIdle))
	assert.Equal(t, []recordedState{{StateCall, 1}, {StateTeardown, 1}, {StateReset, 1}, {StateIdle, 1}}, rec.changes)
}

func TestSetStateLegality(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		channelType := rapid.SampledFrom([]ChannelType{ChannelStandard, ChannelTraffic}).Draw(t, "channelType")
		clock := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		m := NewStateMachine(0, channelType, clock.Now)
		notified := 0
		m.AddListener(StateListenerFunc(func(State, int) { notified++ }))

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			requested := rapid.SampledFrom(AllStates).Draw(t, "requested")
			before := m.State()
			beforeNotified := notified

			changed := m.SetState(requested)

			allowed := before != requested && CanTransition(before, requested) &&
				!(requested == StateControl && channelType == ChannelTraffic)
			if changed != allowed {
				t.Fatalf("%s -> %s: changed=%v, want %v", before, requested, changed, allowed)
			}
			if allowed {
				if m.State() != requested {
					t.Fatalf("%s -> %s: state is %s", before, requested, m.State())
				}
				if notified != beforeNotified+1 {
					t.Fatalf("%s -> %s: expected one notification", before, requested)
				}
			} else {
				if m.State() != before {
					t.Fatalf("%s -> %s: state mutated to %s", before, requested, m.State())
				}
				if notified != beforeNotified {
					t.Fatalf("%s -> %s: unexpected notification", before, requested)
				}
			}
			clock.Advance(time.Duration(rapid.IntRange(0, 500).Draw(t, "advanceMs")) * time.Millisecond)
		}
	})
}
