package state

import (
	"testing"

	"github.com/langchou/petgazer/internal/api/kippy"
)

func TestMachineTransitions(t *testing.T) {
	m := NewMachine(1, 10, StateIdle, nil)

	if !m.CanTransition(EventStartLive) {
		t.Fatal("idle machine must allow start_live")
	}
	if err := m.Trigger(EventStartLive); err != nil {
		t.Fatalf("start_live: %v", err)
	}
	if got := m.CurrentState(); got != StateLive {
		t.Fatalf("state = %s, want %s", got, StateLive)
	}

	if err := m.Trigger(EventStartLive); err == nil {
		t.Fatal("start_live from live must fail")
	}

	if err := m.Trigger(EventEnterEnergySaving); err != nil {
		t.Fatalf("enter_energy_saving: %v", err)
	}
	if m.CanTransition(EventStartLive) {
		t.Fatal("energy saving mode must block live tracking")
	}
	if err := m.Trigger(EventExitEnergySaving); err != nil {
		t.Fatalf("exit_energy_saving: %v", err)
	}
	if got := m.CurrentState(); got != StateIdle {
		t.Fatalf("state = %s, want %s", got, StateIdle)
	}
}

func TestMachineStateChangeCallback(t *testing.T) {
	var transitions [][2]string
	m := NewMachine(1, 10, StateIdle, func(petID int64, from, to string) {
		transitions = append(transitions, [2]string{from, to})
	})

	if err := m.Trigger(EventStartLive); err != nil {
		t.Fatalf("start_live: %v", err)
	}
	m.ApplyStatus(kippy.OperatingStatusEnergySaving)
	// 重复上报相同状态不触发回调
	m.ApplyStatus(kippy.OperatingStatusEnergySaving)

	want := [][2]string{{StateIdle, StateLive}, {StateLive, StateEnergySaving}}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestApplyStatusMapsOperatingCodes(t *testing.T) {
	m := NewMachine(1, 10, "", nil)

	m.ApplyStatus(kippy.OperatingStatusLive)
	if got := m.CurrentState(); got != StateLive {
		t.Fatalf("state = %s, want %s", got, StateLive)
	}

	// 未知状态码回落到 idle
	m.ApplyStatus(99)
	if got := m.CurrentState(); got != StateIdle {
		t.Fatalf("state = %s, want %s", got, StateIdle)
	}
}

func TestGetStateReturnsIsolatedCopy(t *testing.T) {
	m := NewMachine(1, 10, StateIdle, nil)
	m.UpdateState(func(s *TrackerState) {
		s.Activities = map[string]float64{"steps": 100}
	})

	snapshot := m.GetState()
	snapshot.Activities["steps"] = 999

	if got := m.GetState().Activities["steps"]; got != 100 {
		t.Fatalf("internal state mutated through snapshot: steps = %v", got)
	}
}

func TestManagerLifecycle(t *testing.T) {
	mgr := NewManager(nil)

	a := mgr.GetOrCreate(1, 10, StateIdle)
	if b := mgr.GetOrCreate(1, 10, StateLive); b != a {
		t.Fatal("GetOrCreate must return the existing machine")
	}

	if _, ok := mgr.Get(2); ok {
		t.Fatal("unknown pet must not resolve")
	}

	mgr.GetOrCreate(2, 20, StateLive)
	states := mgr.GetAllStates()
	if len(states) != 2 {
		t.Fatalf("states = %d, want 2", len(states))
	}

	mgr.Delete(1)
	if _, ok := mgr.Get(1); ok {
		t.Fatal("deleted machine must not resolve")
	}
}
