package ws

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/langchou/petgazer/internal/models"
	"github.com/langchou/petgazer/internal/state"
)

func TestSendInitDataCarriesPetsAndStates(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.SetInitDataProvider(func() *InitData {
		return &InitData{
			Pets: []*models.Pet{{PetID: 1, KippyID: 100, Name: "Rex"}},
			States: map[int64]*state.TrackerState{
				1: {PetID: 1, CurrentState: state.StateIdle},
			},
		}
	})

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.sendInitData(client)

	var raw []byte
	select {
	case raw = <-client.send:
	default:
		t.Fatal("expected init message in client buffer")
	}

	var msg struct {
		Type string   `json:"type"`
		Data InitData `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal init message: %v", err)
	}
	if msg.Type != MsgTypeInit {
		t.Errorf("expected type %q, got %q", MsgTypeInit, msg.Type)
	}
	if len(msg.Data.Pets) != 1 || msg.Data.Pets[0].Name != "Rex" {
		t.Errorf("unexpected pets payload: %+v", msg.Data.Pets)
	}
	ts, ok := msg.Data.States[1]
	if !ok || ts.CurrentState != state.StateIdle {
		t.Errorf("unexpected states payload: %+v", msg.Data.States)
	}
}

func TestBroadcastStateUpdateEncodesTrackerState(t *testing.T) {
	hub := NewHub(zap.NewNop())

	battery := 85.0
	hub.BroadcastStateUpdate(&state.TrackerState{
		PetID:        1,
		CurrentState: state.StateLive,
		Battery:      &battery,
	})

	var raw []byte
	select {
	case raw = <-hub.broadcast:
	default:
		t.Fatal("expected broadcast message")
	}

	var msg struct {
		Type string             `json:"type"`
		Data state.TrackerState `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if msg.Type != MsgTypeStateUpdate {
		t.Errorf("expected type %q, got %q", MsgTypeStateUpdate, msg.Type)
	}
	if msg.Data.PetID != 1 || msg.Data.CurrentState != state.StateLive {
		t.Errorf("unexpected state payload: %+v", msg.Data)
	}
	if msg.Data.Battery == nil || *msg.Data.Battery != 85 {
		t.Errorf("battery not carried: %v", msg.Data.Battery)
	}
}
