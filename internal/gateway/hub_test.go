package gateway

import "testing"

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient("chat-1", nil, ConnInfo{ConnID: "c1", UserID: "user-1"})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected chat room to be created")
	}
	if hub.RoomSize("chat-1") != 1 {
		t.Fatalf("expected one connection in room")
	}

	info, ok := hub.Info("chat-1", nil)
	if !ok || info.UserID != "user-1" {
		t.Fatalf("expected connection info to be recorded")
	}

	hub.RemoveClient("chat-1", nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected chat room to be removed")
	}
	if _, ok := hub.Info("chat-1", nil); ok {
		t.Fatalf("expected connection info to be removed")
	}
}

func TestHubRemoveFromUnknownRoom(t *testing.T) {
	hub := NewHub()
	hub.RemoveClient("nope", nil)
	if hub.RoomSize("nope") != 0 {
		t.Fatalf("expected empty room")
	}
}
