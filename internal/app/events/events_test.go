package events

import (
	"fmt"
	"testing"
)

func TestLog_RecentNewestFirst(t *testing.T) {
	log := NewLog(8)
	for i := 0; i < 3; i++ {
		log.Emit(Event{Type: ItemListed, Actor: fmt.Sprintf("actor-%d", i)})
	}
	if log.Len() != 3 {
		t.Fatalf("len = %d, want 3", log.Len())
	}
	recent := log.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("recent = %d events, want 2", len(recent))
	}
	if recent[0].Actor != "actor-2" || recent[1].Actor != "actor-1" {
		t.Fatalf("unexpected order: %s, %s", recent[0].Actor, recent[1].Actor)
	}
	if recent[0].ID == "" || recent[0].Timestamp.IsZero() {
		t.Fatalf("emit should fill ID and timestamp")
	}
}

func TestLog_RingWrap(t *testing.T) {
	log := NewLog(4)
	for i := 0; i < 6; i++ {
		log.Emit(Event{Type: ItemListed, AssetID: uint64(i)})
	}
	if log.Len() != 4 {
		t.Fatalf("len = %d, want 4", log.Len())
	}
	recent := log.Recent(0)
	if len(recent) != 4 {
		t.Fatalf("recent = %d events, want 4", len(recent))
	}
	if recent[0].AssetID != 5 || recent[3].AssetID != 2 {
		t.Fatalf("wrap lost ordering: first=%d last=%d", recent[0].AssetID, recent[3].AssetID)
	}
}

func TestLog_RecentByType(t *testing.T) {
	log := NewLog(8)
	log.Emit(Event{Type: ItemListed})
	log.Emit(Event{Type: OfferCreated})
	log.Emit(Event{Type: ItemListed})

	listed := log.RecentByType(ItemListed, 10)
	if len(listed) != 2 {
		t.Fatalf("listed = %d events, want 2", len(listed))
	}
	offers := log.RecentByType(OfferCreated, 10)
	if len(offers) != 1 {
		t.Fatalf("offers = %d events, want 1", len(offers))
	}
}

func TestLog_Subscribe(t *testing.T) {
	log := NewLog(8)
	var got []Event
	unsub := log.Subscribe(func(ev Event) { got = append(got, ev) })

	log.Emit(Event{Type: ItemListed})
	if len(got) != 1 {
		t.Fatalf("handler saw %d events, want 1", len(got))
	}
	unsub()
	log.Emit(Event{Type: ItemDeleted})
	if len(got) != 1 {
		t.Fatalf("handler saw %d events after unsubscribe, want 1", len(got))
	}
}
