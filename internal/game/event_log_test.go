package game

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"fax-hunt/internal/protocol"
)

func TestEventLogJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	el := NewEventLog()
	if err := el.Start(path); err != nil {
		t.Fatal(err)
	}

	el.Publish(protocol.ObjectPosition{X: 1, Y: 2})
	el.Publish(protocol.NewShot{X: 10, Y: 20, Username: "alice", Color: "#112233", Timestamp: 5})
	el.Publish(protocol.GameOver{Winner: "alice"})
	el.Publish(protocol.GameReset{})
	el.Stop()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	type line struct {
		Seq  uint64          `json:"seq"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	var lines []line
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}

	want := []protocol.EventKind{protocol.KindNewShot, protocol.KindGameOver, protocol.KindGameReset}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(lines), len(want))
	}
	for i, l := range lines {
		if l.Seq != uint64(i+1) || l.Type != string(want[i]) {
			t.Errorf("line %d = seq %d type %s", i, l.Seq, l.Type)
		}
	}
	var shot protocol.NewShot
	if err := json.Unmarshal(lines[0].Data, &shot); err != nil || shot.Username != "alice" || shot.X != 10 {
		t.Errorf("shot payload = %s", lines[0].Data)
	}
}

func TestEventLogPerPlayerLimit(t *testing.T) {
	el := NewEventLog()
	if err := el.Start(filepath.Join(t.TempDir(), "events.jsonl")); err != nil {
		t.Fatal(err)
	}
	defer el.Stop()

	accepted := 0
	for i := 0; i < 40; i++ {
		if el.Emit(protocol.NewShot{Username: "spam"}) {
			accepted++
		}
	}
	if accepted < MaxShotsPerPlayer || accepted >= 40 {
		t.Errorf("accepted %d of 40 shots", accepted)
	}
	if el.GetStats()["dropped"].(uint64) == 0 {
		t.Error("no drops recorded")
	}
	if !el.Emit(protocol.NewShot{Username: "other"}) {
		t.Error("another player's shot was limited")
	}
}

func TestEventLogNotStarted(t *testing.T) {
	el := NewEventLog()
	if el.Emit(protocol.GameReset{}) {
		t.Error("Emit accepted an event before Start")
	}
	el.Stop()
	if total := el.GetStats()["total"].(uint64); total != 0 {
		t.Errorf("total = %d", total)
	}
}
