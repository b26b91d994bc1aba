package history

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)

	want := []Entry{
		NewEntry("text", types.RoleUser, "你好", at),
		NewEntry("text", types.RoleAssistant, "你好！很高兴见到你。", at.Add(2*time.Second)),
	}
	if err := s.Append("s1", want...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Load("s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
	if got[0].Timestamp != "2026-08-24 10:30:00" {
		t.Errorf("timestamp format = %q", got[0].Timestamp)
	}
}

func TestStoreAppendAccumulates(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.Append("s1", NewEntry("text", types.RoleUser, "m", now)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := s.Load("s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("entries = %d, want 3", len(got))
	}
}

func TestStoreLoadMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load("nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("Load missing = %v, want nil", got)
	}
}

func TestStoreDeleteAndList(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.Append("a", NewEntry("text", types.RoleUser, "1", now))
	s.Append("b", NewEntry("text", types.RoleUser, "2", now))

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("List = %v", ids)
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("a"); err != nil {
		t.Errorf("Delete missing returned error: %v", err)
	}
	ids, _ = s.List()
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("List after delete = %v", ids)
	}
}

func TestStoreReplacesCorruptFile(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.dir, "s1_history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("s1", NewEntry("text", types.RoleUser, "fresh", time.Now())); err != nil {
		t.Fatalf("Append over corrupt file: %v", err)
	}
	got, err := s.Load("s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Content != "fresh" {
		t.Errorf("entries = %+v", got)
	}
}

func TestMessagesSkipsNonConversational(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		NewEntry("text", types.RoleUser, "hi", now),
		NewEntry("system", types.RoleSystem, "welcome", now),
		NewEntry("error", types.RoleSystem, "boom", now),
		NewEntry("text", types.RoleAssistant, "hello", now),
	}
	got := Messages(entries)
	want := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Messages = %+v, want %+v", got, want)
	}
}
