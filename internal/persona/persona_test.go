package persona

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePersona(t *testing.T, dir, file, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStoreLoadAndGet(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "paimon.json", `{"id":"paimon","name":"派蒙","systemPrompt":"你是派蒙。"}`)
	writePersona(t, dir, "noid.json", `{"name":"Nameless","systemPrompt":"..."}`)
	writePersona(t, dir, "broken.json", `{nope`)
	writePersona(t, dir, "readme.txt", `not a persona`)

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	p, err := s.Get("paimon")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Name != "派蒙" || p.SystemPrompt != "你是派蒙。" {
		t.Errorf("persona = %+v", p)
	}

	// Filename becomes the id when the file omits one.
	if _, err := s.Get("noid"); err != nil {
		t.Errorf("Get noid: %v", err)
	}

	if got := len(s.List()); got != 2 {
		t.Errorf("List = %d personas, want 2 (broken and non-json skipped)", got)
	}
}

func TestStoreGetByName(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "paimon.json", `{"id":"paimon","name":"派蒙","systemPrompt":"x"}`)
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetByName("派蒙"); err != nil {
		t.Errorf("GetByName by display name: %v", err)
	}
	if _, err := s.GetByName("paimon"); err != nil {
		t.Errorf("GetByName by id fallback: %v", err)
	}
	if _, err := s.GetByName("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStoreMissingDirIsEmpty(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if len(s.List()) != 0 {
		t.Error("expected empty catalogue")
	}
}

func TestStoreSaveDeleteReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	p := Persona{ID: "tester", Name: "Tester", SystemPrompt: "prompt"}
	if err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Get("tester"); err != nil {
		t.Fatalf("Get after Save: %v", err)
	}

	// The file must survive a full reload.
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := s.Get("tester"); err != nil {
		t.Fatalf("Get after Reload: %v", err)
	}

	if err := s.Delete("tester"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("tester"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := s.Delete("tester"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestDirSignatureChanges(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	before := s.dirSignature()
	writePersona(t, dir, "new.json", `{"id":"new","systemPrompt":"x"}`)
	if after := s.dirSignature(); after == before {
		t.Error("signature unchanged after adding a persona file")
	}
}
