package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedKeysRender(t *testing.T) {
	cat, err := New("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cases := []struct {
		key  string
		data map[string]any
		want string
	}{
		{"match.created", map[string]any{"Code": "AB23XY", "MinPlayers": 3}, "AB23XY"},
		{"registration.ask_pix", map[string]any{"Amount": "R$ 15,00"}, "R$ 15,00"},
		{"registration.confirm_echo", map[string]any{"Key": "ana@pix.example"}, "ana@pix.example"},
		{"payment.present", map[string]any{"Amount": "R$ 15,00"}, "R$ 15,00"},
		{"game.word_handout", map[string]any{"Word": "Churrasco"}, "Churrasco"},
		{"game.impostor_handout", nil, "IMPOSTOR"},
		{"errors.generic", nil, "errado"},
	}
	for _, c := range cases {
		got, err := cat.Render(c.key, c.data)
		if err != nil {
			t.Fatalf("render %s: %v", c.key, err)
		}
		if !strings.Contains(got, c.want) {
			t.Fatalf("render %s = %q, want substring %q", c.key, got, c.want)
		}
	}
}

func TestRenderUnknownKey(t *testing.T) {
	cat, err := New("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cat.Render("no.such.key", nil); err == nil {
		t.Fatalf("unknown key rendered without error")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "errors:\n  generic: \"custom outage line\"\n"
	if err := os.WriteFile(filepath.Join(dir, "override.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	cat, err := New(dir)
	if err != nil {
		t.Fatalf("load with overrides: %v", err)
	}
	got, err := cat.Render("errors.generic", nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "custom outage line" {
		t.Fatalf("override not applied: %q", got)
	}

	// Embedded keys outside the override remain available.
	if _, err := cat.Render("registration.declined", nil); err != nil {
		t.Fatalf("base key lost after override: %v", err)
	}
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("errors:\n  generic: \"x\"\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("duplicate override keys accepted")
	}
}
