package statefile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := State{
		LocalName:       "alice",
		ShareKey:        "s3cret",
		RequireShareKey: true,
		ChatKey:         "c4key",
		MyGroups:        []string{"lab", "home"},
		GroupNames:      map[string]string{"lab": "Lab Group"},
	}
	if err := Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LocalName != want.LocalName || got.ShareKey != want.ShareKey {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.MyGroups) != 2 {
		t.Fatalf("got %d groups, want 2", len(got.MyGroups))
	}
}

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LocalName != "" {
		t.Fatalf("expected empty state, got %+v", got)
	}
	if got.GroupNames == nil {
		t.Fatal("expected GroupNames to be initialized even when file is missing")
	}
}

func TestSaveLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := Save(State{LocalName: "bob"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "lanshare"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Fatalf("got entries %v, want exactly state.json", entries)
	}
}
