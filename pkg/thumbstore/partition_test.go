package thumbstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPartitionMovesAndStripsPrefix(t *testing.T) {
	store := newTestStore(t, 0, nil)
	root := store.Root()

	payloads := map[string]string{
		"a1deadbeef.jpg": "one",
		"a2deadbeef.jpg": "two",
		"ffdeadbeef.jpg": "three",
	}
	for name, content := range payloads {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	if err := store.partition(root); err != nil {
		t.Fatalf("partition: %v", err)
	}

	for name, content := range payloads {
		moved := filepath.Join(root, name[:2], name[2:])
		data, err := os.ReadFile(moved)
		if err != nil {
			t.Fatalf("expected %s: %v", moved, err)
		}
		if string(data) != content {
			t.Fatalf("content changed across move: %q", data)
		}
		if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
			t.Fatalf("flat file %s still present", name)
		}
	}
}

func TestPartitionLeavesForeignFiles(t *testing.T) {
	store := newTestStore(t, 0, nil)
	root := store.Root()

	foreign := []string{"README.txt", "ZZupper.jpg", "xy.jpg", "a"}
	for _, name := range foreign {
		if err := os.WriteFile(filepath.Join(root, name), []byte(name), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	if err := store.partition(root); err != nil {
		t.Fatalf("partition: %v", err)
	}

	// "xy" is not a hex prefix; neither are the rest.
	for _, name := range foreign {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("foreign file %s was touched: %v", name, err)
		}
	}
}

func TestPartitionIdempotentChildren(t *testing.T) {
	store := newTestStore(t, 0, nil)
	root := store.Root()

	// A pre-existing child bucket with content must survive.
	if err := os.MkdirAll(filepath.Join(root, "ab"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	kept := filepath.Join(root, "ab", "cdef.jpg")
	if err := os.WriteFile(kept, []byte("kept"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := store.partition(root); err != nil {
		t.Fatalf("partition: %v", err)
	}
	if err := store.partition(root); err != nil {
		t.Fatalf("second partition: %v", err)
	}

	data, err := os.ReadFile(kept)
	if err != nil {
		t.Fatalf("pre-existing entry lost: %v", err)
	}
	if string(data) != "kept" {
		t.Fatalf("pre-existing entry changed: %q", data)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	dirs := 0
	for _, entry := range entries {
		if entry.IsDir() {
			dirs++
		}
	}
	if dirs != 256 {
		t.Fatalf("root has %d subdirectories, want 256", dirs)
	}
}
