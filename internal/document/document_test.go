package document

import (
	"errors"
	"testing"
)

func TestOpenAndSnapshot(t *testing.T) {
	s := NewStore()
	if err := s.Open("file:///Foo.groovy", "groovy", 1, "class Foo {}\n"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	snap, err := s.Snapshot("file:///Foo.groovy")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Version != 1 || snap.Text != "class Foo {}\n" {
		t.Fatalf("got %+v", snap)
	}
}

func TestOpenTwiceFails(t *testing.T) {
	s := NewStore()
	if err := s.Open("file:///Foo.groovy", "groovy", 1, "class Foo {}\n"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	err := s.Open("file:///Foo.groovy", "groovy", 1, "class Foo {}\n")
	if !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("got %v, want ErrAlreadyOpen", err)
	}
}

func TestChangeWholeDocument(t *testing.T) {
	s := NewStore()
	_ = s.Open("file:///Foo.groovy", "groovy", 1, "class Foo {}\n")

	err := s.Change("file:///Foo.groovy", 2, []Change{{Text: "class Bar {}\n"}})
	if err != nil {
		t.Fatalf("Change: %v", err)
	}

	snap, _ := s.Snapshot("file:///Foo.groovy")
	if snap.Version != 2 || snap.Text != "class Bar {}\n" {
		t.Fatalf("got %+v", snap)
	}
}

func TestChangeRangedReplacement(t *testing.T) {
	s := NewStore()
	_ = s.Open("file:///Foo.groovy", "groovy", 1, "class Foo {}\n")

	err := s.Change("file:///Foo.groovy", 2, []Change{{
		Range: &Range{StartLine: 0, StartCharacter: 6, EndLine: 0, EndCharacter: 9},
		Text:  "Bar",
	}})
	if err != nil {
		t.Fatalf("Change: %v", err)
	}

	snap, _ := s.Snapshot("file:///Foo.groovy")
	if snap.Text != "class Bar {}\n" {
		t.Fatalf("got %q, want %q", snap.Text, "class Bar {}\n")
	}
}

func TestChangeRejectsStaleVersion(t *testing.T) {
	s := NewStore()
	_ = s.Open("file:///Foo.groovy", "groovy", 5, "class Foo {}\n")

	err := s.Change("file:///Foo.groovy", 5, []Change{{Text: "class Bar {}\n"}})
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("got %v, want ErrStaleVersion", err)
	}
}

func TestChangeRejectsOutOfBoundsRange(t *testing.T) {
	s := NewStore()
	_ = s.Open("file:///Foo.groovy", "groovy", 1, "class Foo {}\n")

	err := s.Change("file:///Foo.groovy", 2, []Change{{
		Range: &Range{StartLine: 5, StartCharacter: 0, EndLine: 5, EndCharacter: 1},
		Text:  "x",
	}})
	if !errors.Is(err, ErrRangeOutOfBounds) {
		t.Fatalf("got %v, want ErrRangeOutOfBounds", err)
	}
}

func TestCloseRemovesDocument(t *testing.T) {
	s := NewStore()
	_ = s.Open("file:///Foo.groovy", "groovy", 1, "class Foo {}\n")
	s.Close("file:///Foo.groovy")

	_, err := s.Snapshot("file:///Foo.groovy")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCloseUnopenDocumentIsNoop(t *testing.T) {
	s := NewStore()
	s.Close("file:///never-opened.groovy") // must not panic
}

func TestURIsListsOpenDocumentsSorted(t *testing.T) {
	s := NewStore()
	_ = s.Open("file:///b.groovy", "groovy", 1, "")
	_ = s.Open("file:///a.groovy", "groovy", 1, "")

	uris := s.URIs()
	if len(uris) != 2 || uris[0] != "file:///a.groovy" || uris[1] != "file:///b.groovy" {
		t.Fatalf("got %v", uris)
	}
}

func TestChangeOnMissingDocument(t *testing.T) {
	s := NewStore()
	err := s.Change("file:///never-opened.groovy", 2, []Change{{Text: "x"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
