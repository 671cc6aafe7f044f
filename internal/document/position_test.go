package document

import "testing"

func TestOffsetToPositionRoundTrips(t *testing.T) {
	text := "class Foo {\n    void bar() {}\n}\n"

	pos, err := OffsetToPosition(text, 18) // inside "void bar"
	if err != nil {
		t.Fatalf("OffsetToPosition: %v", err)
	}
	if pos.Line != 1 {
		t.Fatalf("Line = %d, want 1", pos.Line)
	}

	offset, err := PositionToOffset(text, pos)
	if err != nil {
		t.Fatalf("PositionToOffset: %v", err)
	}
	if offset != 18 {
		t.Fatalf("offset = %d, want 18", offset)
	}
}

func TestOffsetToPositionOutOfBounds(t *testing.T) {
	if _, err := OffsetToPosition("abc", 99); err == nil {
		t.Fatal("expected an error for an out-of-bounds offset")
	}
}

func TestOffsetToPositionHandlesSurrogatePairs(t *testing.T) {
	text := "a\U0001F600b" // emoji is 2 UTF-16 code units, 4 UTF-8 bytes
	pos, err := OffsetToPosition(text, len(text))
	if err != nil {
		t.Fatalf("OffsetToPosition: %v", err)
	}
	// 'a' (1) + emoji (2 UTF-16 units) + 'b' (1) = 4
	if pos.Character != 4 {
		t.Fatalf("Character = %d, want 4", pos.Character)
	}
}

func TestPositionToOffsetOutOfBoundsLine(t *testing.T) {
	if _, err := PositionToOffset("abc\n", Position{Line: 5, Character: 0}); err == nil {
		t.Fatal("expected an error for an out-of-bounds line")
	}
}
