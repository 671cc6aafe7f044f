package jarindex

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/stdr"
)

func writeTestJar(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jar")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create jar: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return path
}

func classBytes() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xCA, 0xFE, 0xBA, 0xBE})
	buf.Write([]byte{0x00, 0x00, 0x00, 0x34}) // minor=0, major=52
	buf.Write([]byte("rest-of-class-file-ignored"))
	return buf.Bytes()
}

// u16/u32 append big-endian class-file fields to buf.
func u16(buf *bytes.Buffer, v uint16) { _ = binary.Write(buf, binary.BigEndian, v) }
func u32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.BigEndian, v) }

func utf8Entry(buf *bytes.Buffer, s string) {
	buf.WriteByte(1) // CONSTANT_Utf8
	u16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func classEntry(buf *bytes.Buffer, nameIdx uint16) {
	buf.WriteByte(7) // CONSTANT_Class
	u16(buf, nameIdx)
}

// classBytesWithMembers builds a minimal, well-formed class file
// declaring one field, one constructor, and one ordinary method, used
// to exercise parseMembers end to end (spec.md §8 scenario 6: a class
// with a field, constructor, and method yields exactly 4 symbols).
func classBytesWithMembers(binaryName string) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xCA, 0xFE, 0xBA, 0xBE})
	u16(&buf, 0)  // minor
	u16(&buf, 52) // major

	// Constant pool: indices 1-9 (count = 10).
	u16(&buf, 10)
	utf8Entry(&buf, binaryName)        // 1
	classEntry(&buf, 1)                // 2 (this_class)
	utf8Entry(&buf, "java/lang/Object") // 3
	classEntry(&buf, 3)                // 4 (super_class)
	utf8Entry(&buf, "name")            // 5 field name
	utf8Entry(&buf, "Ljava/lang/String;") // 6 field descriptor
	utf8Entry(&buf, "<init>")          // 7 ctor name
	utf8Entry(&buf, "()V")             // 8 shared descriptor
	utf8Entry(&buf, "greet")           // 9 method name

	u16(&buf, 0x0021) // access_flags
	u16(&buf, 2)       // this_class
	u16(&buf, 4)       // super_class
	u16(&buf, 0)       // interfaces_count

	u16(&buf, 1) // fields_count
	u16(&buf, 1) // access_flags
	u16(&buf, 5) // name_index -> "name"
	u16(&buf, 6) // descriptor_index
	u16(&buf, 0) // attributes_count

	u16(&buf, 2) // methods_count
	// constructor
	u16(&buf, 1) // access_flags
	u16(&buf, 7) // name_index -> "<init>"
	u16(&buf, 8) // descriptor_index
	u16(&buf, 0) // attributes_count
	// method
	u16(&buf, 1) // access_flags
	u16(&buf, 9) // name_index -> "greet"
	u16(&buf, 8) // descriptor_index
	u16(&buf, 0) // attributes_count

	return buf.Bytes()
}

func TestIndexJarDecodesClassEntries(t *testing.T) {
	path := writeTestJar(t, map[string][]byte{
		"com/example/Foo.class":       classBytes(),
		"com/example/Foo$Inner.class": classBytes(),
		"META-INF/MANIFEST.MF":        []byte("Manifest-Version: 1.0\n"),
	})

	log := stdr.New(nil)
	infos, err := IndexJar(log, path)
	if err != nil {
		t.Fatalf("IndexJar: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d classes, want 2: %+v", len(infos), infos)
	}

	byBinary := map[string]ClassInfo{}
	for _, i := range infos {
		byBinary[i.BinaryName] = i
	}
	foo, ok := byBinary["com/example/Foo"]
	if !ok {
		t.Fatalf("missing com/example/Foo, got %+v", byBinary)
	}
	if foo.FQName != "com.example.Foo" {
		t.Fatalf("FQName = %q", foo.FQName)
	}
	if foo.MajorVersion != 52 {
		t.Fatalf("MajorVersion = %d, want 52", foo.MajorVersion)
	}

	inner, ok := byBinary["com/example/Foo$Inner"]
	if !ok {
		t.Fatalf("missing inner class")
	}
	if inner.FQName != "com.example.Foo.Inner" {
		t.Fatalf("inner FQName = %q", inner.FQName)
	}
}

func TestIndexJarDecodesFieldsAndMethods(t *testing.T) {
	path := writeTestJar(t, map[string][]byte{
		"com/example/Greeter.class": classBytesWithMembers("com/example/Greeter"),
	})

	log := stdr.New(nil)
	infos, err := IndexJar(log, path)
	if err != nil {
		t.Fatalf("IndexJar: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("got %d classes, want 1: %+v", len(infos), infos)
	}

	class := infos[0]
	if len(class.Members) != 3 {
		t.Fatalf("got %d members, want 3 (field + ctor + method): %+v", len(class.Members), class.Members)
	}

	var fields, ctors, methods int
	for _, m := range class.Members {
		switch {
		case m.IsConstructor():
			ctors++
		case m.IsMethod:
			methods++
		default:
			fields++
		}
	}
	if fields != 1 || ctors != 1 || methods != 1 {
		t.Fatalf("got fields=%d ctors=%d methods=%d, want 1/1/1: %+v", fields, ctors, methods, class.Members)
	}
}

func TestIndexJarSkipsCorruptEntry(t *testing.T) {
	path := writeTestJar(t, map[string][]byte{
		"com/example/Good.class": classBytes(),
		"com/example/Bad.class":  []byte{0x00, 0x01}, // too short / bad magic
	})

	log := stdr.New(nil)
	infos, err := IndexJar(log, path)
	if err != nil {
		t.Fatalf("IndexJar: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("got %d classes, want 1 (bad entry skipped): %+v", len(infos), infos)
	}
	if infos[0].BinaryName != "com/example/Good" {
		t.Fatalf("unexpected survivor: %+v", infos[0])
	}
}
