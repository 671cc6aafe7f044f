// Package jarindex implements the Dependency Class Indexer (spec.md
// §4.4, component C4): it walks a JAR's central directory and decodes
// enough of each .class file - header, constant pool, and field/method
// tables - to recover its fully-qualified name plus its member names,
// without ever unpacking the archive to disk.
//
// Grounded on the teacher's archive-walking style in
// external-providers/java-external-provider/pkg/java_external_provider/archive.go
// (archive/zip, logr.Logger, per-entry error tolerance) but built on
// archive/zip + encoding/binary directly: no third-party .class-file
// parser turned up anywhere in the retrieved pack, and the class-file
// format this package needs (magic, version, constant pool, field/method
// tables) is a small, stable binary format better served by the standard
// library's binary decoding than by pulling in a general-purpose
// bytecode library whose surface (full attribute parsing, bytecode
// disassembly) this use case never touches - see DESIGN.md.
package jarindex

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
)

// MaxEntries caps how many entries of one archive are scanned, so a
// pathological JAR cannot stall indexing (spec.md §4.4, item 3).
const MaxEntries = 100_000

// MaxEntrySize skips any single class-file entry larger than this many
// bytes rather than decoding it (spec.md §4.4, item 3).
const MaxEntrySize = 50 * 1024 * 1024

// MemberInfo is one field or method recovered from a class file's
// constant pool-backed field_info/method_info tables (spec.md §4.4,
// item 2: "member symbols - fields, constructors, methods - are indexed
// alongside the class itself").
type MemberInfo struct {
	Name string
	// IsMethod is false for a field, true for a method or constructor.
	// A constructor is a method named "<init>" in the class file.
	IsMethod bool
}

// IsConstructor reports whether this member is a constructor (the
// class-file method named "<init>").
func (m MemberInfo) IsConstructor() bool {
	return m.IsMethod && m.Name == "<init>"
}

// ClassInfo is one decoded .class file's identity within an archive,
// plus its directly-declared members.
type ClassInfo struct {
	// BinaryName is the JVM-internal slash-separated name, e.g.
	// "com/example/Foo$Inner".
	BinaryName string
	// FQName is the dotted fully-qualified name, e.g. "com.example.Foo.Inner".
	FQName       string
	MajorVersion uint16
	MinorVersion uint16
	Members      []MemberInfo
}

var classMagic = [4]byte{0xCA, 0xFE, 0xBA, 0xBE}

// IndexJar walks every entry of the JAR at path and decodes the identity
// and member list of each .class file found. Entries that are not valid
// class files, or that exceed MaxEntrySize, are skipped and logged
// rather than aborting the whole archive (spec.md §4.4, item 4: "a
// single corrupt entry must not fail the whole archive").
func IndexJar(log logr.Logger, path string) ([]ClassInfo, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open jar %s: %w", path, err)
	}
	defer zr.Close()

	var out []ClassInfo
	for i, f := range zr.File {
		if i >= MaxEntries {
			log.V(3).Info("jar entry cap reached, stopping scan", "jar", path, "cap", MaxEntries)
			break
		}
		if !strings.HasSuffix(f.Name, ".class") || strings.Contains(f.Name, "module-info") {
			continue
		}
		if f.UncompressedSize64 > MaxEntrySize {
			log.V(4).Info("skipping oversized class entry", "jar", path, "entry", f.Name, "size", f.UncompressedSize64)
			continue
		}

		info, err := readClassEntry(f)
		if err != nil {
			log.V(4).Error(err, "skipping unreadable class entry", "jar", path, "entry", f.Name)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// readClassEntry opens one zip.File known to be a .class entry, decodes
// its header (magic, minor/major version), and - best-effort - its
// constant pool and field/method tables to recover member names. The
// binary name comes from the archive path itself, which is cheaper and
// just as reliable as the constant pool's this_class entry for the
// conventional one-class-per-path-segment layout every JAR in practice
// uses; member extraction, which has no such shortcut, does walk the
// constant pool.
func readClassEntry(f *zip.File) (ClassInfo, error) {
	rc, err := f.Open()
	if err != nil {
		return ClassInfo{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, int64(MaxEntrySize)+1))
	if err != nil {
		return ClassInfo{}, fmt.Errorf("read class entry: %w", err)
	}
	if len(data) < 10 {
		return ClassInfo{}, fmt.Errorf("class entry too short (%d bytes)", len(data))
	}

	var magic [4]byte
	copy(magic[:], data[:4])
	if magic != classMagic {
		return ClassInfo{}, fmt.Errorf("bad magic %x", magic)
	}
	minor := binary.BigEndian.Uint16(data[4:6])
	major := binary.BigEndian.Uint16(data[6:8])

	binaryName := strings.TrimSuffix(f.Name, ".class")
	fqName := strings.ReplaceAll(strings.ReplaceAll(binaryName, "/", "."), "$", ".")

	info := ClassInfo{
		BinaryName:   binaryName,
		FQName:       fqName,
		MajorVersion: major,
		MinorVersion: minor,
	}

	// Member extraction is supplementary: a class file whose body the
	// constant-pool/field/method walk can't make sense of (truncated
	// fixture data, an unsupported future class-file version's novel
	// constant tag) still yields its class-level ClassInfo above, just
	// with no Members, rather than failing the entire entry.
	if members, err := parseMembers(data[8:]); err == nil {
		info.Members = members
	}

	return info, nil
}

// classCursor is a forward-only byte cursor over one class file's body,
// used to walk the constant pool and field/method tables.
type classCursor struct {
	buf []byte
	pos int
}

func (c *classCursor) u1() (byte, error) {
	if c.pos+1 > len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *classCursor) u2() (uint16, error) {
	if c.pos+2 > len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos : c.pos+2])
	c.pos += 2
	return v, nil
}

func (c *classCursor) u4() (uint32, error) {
	if c.pos+4 > len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

func (c *classCursor) skip(n int) error {
	if n < 0 || c.pos+n > len(c.buf) {
		return io.ErrUnexpectedEOF
	}
	c.pos += n
	return nil
}

func (c *classCursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// JVM constant pool tags (JVM spec §4.4).
const (
	cpUtf8               = 1
	cpInteger            = 3
	cpFloat              = 4
	cpLong               = 5
	cpDouble             = 6
	cpClass              = 7
	cpString             = 8
	cpFieldref           = 9
	cpMethodref          = 10
	cpInterfaceMethodref = 11
	cpNameAndType        = 12
	cpMethodHandle       = 15
	cpMethodType         = 16
	cpDynamic            = 17
	cpInvokeDynamic      = 18
	cpModule             = 19
	cpPackage            = 20
)

// parseMembers walks the constant pool, then the field_info and
// method_info tables, of a class file body (everything after the
// 8-byte magic/minor/major header, starting at constant_pool_count) and
// returns one MemberInfo per
// declared field and method (spec.md §4.4, item 2).
func parseMembers(body []byte) ([]MemberInfo, error) {
	c := &classCursor{buf: body}

	poolCount, err := c.u2()
	if err != nil {
		return nil, err
	}
	utf8 := make(map[int]string, poolCount)
	for idx := 1; idx < int(poolCount); idx++ {
		tag, err := c.u1()
		if err != nil {
			return nil, err
		}
		switch tag {
		case cpUtf8:
			length, err := c.u2()
			if err != nil {
				return nil, err
			}
			raw, err := c.bytes(int(length))
			if err != nil {
				return nil, err
			}
			utf8[idx] = string(raw)
		case cpClass, cpString, cpMethodType, cpModule, cpPackage:
			if err := c.skip(2); err != nil {
				return nil, err
			}
		case cpFieldref, cpMethodref, cpInterfaceMethodref, cpNameAndType, cpDynamic, cpInvokeDynamic:
			if err := c.skip(4); err != nil {
				return nil, err
			}
		case cpInteger, cpFloat:
			if err := c.skip(4); err != nil {
				return nil, err
			}
		case cpLong, cpDouble:
			if err := c.skip(8); err != nil {
				return nil, err
			}
			idx++ // occupies two constant pool indices (JVM spec §4.4.5)
		case cpMethodHandle:
			if err := c.skip(3); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, idx)
		}
	}

	// access_flags, this_class, super_class
	if err := c.skip(6); err != nil {
		return nil, err
	}
	interfacesCount, err := c.u2()
	if err != nil {
		return nil, err
	}
	if err := c.skip(2 * int(interfacesCount)); err != nil {
		return nil, err
	}

	var members []MemberInfo
	fieldsCount, err := c.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(fieldsCount); i++ {
		name, err := c.readMemberInfo(utf8)
		if err != nil {
			return nil, err
		}
		members = append(members, MemberInfo{Name: name, IsMethod: false})
	}

	methodsCount, err := c.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(methodsCount); i++ {
		name, err := c.readMemberInfo(utf8)
		if err != nil {
			return nil, err
		}
		members = append(members, MemberInfo{Name: name, IsMethod: true})
	}

	return members, nil
}

// readMemberInfo consumes one field_info or method_info structure -
// access_flags, name_index, descriptor_index, then attributes, each
// skipped by its declared length - and returns the resolved member
// name. Both structures share this exact shape (JVM spec §4.5, §4.6).
func (c *classCursor) readMemberInfo(utf8 map[int]string) (string, error) {
	if err := c.skip(2); err != nil { // access_flags
		return "", err
	}
	nameIdx, err := c.u2()
	if err != nil {
		return "", err
	}
	if err := c.skip(2); err != nil { // descriptor_index
		return "", err
	}
	attrCount, err := c.u2()
	if err != nil {
		return "", err
	}
	for i := 0; i < int(attrCount); i++ {
		if err := c.skip(2); err != nil { // attribute_name_index
			return "", err
		}
		length, err := c.u4()
		if err != nil {
			return "", err
		}
		if err := c.skip(int(length)); err != nil {
			return "", err
		}
	}
	return utf8[int(nameIdx)], nil
}
