// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimport

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildMinimalPE64 assembles a tiny, bit-exact-valid PE32+ image whose
// import table names the given DLLs (each with one descriptor, no thunks
// needed since Imports only reads descriptor Name fields).
func buildMinimalPE64(t *testing.T, dlls []string) []byte {
	t.Helper()

	const (
		peOffset        = 0x80
		optHeaderOffset = peOffset + 4 + coffHeaderSize
		sizeOptHeader   = 240
		sectionOffset   = optHeaderOffset + sizeOptHeader
	)

	// Lay out one section containing the import directory + name strings.
	importRVA := uint32(0x2000)
	namesRVA := importRVA + uint32((len(dlls)+1)*importDescSize)

	sectionRawPtr := uint32(0x400)
	var names []byte
	nameOffsets := make([]uint32, len(dlls))
	for i, d := range dlls {
		nameOffsets[i] = namesRVA + uint32(len(names))
		names = append(names, []byte(d)...)
		names = append(names, 0)
	}

	sectionSize := namesRVA + uint32(len(names)) - importRVA
	fileSize := sectionRawPtr + sectionSize
	buf := make([]byte, fileSize)

	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[elfanewOffset:], peOffset)
	copy(buf[peOffset:], "PE\x00\x00")

	coff := peOffset + 4
	binary.LittleEndian.PutUint16(buf[coff+2:], 1) // NumberOfSections
	binary.LittleEndian.PutUint16(buf[coff+16:], sizeOptHeader)

	binary.LittleEndian.PutUint16(buf[optHeaderOffset:], magicPE32P)
	dataDirBase := optHeaderOffset + dataDirBaseOffsetPE32P
	binary.LittleEndian.PutUint32(buf[dataDirBase+8:], importRVA) // import dir RVA

	// Section table: one section, VA == raw layout for simplicity.
	sec := sectionOffset
	binary.LittleEndian.PutUint32(buf[sec+8:], sectionSize)    // VirtualSize
	binary.LittleEndian.PutUint32(buf[sec+12:], importRVA)     // VirtualAddress
	binary.LittleEndian.PutUint32(buf[sec+16:], sectionSize)   // SizeOfRawData
	binary.LittleEndian.PutUint32(buf[sec+20:], sectionRawPtr) // PointerToRawData

	descBase := sectionRawPtr
	for i, off := range nameOffsets {
		d := descBase + uint32(i*importDescSize)
		binary.LittleEndian.PutUint32(buf[d+12:], off) // Name RVA
	}
	// trailing zero descriptor already present (buf is zero-initialized).

	// Copy name bytes at their computed raw offsets.
	copy(buf[sectionRawPtr+(namesRVA-importRVA):], names)

	return buf
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportsReturnsSortedLowercasedUniqueNames(t *testing.T) {
	data := buildMinimalPE64(t, []string{"KERNEL32.dll", "user32.dll", "kernel32.DLL"})
	path := writeTemp(t, "host.exe", data)

	got, err := Imports(path)
	if err != nil {
		t.Fatalf("Imports: %v", err)
	}
	want := []string{"kernel32.dll", "user32.dll"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestImportsNoImports(t *testing.T) {
	data := buildMinimalPE64(t, nil)
	path := writeTemp(t, "empty.dll", data)

	got, err := Imports(path)
	if err != nil {
		t.Fatalf("Imports: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no imports, got %v", got)
	}
}

func TestReparsingIsIdempotent(t *testing.T) {
	data := buildMinimalPE64(t, []string{"lwtest_a.dll", "lwtest_b.dll"})
	path := writeTemp(t, "host.exe", data)

	first, err := Imports(path)
	if err != nil {
		t.Fatalf("Imports: %v", err)
	}
	second, err := Imports(path)
	if err != nil {
		t.Fatalf("Imports: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("non-idempotent parse: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("non-idempotent parse: %v vs %v", first, second)
		}
	}
}

func TestMissingMZSignature(t *testing.T) {
	path := writeTemp(t, "bad.exe", make([]byte, dosHeaderSize))
	if _, err := Imports(path); err != ErrMissingMZ {
		t.Fatalf("got %v, want ErrMissingMZ", err)
	}
}

func TestFileTooSmall(t *testing.T) {
	path := writeTemp(t, "tiny.exe", []byte{'M', 'Z'})
	if _, err := Imports(path); err != ErrFileTooSmall {
		t.Fatalf("got %v, want ErrFileTooSmall", err)
	}
}

func TestLooksLikePE(t *testing.T) {
	data := buildMinimalPE64(t, []string{"a.dll"})
	goodPath := writeTemp(t, "good.dll", data)
	if !LooksLikePE(goodPath) {
		t.Fatal("expected LooksLikePE(good) == true")
	}

	badPath := writeTemp(t, "bad.dll", []byte("not a pe file at all, just text"))
	if LooksLikePE(badPath) {
		t.Fatal("expected LooksLikePE(bad) == false")
	}
}

func TestIs64BitOnPE32Plus(t *testing.T) {
	data := buildMinimalPE64(t, []string{"a.dll"})
	path := writeTemp(t, "good.dll", data)

	is64, err := Is64Bit(path)
	if err != nil {
		t.Fatalf("Is64Bit: %v", err)
	}
	if !is64 {
		t.Fatal("expected Is64Bit == true for a PE32+ image")
	}
}

func TestIs64BitPropagatesParseFailure(t *testing.T) {
	path := writeTemp(t, "bad.dll", []byte("not a pe file at all, just text"))
	if _, err := Is64Bit(path); err == nil {
		t.Fatal("expected an error for an unparseable image")
	}
}
