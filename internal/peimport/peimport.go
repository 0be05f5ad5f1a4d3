// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package peimport parses the static import table of a PE image on disk.
// It implements only the bit-exact subset of the PE format the diagnosis
// engine needs: enough of the DOS header, NT header, section table and
// import directory to produce a sorted, deduplicated list of imported DLL
// basenames, and a pure "looks like a valid PE" predicate the search-order
// resolver uses to tell a HIT from a BAD_IMAGE.
package peimport

import (
	"encoding/binary"
	"errors"
	"os"
	"sort"
	"strings"

	mmap "github.com/edsrzf/mmap-go"
)

// Error kinds, one per parsing-contract failure named in the specification.
var (
	ErrFileTooSmall         = errors.New("peimport: file too small for DOS header")
	ErrMissingMZ            = errors.New("peimport: missing MZ signature")
	ErrInvalidPEOffset      = errors.New("peimport: invalid PE header offset")
	ErrMissingPESignature   = errors.New("peimport: missing PE00 signature")
	ErrTruncatedOptionalHdr = errors.New("peimport: truncated optional header")
	ErrUnsupportedMagic     = errors.New("peimport: unsupported optional header magic")
	ErrMissingDataDirs      = errors.New("peimport: optional header missing data directories")
	ErrTruncatedSectionTbl  = errors.New("peimport: truncated section table")
	ErrInvalidImportRVA     = errors.New("peimport: invalid import directory RVA")
	ErrTruncatedDescriptors = errors.New("peimport: truncated import descriptor table")
	ErrUnterminatedName     = errors.New("peimport: unterminated import name")
	ErrInvalidNameText      = errors.New("peimport: import name not valid 7-bit text")
)

const (
	dosHeaderSize  = 0x40
	elfanewOffset  = 0x3c
	peSigSize      = 4
	coffHeaderSize = 20
	sectionEntSize = 40
	importDescSize = 20

	magicPE32  = 0x010b
	magicPE32P = 0x020b

	dataDirBaseOffsetPE32  = 96
	dataDirBaseOffsetPE32P = 112

	importDirectoryIndex = 1 // second data directory entry
)

type section struct {
	virtualAddress   uint32
	size             uint32
	pointerToRawData uint32
}

func (s section) contains(rva uint32) bool {
	return rva >= s.virtualAddress && rva < s.virtualAddress+s.size
}

// image holds just enough of a parsed PE to resolve RVAs and walk imports.
type image struct {
	data     []byte
	sections []section
	magic    uint16
}

// Imports parses path and returns the sorted, deduplicated, lowercased list
// of DLL basenames it statically imports.
func Imports(path string) ([]string, error) {
	data, closeFn, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	img, importRVA, err := parseHeaders(data)
	if err != nil {
		return nil, err
	}
	if importRVA == 0 {
		return nil, nil
	}

	names, err := img.walkImportDescriptors(importRVA)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// LooksLikePE is a pure predicate: does path appear to be a well-formed PE
// image? It never returns an error; any parsing failure is "no".
func LooksLikePE(path string) bool {
	data, closeFn, err := mapFile(path)
	if err != nil {
		return false
	}
	defer closeFn()

	_, _, err = parseHeaders(data)
	return err == nil
}

// Is64Bit reports whether path's optional header magic is PE32+ (the only
// architecture the tool diagnoses; the platform guard in §6 rejects PE32
// targets with exit 22 rather than attempting a 32-bit diagnosis).
func Is64Bit(path string) (bool, error) {
	data, closeFn, err := mapFile(path)
	if err != nil {
		return false, err
	}
	defer closeFn()

	img, _, err := parseHeaders(data)
	if err != nil {
		return false, err
	}
	return img.magic == magicPE32P, nil
}

func mapFile(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return []byte(m), func() {
		m.Unmap()
		f.Close()
	}, nil
}

// parseHeaders runs the DOS/PE/section-table parsing contract and returns
// the image plus the import directory RVA (0 if the image has none).
func parseHeaders(data []byte) (image, uint32, error) {
	var img image

	if len(data) < dosHeaderSize {
		return img, 0, ErrFileTooSmall
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return img, 0, ErrMissingMZ
	}

	peOffset := binary.LittleEndian.Uint32(data[elfanewOffset:])
	if uint64(peOffset)+24 > uint64(len(data)) {
		return img, 0, ErrInvalidPEOffset
	}
	if string(data[peOffset:peOffset+peSigSize]) != "PE\x00\x00" {
		return img, 0, ErrMissingPESignature
	}

	coff := peOffset + peSigSize
	numSections := binary.LittleEndian.Uint16(data[coff+2:])
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(data[coff+16:])

	optHeaderOffset := coff + coffHeaderSize
	if uint64(optHeaderOffset)+2 > uint64(len(data)) {
		return img, 0, ErrTruncatedOptionalHdr
	}
	magic := binary.LittleEndian.Uint16(data[optHeaderOffset:])

	var dataDirBase uint32
	switch magic {
	case magicPE32:
		dataDirBase = optHeaderOffset + dataDirBaseOffsetPE32
	case magicPE32P:
		dataDirBase = optHeaderOffset + dataDirBaseOffsetPE32P
	default:
		return img, 0, ErrUnsupportedMagic
	}
	importDirFieldOffset := dataDirBase + importDirectoryIndex*8
	if uint64(importDirFieldOffset)+8 > uint64(len(data)) {
		return img, 0, ErrMissingDataDirs
	}

	sectionTableOffset := optHeaderOffset + uint32(sizeOfOptionalHeader)
	sectionTableEnd := uint64(sectionTableOffset) + uint64(numSections)*sectionEntSize
	if sectionTableEnd > uint64(len(data)) {
		return img, 0, ErrTruncatedSectionTbl
	}

	sections := make([]section, 0, numSections)
	for i := uint16(0); i < numSections; i++ {
		base := sectionTableOffset + uint32(i)*sectionEntSize
		va := binary.LittleEndian.Uint32(data[base+12:])
		virtualSize := binary.LittleEndian.Uint32(data[base+8:])
		rawSize := binary.LittleEndian.Uint32(data[base+16:])
		ptr := binary.LittleEndian.Uint32(data[base+20:])
		size := virtualSize
		if rawSize > size {
			size = rawSize
		}
		sections = append(sections, section{virtualAddress: va, size: size, pointerToRawData: ptr})
	}

	img = image{data: data, sections: sections, magic: magic}

	importRVA := binary.LittleEndian.Uint32(data[importDirFieldOffset:])
	return img, importRVA, nil
}

// rvaToOffset finds the first section containing rva and maps it to a file
// offset. Returns false if no section contains it.
func (img image) rvaToOffset(rva uint32) (uint32, bool) {
	for _, s := range img.sections {
		if s.contains(rva) {
			return s.pointerToRawData + (rva - s.virtualAddress), true
		}
	}
	return 0, false
}

func (img image) walkImportDescriptors(importRVA uint32) ([]string, error) {
	offset, ok := img.rvaToOffset(importRVA)
	if !ok {
		return nil, ErrInvalidImportRVA
	}

	var names []string
	for {
		if uint64(offset)+importDescSize > uint64(len(img.data)) {
			return nil, ErrTruncatedDescriptors
		}
		desc := img.data[offset : offset+importDescSize]
		if isZero(desc) {
			break
		}
		nameRVA := binary.LittleEndian.Uint32(desc[12:])
		nameOffset, ok := img.rvaToOffset(nameRVA)
		if !ok {
			return nil, ErrInvalidImportRVA
		}
		name, err := readCString(img.data, nameOffset)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		offset += importDescSize
	}
	return names, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func readCString(data []byte, offset uint32) (string, error) {
	end := offset
	for {
		if uint64(end) >= uint64(len(data)) {
			return "", ErrUnterminatedName
		}
		if data[end] == 0 {
			break
		}
		end++
	}
	raw := data[offset:end]
	for _, c := range raw {
		if c > 0x7f {
			return "", ErrInvalidNameText
		}
	}
	return string(raw), nil
}
