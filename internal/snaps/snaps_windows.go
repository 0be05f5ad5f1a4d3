// Package snaps turns on FLG_SHOW_LDR_SNAPS for a debuggee, either by
// patching its PEB directly (preferred) or by a scoped Image File
// Execution Options registry edit that restores on drop (fallback).
// Grounded on the specification's §4.5 and the IFEO-guard ownership model
// in §3's Lifecycle note.
package snaps

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/loadwhat/loadwhat/internal/winapi"
)

// TryPEBPatch reads-modifies-writes the target's NtGlobalFlag to set
// FLG_SHOW_LDR_SNAPS. Non-fatal on failure: the caller falls back to the
// IFEO guard.
func TryPEBPatch(process windows.Handle) error {
	peb, err := winapi.PebBaseAddress(process)
	if err != nil {
		return fmt.Errorf("snaps: query PEB: %w", err)
	}
	addr := peb + winapi.NtGlobalFlagOffset64

	flags, err := winapi.ReadUint32(process, addr)
	if err != nil {
		return fmt.Errorf("snaps: read NtGlobalFlag: %w", err)
	}
	flags |= winapi.FlgShowLdrSnaps
	if err := winapi.WriteUint32(process, addr, flags); err != nil {
		return fmt.Errorf("snaps: write NtGlobalFlag: %w", err)
	}
	return nil
}

const regDword = 4

// mergeGlobalFlag computes the NtGlobalFlag value to write given whatever
// was already present under the IFEO key: OR the loader-snaps bit into an
// existing REG_DWORD, or start from zero if the key held nothing (or
// something other than a DWORD, which this tool does not attempt to
// preserve bit-for-bit).
func mergeGlobalFlag(orig winapi.RegistryValue) uint32 {
	value := winapi.FlgShowLdrSnaps
	if orig.Present && orig.Type == regDword && len(orig.Data) >= 4 {
		existing := uint32(orig.Data[0]) | uint32(orig.Data[1])<<8 |
			uint32(orig.Data[2])<<16 | uint32(orig.Data[3])<<24
		value |= existing
	}
	return value
}

// IFEOGuard owns the original (absent, or (type, bytes)) GlobalFlag value
// under one image's IFEO subkey for the duration of one run, and restores
// it on Close, on every exit path including panic.
type IFEOGuard struct {
	imageBasename string
	original      winapi.RegistryValue
	armed         bool
}

// EnableIFEO opens-or-creates the IFEO subkey for imageBasename, records
// whatever GlobalFlag value is already there, and writes one with the
// loader-snaps bit set.
func EnableIFEO(imageBasename string) (*IFEOGuard, error) {
	orig, err := winapi.ReadIFEOGlobalFlag(imageBasename)
	if err != nil {
		return nil, fmt.Errorf("snaps: read original GlobalFlag: %w", err)
	}

	newValue := mergeGlobalFlag(orig)

	if err := winapi.WriteIFEOGlobalFlagDWord(imageBasename, newValue); err != nil {
		return nil, fmt.Errorf("snaps: write GlobalFlag: %w", err)
	}

	return &IFEOGuard{imageBasename: imageBasename, original: orig, armed: true}, nil
}

// Close restores the original GlobalFlag value (or absence). Safe to call
// more than once; restore failures are advisory, never fatal -- callers
// should log.Warnf them as NOTE events, not abort.
func (g *IFEOGuard) Close() error {
	if g == nil || !g.armed {
		return nil
	}
	g.armed = false
	return winapi.RestoreIFEOGlobalFlag(g.imageBasename, g.original)
}
