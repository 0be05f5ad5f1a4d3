package snaps

import (
	"testing"

	"github.com/loadwhat/loadwhat/internal/winapi"
)

func TestMergeGlobalFlagWithNoExistingValue(t *testing.T) {
	got := mergeGlobalFlag(winapi.RegistryValue{})
	if got != winapi.FlgShowLdrSnaps {
		t.Fatalf("got %#x, want %#x", got, winapi.FlgShowLdrSnaps)
	}
}

func TestMergeGlobalFlagPreservesExistingBits(t *testing.T) {
	existing := uint32(0x10) // some unrelated flag already set
	data := []byte{byte(existing), byte(existing >> 8), byte(existing >> 16), byte(existing >> 24)}
	orig := winapi.RegistryValue{Present: true, Type: regDword, Data: data}

	got := mergeGlobalFlag(orig)
	want := existing | winapi.FlgShowLdrSnaps
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestMergeGlobalFlagIgnoresNonDwordValues(t *testing.T) {
	orig := winapi.RegistryValue{Present: true, Type: 1 /* REG_SZ */, Data: []byte("x\x00")}
	got := mergeGlobalFlag(orig)
	if got != winapi.FlgShowLdrSnaps {
		t.Fatalf("got %#x, want %#x", got, winapi.FlgShowLdrSnaps)
	}
}
