package winapi

import "testing"

// buildLoadDllUnion assembles a synthetic DEBUG_EVENT union buffer laid
// out the way LOAD_DLL_DEBUG_INFO actually is: hFile@0-7, lpBaseOfDll@8-15,
// dwDebugInfoFileOffset@16-19, nDebugInfoSize@20-23, lpImageName@24-31,
// fUnicode@32-33.
func buildLoadDllUnion(hFile uint64, base uint64, imageNamePtr uint64, unicode uint16) [debugEventUnionSize]byte {
	var buf [debugEventUnionSize]byte
	putLE64(buf[0:8], hFile)
	putLE64(buf[8:16], base)
	putLE64(buf[24:32], imageNamePtr)
	putLE16(buf[32:34], unicode)
	return buf
}

func putLE64(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func TestLoadDllImageNamePointerUnicode(t *testing.T) {
	const wantPtr = uint64(0x7ffe00010000)
	ev := DebugEventKind{raw: buildLoadDllUnion(0x44, 0x7ffe00020000, wantPtr, 1)}

	ptr, unicode := ev.LoadDllImageNamePointer()
	if uint64(ptr) != wantPtr {
		t.Fatalf("got ptr %#x, want %#x", ptr, wantPtr)
	}
	if !unicode {
		t.Fatal("expected unicode == true")
	}
}

func TestLoadDllImageNamePointerAnsi(t *testing.T) {
	const wantPtr = uint64(0x7ffe00030000)
	ev := DebugEventKind{raw: buildLoadDllUnion(0x44, 0x7ffe00020000, wantPtr, 0)}

	ptr, unicode := ev.LoadDllImageNamePointer()
	if uint64(ptr) != wantPtr {
		t.Fatalf("got ptr %#x, want %#x", ptr, wantPtr)
	}
	if unicode {
		t.Fatal("expected unicode == false")
	}
}

func TestLoadDllFileHandleAndBaseUnaffectedByImageNameOffsetFix(t *testing.T) {
	const wantHandle = uint64(0x9)
	const wantBase = uint64(0x140000000)
	ev := DebugEventKind{raw: buildLoadDllUnion(wantHandle, wantBase, 0x7ffe00040000, 1)}

	if uint64(ev.LoadDllFileHandle()) != wantHandle {
		t.Fatalf("got handle %#x, want %#x", ev.LoadDllFileHandle(), wantHandle)
	}
	if uint64(ev.LoadDllBase()) != wantBase {
		t.Fatalf("got base %#x, want %#x", ev.LoadDllBase(), wantBase)
	}
}
