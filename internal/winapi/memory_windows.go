package winapi

import (
	"fmt"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ReadProcessMemory copies len(buf) bytes from addr in process into buf.
func ReadProcessMemory(process windows.Handle, addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	var read uintptr
	r, _, callErr := procReadProcessMemory.Call(
		uintptr(process), addr,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)),
		uintptr(unsafe.Pointer(&read)),
	)
	if r == 0 {
		return fmt.Errorf("winapi: ReadProcessMemory: %w", callErr)
	}
	return nil
}

// WriteProcessMemory copies buf into addr in process.
func WriteProcessMemory(process windows.Handle, addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	var written uintptr
	r, _, callErr := procWriteProcessMemory.Call(
		uintptr(process), addr,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)),
		uintptr(unsafe.Pointer(&written)),
	)
	if r == 0 {
		return fmt.Errorf("winapi: WriteProcessMemory: %w", callErr)
	}
	return nil
}

// processBasicInformation mirrors PROCESS_BASIC_INFORMATION on amd64: six
// pointer-sized fields.
type processBasicInformation struct {
	ExitStatus                   uintptr
	PebBaseAddress               uintptr
	AffinityMask                 uintptr
	BasePriority                 uintptr
	UniqueProcessID              uintptr
	InheritedFromUniqueProcessID uintptr
}

// PebBaseAddress queries the target's PEB base address via
// NtQueryInformationProcess(ProcessBasicInformation).
func PebBaseAddress(process windows.Handle) (uintptr, error) {
	const processBasicInformationClass = 0
	var info processBasicInformation
	var returnLength uint32
	r, _, callErr := procNtQueryInformationProc.Call(
		uintptr(process), processBasicInformationClass,
		uintptr(unsafe.Pointer(&info)), unsafe.Sizeof(info),
		uintptr(unsafe.Pointer(&returnLength)),
	)
	if r != 0 {
		return 0, fmt.Errorf("winapi: NtQueryInformationProcess: %w", callErr)
	}
	return info.PebBaseAddress, nil
}

// NtGlobalFlagOffset64 is NtGlobalFlag's offset within the PEB on 64-bit
// Windows (see specification §4.5).
const NtGlobalFlagOffset64 = 0xBC

// FlgShowLdrSnaps is the NtGlobalFlag bit that enables loader snaps.
const FlgShowLdrSnaps uint32 = 0x2

// ReadUintptr reads a little-endian pointer-sized value from addr in
// process (the debuggee is always 64-bit per the specification's scope).
func ReadUintptr(process windows.Handle, addr uintptr) (uintptr, error) {
	var buf [8]byte
	if err := ReadProcessMemory(process, addr, buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i, b := range buf {
		v |= uint64(b) << (8 * uint(i))
	}
	return uintptr(v), nil
}

// ReadUint32 reads a little-endian uint32 from addr in process.
func ReadUint32(process windows.Handle, addr uintptr) (uint32, error) {
	var buf [4]byte
	if err := ReadProcessMemory(process, addr, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// WriteUint32 writes a little-endian uint32 to addr in process.
func WriteUint32(process windows.Handle, addr uintptr, v uint32) error {
	buf := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return WriteProcessMemory(process, addr, buf[:])
}

// ReadRemoteUTF16String reads a NUL-terminated (or length-bounded) UTF-16
// string from the debuggee, capped at maxChars characters.
func ReadRemoteUTF16String(process windows.Handle, addr uintptr, declaredChars int, maxChars int) (string, error) {
	if declaredChars <= 0 {
		return readRemoteUntilNulUTF16(process, addr, maxChars)
	}
	n := declaredChars
	if n > maxChars {
		n = maxChars
	}
	buf := make([]byte, n*2)
	if err := ReadProcessMemory(process, addr, buf); err != nil {
		return "", err
	}
	return decodeUTF16(buf), nil
}

func readRemoteUntilNulUTF16(process windows.Handle, addr uintptr, maxChars int) (string, error) {
	const chunk = 64
	var units []uint16
	for len(units) < maxChars {
		buf := make([]byte, chunk*2)
		if err := ReadProcessMemory(process, addr+uintptr(len(units)*2), buf); err != nil {
			if len(units) == 0 {
				return "", err
			}
			break
		}
		for i := 0; i < chunk; i++ {
			u := uint16(buf[i*2]) | uint16(buf[i*2+1])<<8
			if u == 0 {
				return string(utf16.Decode(units)), nil
			}
			units = append(units, u)
			if len(units) >= maxChars {
				break
			}
		}
	}
	return string(utf16.Decode(units)), nil
}

func decodeUTF16(buf []byte) string {
	units := make([]uint16, 0, len(buf)/2)
	for i := 0; i+1 < len(buf); i += 2 {
		u := uint16(buf[i]) | uint16(buf[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// ReadRemoteAnsiString reads a NUL-terminated (or length-bounded) 8-bit
// string from the debuggee, capped at maxChars characters.
func ReadRemoteAnsiString(process windows.Handle, addr uintptr, declaredChars int, maxChars int) (string, error) {
	if declaredChars > 0 {
		n := declaredChars
		if n > maxChars {
			n = maxChars
		}
		buf := make([]byte, n)
		if err := ReadProcessMemory(process, addr, buf); err != nil {
			return "", err
		}
		return trimNul(buf), nil
	}

	const chunk = 64
	var out []byte
	for len(out) < maxChars {
		buf := make([]byte, chunk)
		if err := ReadProcessMemory(process, addr+uintptr(len(out)), buf); err != nil {
			if len(out) == 0 {
				return "", err
			}
			break
		}
		if i := indexNul(buf); i >= 0 {
			out = append(out, buf[:i]...)
			break
		}
		out = append(out, buf...)
	}
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return string(out), nil
}

func trimNul(b []byte) string {
	if i := indexNul(b); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func indexNul(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
