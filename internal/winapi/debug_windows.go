// Package winapi is the typed wrapper layer over the host-OS debugger,
// process-memory, registry, and path-query facilities the diagnosis engine
// needs. Grounded on the golang.org/x/sys/windows idioms used throughout
// the retrieved pack (wintun's memmod package, wingoes' pe package, and
// the Rescale Interlink mesa doctor): declare the handful of raw procs
// golang.org/x/sys/windows does not already wrap via
// windows.NewLazySystemDLL, and use the package's own types (windows.Handle,
// windows.ProcessInformation, windows.StartupInfo) everywhere else.
package winapi

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modntdll    = windows.NewLazySystemDLL("ntdll.dll")

	procWaitForDebugEvent      = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent     = modkernel32.NewProc("ContinueDebugEvent")
	procReadProcessMemory      = modkernel32.NewProc("ReadProcessMemory")
	procWriteProcessMemory     = modkernel32.NewProc("WriteProcessMemory")
	procNtQueryInformationProc = modntdll.NewProc("NtQueryInformationProcess")
)

// Debug event codes (winbase.h).
const (
	ExceptionDebugEvent     uint32 = 1
	CreateThreadDebugEvent  uint32 = 2
	CreateProcessDebugEvent uint32 = 3
	ExitThreadDebugEvent    uint32 = 4
	ExitProcessDebugEvent   uint32 = 5
	LoadDllDebugEvent       uint32 = 6
	UnloadDllDebugEvent     uint32 = 7
	OutputDebugStringEvent  uint32 = 8
	RipEvent                uint32 = 9
)

// Continue-status codes passed to ContinueDebugEvent.
const (
	DBGContinue            uint32 = 0x00010002
	DBGExceptionNotHandled uint32 = 0x80010001
)

// Well-known NTSTATUS values the debug loop treats specially.
const (
	StatusBreakpoint uint32 = 0x80000003
	StatusSingleStep uint32 = 0x80000004
)

const debugEventUnionSize = 256

// rawDebugEvent mirrors the fixed-size header of Win32's DEBUG_EVENT; the
// trailing union is decoded field-by-field rather than cast to a Go
// struct, to sidestep amd64 struct-layout/padding pitfalls entirely.
type rawDebugEvent struct {
	Code      uint32
	ProcessID uint32
	ThreadID  uint32
	_         uint32 // alignment padding matching the real DEBUG_EVENT layout
	Union     [debugEventUnionSize]byte
}

// Process is a created-and-attached debuggee.
type Process struct {
	Handle       windows.Handle
	ThreadHandle windows.Handle
	Pid          uint32
	Tid          uint32
}

// CreateDebuggee launches exe under DEBUG_ONLY_THIS_PROCESS so the calling
// process becomes its sole debugger.
func CreateDebuggee(exe string, args []string, cwd string) (Process, error) {
	cmdLine := buildCommandLine(exe, args)
	cmdLinePtr, err := windows.UTF16PtrFromString(cmdLine)
	if err != nil {
		return Process{}, fmt.Errorf("winapi: command line: %w", err)
	}

	var cwdPtr *uint16
	if cwd != "" {
		cwdPtr, err = windows.UTF16PtrFromString(cwd)
		if err != nil {
			return Process{}, fmt.Errorf("winapi: cwd: %w", err)
		}
	}

	si := new(windows.StartupInfo)
	si.Cb = uint32(unsafe.Sizeof(*si))
	pi := new(windows.ProcessInformation)

	err = windows.CreateProcess(
		nil, cmdLinePtr, nil, nil, false,
		windows.DEBUG_ONLY_THIS_PROCESS,
		nil, cwdPtr, si, pi,
	)
	if err != nil {
		return Process{}, fmt.Errorf("winapi: CreateProcess: %w", err)
	}

	return Process{
		Handle:       pi.Process,
		ThreadHandle: pi.Thread,
		Pid:          pi.ProcessId,
		Tid:          pi.ThreadId,
	}, nil
}

func buildCommandLine(exe string, args []string) string {
	line := windows.EscapeArg(exe)
	for _, a := range args {
		line += " " + windows.EscapeArg(a)
	}
	return line
}

// DebugEventKind is the tagged-union discriminant of a drained debug
// event, carrying only the raw payload the dispatch loop needs.
type DebugEventKind struct {
	Code      uint32
	ProcessID uint32
	ThreadID  uint32
	raw       [debugEventUnionSize]byte
}

var errWaitTimeout = errors.New("winapi: wait timed out")

// ErrWaitTimeoutIs reports whether err means WaitForDebugEvent returned WAIT_TIMEOUT or
// ERROR_SEM_TIMEOUT, the "normal" timeout the caller's polling loop
// expects (as opposed to an unexpected wait failure).
func ErrWaitTimeoutIs(err error) bool { return errors.Is(err, errWaitTimeout) }

// WaitForDebugEvent blocks up to timeoutMs for the next debug event.
func WaitForDebugEvent(timeoutMs uint32) (DebugEventKind, error) {
	var ev rawDebugEvent
	r, _, callErr := procWaitForDebugEvent.Call(
		uintptr(unsafe.Pointer(&ev)), uintptr(timeoutMs),
	)
	if r == 0 {
		errno, _ := callErr.(syscall.Errno)
		if errno == windows.WAIT_TIMEOUT || errno == windows.ERROR_SEM_TIMEOUT {
			return DebugEventKind{}, errWaitTimeout
		}
		return DebugEventKind{}, fmt.Errorf("winapi: WaitForDebugEvent: %w", callErr)
	}
	return DebugEventKind{Code: ev.Code, ProcessID: ev.ProcessID, ThreadID: ev.ThreadID, raw: ev.Union}, nil
}

// ContinueDebugEvent resumes the debuggee thread that raised the last
// event, with the given continue status (DBGContinue or
// DBGExceptionNotHandled).
func ContinueDebugEvent(pid, tid, status uint32) error {
	r, _, callErr := procContinueDebugEvent.Call(
		uintptr(pid), uintptr(tid), uintptr(status),
	)
	if r == 0 {
		return fmt.Errorf("winapi: ContinueDebugEvent: %w", callErr)
	}
	return nil
}

// --- CREATE_PROCESS_DEBUG_INFO accessors ---

// CreateProcessFileHandle returns hFile from CREATE_PROCESS_DEBUG_INFO.
func (e DebugEventKind) CreateProcessFileHandle() windows.Handle {
	return windows.Handle(leUint(e.raw[0:8]))
}

// --- LOAD_DLL_DEBUG_INFO accessors ---

// LoadDllFileHandle returns hFile from LOAD_DLL_DEBUG_INFO.
func (e DebugEventKind) LoadDllFileHandle() windows.Handle {
	return windows.Handle(leUint(e.raw[0:8]))
}

// LoadDllBase returns lpBaseOfDll.
func (e DebugEventKind) LoadDllBase() uintptr {
	return uintptr(leUint(e.raw[8:16]))
}

// LoadDllImageNamePointer returns (pointer-in-debuggee, isUnicode). Layout:
// hFile@0-7, lpBaseOfDll@8-15, dwDebugInfoFileOffset@16-19,
// nDebugInfoSize@20-23, lpImageName@24-31, fUnicode@32-33.
func (e DebugEventKind) LoadDllImageNamePointer() (uintptr, bool) {
	ptr := uintptr(leUint(e.raw[24:32]))
	unicode := leUint16(e.raw[32:34]) != 0
	return ptr, unicode
}

// --- OUTPUT_DEBUG_STRING_INFO accessors ---

// DebugStringPointer returns (pointer-in-debuggee, isUnicode, declaredLength).
func (e DebugEventKind) DebugStringPointer() (uintptr, bool, uint16) {
	ptr := uintptr(leUint(e.raw[0:8]))
	unicode := leUint16(e.raw[8:10]) != 0
	length := leUint16(e.raw[10:12])
	return ptr, unicode, length
}

// --- EXIT_PROCESS_DEBUG_INFO accessors ---

// ExitCode returns dwExitCode.
func (e DebugEventKind) ExitCode() uint32 {
	return uint32(leUint(e.raw[0:4]))
}

// --- EXCEPTION_DEBUG_INFO accessors ---

// ExceptionCode returns ExceptionRecord.ExceptionCode.
func (e DebugEventKind) ExceptionCode() uint32 {
	return uint32(leUint(e.raw[0:4]))
}

// FirstChance returns dwFirstChance.
func (e DebugEventKind) FirstChance() bool {
	return leUint(e.raw[152:160]) != 0
}

func leUint(b []byte) uint64 {
	var v uint64
	for i, c := range b {
		v |= uint64(c) << (8 * uint(i))
	}
	return v
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// CloseHandle closes h, ignoring the result per the specification's "any
// handle close failure is ignored" error policy.
func CloseHandle(h windows.Handle) {
	if h != 0 && h != windows.InvalidHandle {
		_ = windows.CloseHandle(h)
	}
}

// TerminateProcess force-kills a process. The debug loop does not call it:
// a debuggee is never force-killed, including when PEB loader-snaps
// enablement fails.
func TerminateProcess(h windows.Handle, exitCode uint32) error {
	return windows.TerminateProcess(h, exitCode)
}
