package debugrun

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/windows"

	"github.com/loadwhat/loadwhat/internal/log"
	"github.com/loadwhat/loadwhat/internal/snaps"
	"github.com/loadwhat/loadwhat/internal/winapi"
)

// maxDebugStringChars is the cap named in the specification (16 Ki).
const maxDebugStringChars = 16 * 1024

// maxImageNameChars is the cap on the remote-memory fallback read of a
// LOAD_DLL_DEBUG_EVENT's image-name pointer.
const maxImageNameChars = 2048

// pollQuantumMs is the wait granularity used when no deadline (or a
// remaining budget larger than this) applies.
const pollQuantumMs = 250

// Options configures one debug session.
type Options struct {
	Exe         string
	Args        []string
	Cwd         string
	TimeoutMs   uint32 // 0 means no deadline
	LoaderSnaps bool
	Logger      *log.Helper
}

// Run creates Exe as a debuggee and drains its debug events until the
// process exits or the timeout elapses. A last-chance exception is
// recorded and the loop keeps draining until the exit event arrives.
func Run(opts Options) (RunOutcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.LevelWarn)
	}

	proc, err := winapi.CreateDebuggee(opts.Exe, opts.Args, opts.Cwd)
	if err != nil {
		return RunOutcome{}, fmt.Errorf("debugrun: create debuggee: %w", err)
	}

	var ifeoGuard *snaps.IFEOGuard
	if opts.LoaderSnaps {
		ifeoGuard = enableLoaderSnaps(proc.Handle, opts.Exe, logger)
	}
	defer func() {
		if ifeoGuard != nil {
			if err := ifeoGuard.Close(); err != nil {
				logger.Warnf("IFEO restore failed: %v", err)
			}
		}
	}()

	start := time.Now()
	l := &loop{
		proc:   proc,
		logger: logger,
	}
	outcome, err := l.run(opts.TimeoutMs)
	outcome.ElapsedMillis = time.Since(start).Milliseconds()
	if err != nil {
		return outcome, fmt.Errorf("debugrun: %w", err)
	}
	return outcome, nil
}

func enableLoaderSnaps(process windows.Handle, exe string, logger *log.Helper) *snaps.IFEOGuard {
	if err := snaps.TryPEBPatch(process); err != nil {
		logger.Warnf("PEB loader-snaps patch failed, falling back to IFEO: %v", err)
	} else {
		return nil
	}

	guard, err := snaps.EnableIFEO(strings.ToLower(filepath.Base(exe)))
	if err != nil {
		logger.Warnf("IFEO loader-snaps enablement failed: %v", err)
		return nil
	}
	return guard
}

type loop struct {
	proc          winapi.Process
	logger        *log.Helper
	events        []RuntimeEvent
	modules       []LoadedModule
	sawExit       bool
	exitCode      *uint32
	exceptionCode *uint32
	timedOut      bool
}

func (l *loop) run(timeoutMs uint32) (RunOutcome, error) {
	deadline := time.Time{}
	hasDeadline := timeoutMs != 0
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	var waitErr error
	for {
		waitMs := uint32(pollQuantumMs)
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				l.timedOut = true
				break
			}
			if ms := remaining.Milliseconds(); ms < int64(waitMs) {
				waitMs = uint32(ms)
				if waitMs == 0 {
					waitMs = 1
				}
			}
		}

		ev, err := winapi.WaitForDebugEvent(waitMs)
		if err != nil {
			if winapi.ErrWaitTimeoutIs(err) {
				continue
			}
			l.logger.Errorf("WaitForDebugEvent failed: %v", err)
			waitErr = fmt.Errorf("WaitForDebugEvent failed: %w", err)
			break
		}

		done := l.dispatch(ev)
		if done {
			break
		}
	}

	winapi.CloseHandle(l.proc.ThreadHandle)
	winapi.CloseHandle(l.proc.Handle)

	outcome := RunOutcome{
		Pid:           l.proc.Pid,
		Events:        l.events,
		Modules:       l.modules,
		Termination:   l.terminationKind(),
		ExitCode:      l.exitCode,
		ExceptionCode: l.exceptionCode,
	}
	return outcome, waitErr
}

// dispatch handles one event and returns true if the loop should stop.
func (l *loop) dispatch(ev winapi.DebugEventKind) bool {
	switch ev.Code {
	case winapi.CreateProcessDebugEvent:
		winapi.CloseHandle(ev.CreateProcessFileHandle())
		_ = winapi.ContinueDebugEvent(ev.ProcessID, ev.ThreadID, winapi.DBGContinue)

	case winapi.LoadDllDebugEvent:
		l.handleLoadDll(ev)
		winapi.CloseHandle(ev.LoadDllFileHandle())
		_ = winapi.ContinueDebugEvent(ev.ProcessID, ev.ThreadID, winapi.DBGContinue)

	case winapi.OutputDebugStringEvent:
		l.handleDebugString(ev)
		_ = winapi.ContinueDebugEvent(ev.ProcessID, ev.ThreadID, winapi.DBGContinue)

	case winapi.ExceptionDebugEvent:
		return l.handleException(ev)

	case winapi.ExitProcessDebugEvent:
		code := ev.ExitCode()
		l.exitCode = &code
		if l.exceptionCode == nil && code&0x80000000 != 0 {
			l.exceptionCode = &code
		}
		l.sawExit = true
		_ = winapi.ContinueDebugEvent(ev.ProcessID, ev.ThreadID, winapi.DBGContinue)
		return true

	default:
		_ = winapi.ContinueDebugEvent(ev.ProcessID, ev.ThreadID, winapi.DBGContinue)
	}
	return false
}

func (l *loop) handleLoadDll(ev winapi.DebugEventKind) {
	path, err := winapi.GetFinalPathByHandle(ev.LoadDllFileHandle())
	base := ev.LoadDllBase()
	if err != nil {
		ptr, unicode := ev.LoadDllImageNamePointer()
		if ptr != 0 {
			path = l.readRemoteImageName(ptr, unicode)
		}
	}

	name := ""
	if path != "" {
		name = strings.ToLower(filepath.Base(path))
	}
	if name == "" {
		name = fmt.Sprintf("0x%x", base)
	}

	mod := LoadedModule{Name: name, Path: path, Base: uint64(base)}
	l.modules = append(l.modules, mod)
	l.events = append(l.events, RuntimeEvent{Kind: RuntimeLoaded, Loaded: mod})
}

func (l *loop) readRemoteImageName(ptr uintptr, unicode bool) string {
	// The pointer itself may be a pointer-to-pointer depending on
	// fUnicode; LOAD_DLL_DEBUG_INFO.lpImageName points at a location
	// that holds the address of the actual string in remote memory.
	addr, err := winapi.ReadUintptr(l.proc.Handle, ptr)
	if err != nil {
		return ""
	}
	if addr == 0 {
		return ""
	}
	var s string
	if unicode {
		s, err = winapi.ReadRemoteUTF16String(l.proc.Handle, addr, 0, maxImageNameChars)
	} else {
		s, err = winapi.ReadRemoteAnsiString(l.proc.Handle, addr, 0, maxImageNameChars)
	}
	if err != nil {
		return ""
	}
	return s
}

func (l *loop) handleDebugString(ev winapi.DebugEventKind) {
	ptr, unicode, declared := ev.DebugStringPointer()
	var text string
	var err error
	if unicode {
		text, err = winapi.ReadRemoteUTF16String(l.proc.Handle, ptr, int(declared), maxDebugStringChars)
	} else {
		text, err = winapi.ReadRemoteAnsiString(l.proc.Handle, ptr, int(declared), maxDebugStringChars)
	}
	if err != nil {
		text = "UNREADABLE"
	}

	l.events = append(l.events, RuntimeEvent{
		Kind: RuntimeDebugString,
		DebugString: DebugStringEvent{
			Pid:  ev.ProcessID,
			Tid:  ev.ThreadID,
			Text: text,
		},
	})
}

func (l *loop) handleException(ev winapi.DebugEventKind) bool {
	code := ev.ExceptionCode()
	firstChance := ev.FirstChance()

	if code == winapi.StatusBreakpoint || code == winapi.StatusSingleStep {
		_ = winapi.ContinueDebugEvent(ev.ProcessID, ev.ThreadID, winapi.DBGContinue)
		return false
	}

	if firstChance {
		_ = winapi.ContinueDebugEvent(ev.ProcessID, ev.ThreadID, winapi.DBGExceptionNotHandled)
		return false
	}

	l.exceptionCode = &code
	_ = winapi.ContinueDebugEvent(ev.ProcessID, ev.ThreadID, winapi.DBGExceptionNotHandled)
	return false
}

func (l *loop) terminationKind() TerminationKind {
	if l.sawExit {
		if l.exceptionCode != nil {
			return TerminationException
		}
		return TerminationExitProcess
	}
	if l.timedOut {
		return TerminationTimeout
	}
	if l.exceptionCode != nil {
		return TerminationException
	}
	return TerminationTimeout
}
