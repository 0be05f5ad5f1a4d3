package winapi

import (
	"fmt"
	"unicode/utf16"

	"golang.org/x/sys/windows/registry"
)

const (
	sessionManagerPath = `SYSTEM\CurrentControlSet\Control\Session Manager`
	safeDllSearchName  = "SafeDllSearchMode"

	ifeoPath = `SOFTWARE\Microsoft\Windows NT\CurrentVersion\Image File Execution Options`
)

// ReadSafeDllSearchMode reads HKLM\SYSTEM\CurrentControlSet\Control\Session
// Manager!SafeDllSearchMode, defaulting to true when the key or value
// cannot be read (matching the real loader's documented default).
func ReadSafeDllSearchMode() bool {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, sessionManagerPath, registry.QUERY_VALUE)
	if err != nil {
		return true
	}
	defer k.Close()

	v, _, err := k.GetIntegerValue(safeDllSearchName)
	if err != nil {
		return true
	}
	return v != 0
}

// RegistryValue is a raw (type, data) pair, or the absence of one -- the
// shape the IFEO guard needs to restore a value exactly as it found it.
type RegistryValue struct {
	Present bool
	Type    uint32
	Data    []byte
}

// ReadIFEOGlobalFlag reads the GlobalFlag value under the given image's
// IFEO subkey, reporting its absence rather than an error when unset.
func ReadIFEOGlobalFlag(imageBasename string) (RegistryValue, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, ifeoPath+`\`+imageBasename, registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return RegistryValue{}, nil
		}
		return RegistryValue{}, fmt.Errorf("winapi: open IFEO key: %w", err)
	}
	defer k.Close()

	n, valtype, err := k.GetValue("GlobalFlag", nil)
	if err != nil {
		switch err {
		case registry.ErrNotExist:
			return RegistryValue{}, nil
		case registry.ErrShortBuffer:
			// expected: probing for the required buffer size.
		default:
			return RegistryValue{}, fmt.Errorf("winapi: read GlobalFlag: %w", err)
		}
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, _, err = k.GetValue("GlobalFlag", buf); err != nil {
			return RegistryValue{}, fmt.Errorf("winapi: read GlobalFlag: %w", err)
		}
	}
	return RegistryValue{Present: true, Type: valtype, Data: buf}, nil
}

// WriteIFEOGlobalFlagDWord opens-or-creates the image's IFEO subkey and
// writes GlobalFlag as a REG_DWORD.
func WriteIFEOGlobalFlagDWord(imageBasename string, value uint32) error {
	k, _, err := registry.CreateKey(registry.LOCAL_MACHINE, ifeoPath+`\`+imageBasename, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("winapi: create IFEO key: %w", err)
	}
	defer k.Close()

	if err := k.SetDWordValue("GlobalFlag", value); err != nil {
		return fmt.Errorf("winapi: set GlobalFlag: %w", err)
	}
	return nil
}

// RestoreIFEOGlobalFlag restores GlobalFlag to orig: deletes the value if
// it was absent, otherwise rewrites its original type and bytes.
func RestoreIFEOGlobalFlag(imageBasename string, orig RegistryValue) error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, ifeoPath+`\`+imageBasename, registry.SET_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return nil
		}
		return fmt.Errorf("winapi: open IFEO key for restore: %w", err)
	}
	defer k.Close()

	if !orig.Present {
		if err := k.DeleteValue("GlobalFlag"); err != nil && err != registry.ErrNotExist {
			return fmt.Errorf("winapi: delete GlobalFlag: %w", err)
		}
		return nil
	}

	if err := setTypedValue(k, "GlobalFlag", orig.Type, orig.Data); err != nil {
		return fmt.Errorf("winapi: restore GlobalFlag: %w", err)
	}
	return nil
}

// setTypedValue writes data back using whichever typed setter matches the
// value's original registry type, since the registry package exposes no
// generic "set raw type+bytes" call.
func setTypedValue(k registry.Key, name string, valtype uint32, data []byte) error {
	switch valtype {
	case registry.DWORD:
		if len(data) < 4 {
			return fmt.Errorf("short DWORD data")
		}
		v := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		return k.SetDWordValue(name, v)
	case registry.QWORD:
		if len(data) < 8 {
			return fmt.Errorf("short QWORD data")
		}
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(data[i]) << (8 * i)
		}
		return k.SetQWordValue(name, v)
	case registry.SZ:
		return k.SetStringValue(name, decodeUTF16NulTerminated(data))
	case registry.EXPAND_SZ:
		return k.SetExpandStringValue(name, decodeUTF16NulTerminated(data))
	default:
		return k.SetBinaryValue(name, data)
	}
}

func decodeUTF16NulTerminated(data []byte) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u := uint16(data[i]) | uint16(data[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
