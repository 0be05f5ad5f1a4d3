// Command loadwhat diagnoses why a Windows executable fails to load
// because of a missing or bad DLL dependency. See `loadwhat help`.
package main

import "os"

func main() {
	os.Exit(run())
}
