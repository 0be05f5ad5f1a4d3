package main

// Exit codes, per the specification's §6 contract.
const (
	exitClean         = 0
	exitMissingImport = 10
	exitCLIError      = 20
	exitRunEngine     = 21
	exitUnsupportedOS = 22
)

// Alternate "test mode" exit codes (§6), toggled by LOADWHAT_TEST_MODE for
// harness consumption; core semantics are unchanged.
const (
	testExitClean    = 0
	testExitLoadFail = 2
	testExitTimeout  = 3
)
