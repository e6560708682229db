//go:build windows

package logger

import (
	"syscall"
	"unsafe"
)

var (
	kernel32           = syscall.NewLazyDLL("kernel32.dll")
	procGetConsoleMode = kernel32.NewProc("GetConsoleMode")
	procSetConsoleMode = kernel32.NewProc("SetConsoleMode")
)

// isTerminal reports whether fd is attached to a console, so
// ColorTextHandler knows whether to emit ANSI color codes when dspdemo
// writes its own log lines to stdout.
func isTerminal(fd uintptr) bool {
	var mode uint32
	ok, _, _ := procGetConsoleMode.Call(fd, uintptr(unsafe.Pointer(&mode)))
	return ok != 0
}
