package util

import (
	"os"
	"os/exec"
	"path/filepath"
)

// the shell's "open" verb, same as double clicking the file in Explorer
func openCommand(path string) *exec.Cmd {
	rundll := filepath.Join(os.Getenv("SYSTEMROOT"), "System32", "rundll32.exe")
	return exec.Command(rundll, "url.dll,FileProtocolHandler", path)
}
