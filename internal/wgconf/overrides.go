package wgconf

import (
	"os"
	"path/filepath"
	"strings"
)

// Override files dropped into the data directory by the installer. Both are
// optional; missing or empty files fall back to defaults.
const (
	ExtraInterfaceFile = "client-extra-interface.txt"
	AllowedIPsFile     = "client-allowedips.txt"
)

// LoadOverrides reads the optional client render inputs from the data
// directory. They are read at render time so the operator can change them
// without restarting the service.
func LoadOverrides(dataDir string) (extraInterface, allowedIPs string) {
	extraInterface = readTrimmed(filepath.Join(dataDir, ExtraInterfaceFile))
	allowedIPs = readTrimmed(filepath.Join(dataDir, AllowedIPsFile))
	return extraInterface, allowedIPs
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
