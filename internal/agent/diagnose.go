package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Diagnostics captures environmental signals around an agent failure.
// It is descriptive only: nothing here feeds the classification
// decision, it is attached to the debug context of failure reports.
type Diagnostics struct {
	BinaryFound  bool     `json:"binary_found"`
	BinaryPath   string   `json:"binary_path,omitempty"`
	PathEntries  []string `json:"path_entries,omitempty"`
	ConfigDir    string   `json:"config_dir,omitempty"`
	ConfigExists bool     `json:"config_exists"`
}

// Diagnose probes the environment for the agent binary and its
// configuration directory.
func Diagnose(command string) Diagnostics {
	d := Diagnostics{}

	if path, err := exec.LookPath(command); err == nil {
		d.BinaryFound = true
		d.BinaryPath = path
	}

	// Keep the PATH entries that plausibly relate to the agent so the
	// debug context stays readable.
	for _, entry := range filepath.SplitList(os.Getenv("PATH")) {
		if strings.Contains(entry, "local") || strings.Contains(entry, command) {
			d.PathEntries = append(d.PathEntries, entry)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		d.ConfigDir = filepath.Join(home, fmt.Sprintf(".%s", command))
		if _, err := os.Stat(d.ConfigDir); err == nil {
			d.ConfigExists = true
		}
	}

	return d
}
