// Package version хранит сведения о сборке, подставляемые через
// -ldflags "-X github.com/vladislavdragonenkov/fulfillment/internal/version.version=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о бинарнике.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Get возвращает сведения о текущей сборке.
func Get() Build {
	return Build{
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
	}
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// Fields возвращает сведения о сборке для структурированного лога.
func (b Build) Fields() map[string]any {
	return map[string]any{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
		"go_version": b.GoVersion,
	}
}

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s go=%s", b.Version, b.Commit, b.Date, b.GoVersion)
}
