package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Install writes units into dir, replacing files with the same name.
func Install(dir string, units []Unit) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}
	for _, u := range units {
		path := filepath.Join(dir, u.Name)
		if err := os.WriteFile(path, []byte(u.Content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// Drift describes an installed unit that differs from its rendering.
type Drift struct {
	Name     string
	Missing  bool
	Expected string
	Actual   string
}

func (d Drift) String() string {
	if d.Missing {
		return fmt.Sprintf("%s: not installed", d.Name)
	}
	return fmt.Sprintf("%s: modified since installation (expected %s, got %s)",
		d.Name, d.Expected[:16], d.Actual[:16])
}

// CheckInstalled compares the units installed in dir with units. It returns
// one Drift per unit that is missing or whose content hash differs.
func CheckInstalled(dir string, units []Unit) ([]Drift, error) {
	var drift []Drift
	for _, u := range units {
		data, err := os.ReadFile(filepath.Join(dir, u.Name))
		if errors.Is(err, os.ErrNotExist) {
			drift = append(drift, Drift{Name: u.Name, Missing: true})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read unit %s: %w", u.Name, err)
		}
		expected, actual := hash([]byte(u.Content)), hash(data)
		if expected != actual {
			drift = append(drift, Drift{Name: u.Name, Expected: expected, Actual: actual})
		}
	}
	return drift, nil
}

func hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
