package simulator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

const (
	globalPreferencesFile = ".GlobalPreferences.plist"
	preferencesFile       = "com.apple.Preferences.plist"
)

// keyboardDefaults disables the keyboard behaviours that make automated text entry flaky
var keyboardDefaults = map[string]interface{}{
	"KeyboardAutocapitalization":        false,
	"KeyboardAutocorrection":            false,
	"KeyboardCapsLock":                  false,
	"KeyboardCheckSpelling":             false,
	"KeyboardPeriodShortcut":            false,
	"KeyboardPrediction":                false,
	"KeyboardShowPredictionBar":         false,
	"DidShowContinuousPathIntroduction": true,
}

// preferencesDir returns the Library/Preferences directory inside a device data path
func preferencesDir(dataPath string) string {
	return filepath.Join(dataPath, "Library", "Preferences")
}

// ApplyLocale writes the locale and language into the device's global preferences.
// The device must be shut down for the change to be picked up on next boot.
func ApplyLocale(dataPath, locale string) error {
	if dataPath == "" {
		return fmt.Errorf("device has no data path")
	}
	language := locale
	if i := strings.IndexAny(locale, "_-"); i > 0 {
		language = locale[:i]
	}
	return updatePlist(filepath.Join(preferencesDir(dataPath), globalPreferencesFile), map[string]interface{}{
		"AppleLocale":    locale,
		"AppleLanguages": []string{language},
	})
}

// SetupKeyboard writes keyboard preferences suited to automation
func SetupKeyboard(dataPath string) error {
	if dataPath == "" {
		return fmt.Errorf("device has no data path")
	}
	return updatePlist(filepath.Join(preferencesDir(dataPath), preferencesFile), keyboardDefaults)
}

// ReadPreferences reads a preferences plist from the device data path
func ReadPreferences(dataPath, name string) (map[string]interface{}, error) {
	data, err := os.ReadFile(filepath.Join(preferencesDir(dataPath), name))
	if err != nil {
		return nil, err
	}
	values := make(map[string]interface{})
	if _, err := plist.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return values, nil
}

// updatePlist merges values into the plist at path, creating it if needed
func updatePlist(path string, values map[string]interface{}) error {
	existing := make(map[string]interface{})
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := plist.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	for k, v := range values {
		existing[k] = v
	}

	out, err := plist.Marshal(existing, plist.BinaryFormat)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
