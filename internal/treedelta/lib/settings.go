package lib

import (
	"errors"
	"fmt"
	"os"

	yml "gopkg.in/yaml.v3"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/delta"
)

// Settings captures the optional .treedelta/config.yml of a repository.
type Settings struct {
	// WindowSize caps the target length of each delta window sent.
	WindowSize int `yaml:"window-size,omitempty"`

	// DetectCopies makes commits send unchanged files under a new name as
	// copies instead of full texts.
	DetectCopies bool `yaml:"detect-copies"`

	Author string `yaml:"author,omitempty"`
}

// DefaultSettings returns the settings used when no config file exists.
func DefaultSettings() Settings {
	return Settings{
		WindowSize:   delta.DefaultWindowSize,
		DetectCopies: true,
		Author:       os.Getenv("USER"),
	}
}

// LoadSettings reads the settings of the repository in baseDir. Missing
// fields keep their defaults, and a missing file yields DefaultSettings.
func LoadSettings(baseDir string) (Settings, error) {
	settings := DefaultSettings()

	content, err := os.ReadFile(GetSettingsPath(baseDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return Settings{}, err
	}

	if err := yml.Unmarshal(content, &settings); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", GetSettingsPath(baseDir), err)
	}
	if settings.WindowSize <= 0 {
		return Settings{}, fmt.Errorf("%s: window-size must be positive, got %d", GetSettingsPath(baseDir), settings.WindowSize)
	}
	return settings, nil
}

// SaveSettings writes settings to the repository in baseDir.
func SaveSettings(baseDir string, settings Settings) error {
	content, err := yml.Marshal(settings)
	if err != nil {
		return err
	}
	if _, err := EnsureRepoDirs(baseDir); err != nil {
		return err
	}
	return os.WriteFile(GetSettingsPath(baseDir), content, 0644)
}

// Sender returns a delta sender configured by these settings.
func (s Settings) Sender() *delta.Sender {
	return &delta.Sender{WindowSize: s.WindowSize}
}
