package credstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// poolFile is the on-disk shape of the credential pool, written with
// indentation, matching how token files are conventionally persisted
// files, just in YAML to match this module's config conventions.
type poolFile struct {
	Credentials []*Credential `yaml:"credentials"`
}

// LoadPool reads a credential pool from path.
func LoadPool(path string) ([]*Credential, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential pool: %w", err)
	}
	var f poolFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse credential pool: %w", err)
	}
	for _, c := range f.Credentials {
		if c.Health == "" {
			c.Health = HealthHealthy
		}
		if c.DailyResetAt.IsZero() {
			c.DailyResetAt = nextUTCMidnight(c.DailyResetAt)
		}
	}
	return f.Credentials, nil
}

// SavePool writes the pool to path, creating parent directories as needed.
func SavePool(path string, creds []*Credential) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create credential pool directory: %w", err)
	}
	raw, err := yaml.Marshal(poolFile{Credentials: creds})
	if err != nil {
		return fmt.Errorf("marshal credential pool: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("write credential pool: %w", err)
	}
	return nil
}

// WatchPool reloads the credential pool from path whenever it changes on
// disk and invokes onChange with the freshly loaded credentials. It runs
// until ctx-like stop is closed; callers typically wire onChange to replace
// a Store's pool wholesale rather than mutate it in place, since a config
// edit may add, remove, or relabel credentials.
func WatchPool(path string, log *logrus.Logger, onChange func([]*Credential), stop <-chan struct{}) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credential pool watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch credential pool directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				creds, err := LoadPool(path)
				if err != nil {
					log.WithError(err).Warn("credential pool reload failed, keeping previous pool")
					continue
				}
				log.WithField("count", len(creds)).Info("credential pool reloaded")
				onChange(creds)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("credential pool watcher error")
			}
		}
	}()
	return nil
}
