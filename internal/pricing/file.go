package pricing

import (
	"context"
	"fmt"
	"sync"

	"lv-riskengine/internal/config"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FileSource serves a policy file and reloads it whenever the file changes on disk.
// A reload that fails validation keeps the previous good config and records the error.
type FileSource struct {
	v   *viper.Viper
	log *zap.Logger

	mu       sync.RWMutex
	cfg      Config
	lastErr  error
	onChange func()
}

func NewFileSource(path string, log *zap.Logger) (*FileSource, error) {
	s, err := openFileSource(path, log)
	if err != nil {
		return nil, err
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.refresh(e.Name, e.Op.String())
	})
	s.v.WatchConfig()
	return s, nil
}

func openFileSource(path string, log *zap.Logger) (*FileSource, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	s := &FileSource{v: v, log: log.Named("policy_file")}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// refresh re-decodes the file viper has just re-read. The change callback runs for
// rejected reloads too, so consumers notice the source went stale.
func (s *FileSource) refresh(name, op string) {
	if err := s.reload(); err != nil {
		s.log.Warn("policy file reload rejected", zap.String("file", name), zap.Error(err))
	} else {
		s.log.Info("policy file reloaded", zap.String("file", name), zap.String("op", op))
	}
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// OnChange registers a callback run after every reload attempt.
func (s *FileSource) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *FileSource) reload() error {
	var cfg Config
	if err := s.v.Unmarshal(&cfg, viper.DecodeHook(config.DecodeHooks())); err != nil {
		s.setErr(err)
		return fmt.Errorf("decode policy file: %w", err)
	}
	if err := Validate(cfg); err != nil {
		s.setErr(err)
		return err
	}
	s.mu.Lock()
	s.cfg = Normalize(cfg)
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

func (s *FileSource) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Load returns the last good config. After a rejected reload it also returns
// ErrStaleConfiguration until the file is fixed.
func (s *FileSource) Load(context.Context) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr != nil {
		return s.cfg, fmt.Errorf("%w: %w", ErrStaleConfiguration, s.lastErr)
	}
	return s.cfg, nil
}

// LastError returns the error of the most recent rejected reload, if any.
func (s *FileSource) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
