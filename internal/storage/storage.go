package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"pbn-studio/internal/model"
)

// Store persists the studio's palette and latest result as one JSON file.
// Every mutation rewrites the file.
type Store struct {
	path  string
	mu    sync.RWMutex
	state model.StoredState
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.state = defaultState()
			return s.saveLocked()
		}
		return err
	}
	if len(b) == 0 {
		s.state = defaultState()
		return s.saveLocked()
	}

	var state model.StoredState
	if err := sonic.Unmarshal(b, &state); err != nil {
		return err
	}
	mergeDefaults(&state)
	s.state = state
	return nil
}

func defaultState() model.StoredState {
	return model.StoredState{
		Palette:   []model.PaletteColor{},
		CreatedAt: time.Now().UTC(),
	}
}

func mergeDefaults(state *model.StoredState) {
	if state.Palette == nil {
		state.Palette = []model.PaletteColor{}
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}
}

// saveLocked writes through a temp file so a crash never leaves a torn state.
func (s *Store) saveLocked() error {
	s.state.LastUpdatedUnixMS = time.Now().UnixMilli()
	b, err := sonic.ConfigStd.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) Snapshot() model.StoredState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, _ := sonic.Marshal(s.state)
	var cloned model.StoredState
	_ = sonic.Unmarshal(b, &cloned)
	return cloned
}

func (s *Store) Palette() []model.PaletteColor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PaletteColor, len(s.state.Palette))
	copy(out, s.state.Palette)
	return out
}

func (s *Store) SetPalette(colors []model.PaletteColor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PaletteColor, len(colors))
	copy(out, colors)
	s.state.Palette = out
	return s.saveLocked()
}

func (s *Store) LatestResult() *model.GenerationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.LatestResult == nil {
		return nil
	}
	r := *s.state.LatestResult
	return &r
}

// SetLatestResult stores r; nil clears it.
func (s *Store) SetLatestResult(r *model.GenerationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		s.state.LatestResult = nil
	} else {
		cp := *r
		s.state.LatestResult = &cp
	}
	return s.saveLocked()
}
