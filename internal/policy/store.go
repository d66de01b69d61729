package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antoniostano/piiguard/internal/kvstore"
)

// Store persists the policy and the allowlist under their fixed keys.
// Missing or malformed data degrades to defaults; only backend failures are
// returned as errors.
type Store struct {
	kv     kvstore.Store
	logger *slog.Logger
}

func NewStore(kv kvstore.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// Load returns the stored policy, or Default when none is stored.
func (s *Store) Load(ctx context.Context) (Policy, error) {
	raw, err := s.kv.Get(ctx, PolicyKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("load policy: %w", err)
	}
	p, err := Decode(raw)
	if err != nil {
		s.logger.Warn("stored policy is malformed, using defaults", "key", PolicyKey, "error", err)
		return Default(), nil
	}
	return p, nil
}

func (s *Store) Save(ctx context.Context, p Policy) error {
	p = p.Clone()
	p.Normalize()
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := s.kv.Set(ctx, PolicyKey, raw); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// LoadAllowlist returns the stored allowlist entries.
func (s *Store) LoadAllowlist(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, AllowlistKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return []string{}, fmt.Errorf("load allowlist: %w", err)
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		s.logger.Warn("stored allowlist is malformed, starting empty", "key", AllowlistKey, "error", err)
		return []string{}, nil
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func (s *Store) SaveAllowlist(ctx context.Context, values []string) error {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal allowlist: %w", err)
	}
	if err := s.kv.Set(ctx, AllowlistKey, raw); err != nil {
		return fmt.Errorf("save allowlist: %w", err)
	}
	return nil
}

// Decode parses a JSON policy on top of Default, so absent fields keep their
// default values.
func Decode(raw []byte) (Policy, error) {
	p := Default()
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, err
	}
	p.Normalize()
	return p, nil
}
