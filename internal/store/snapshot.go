package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/onimate/internal/model"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("store: no snapshot saved")

// Snapshotter persists the user state as one opaque JSON document.
// Every Save replaces the previous document.
type Snapshotter interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte) error
	Close() error
}

// Historian is implemented by backends that keep previous snapshots.
type Historian interface {
	History(ctx context.Context, limit int) ([]model.SnapshotVersion, error)
}

// Pinger is implemented by backends with a connection to check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks s if it has a connection, and succeeds otherwise.
func Ping(ctx context.Context, s Snapshotter) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config selects and configures a snapshot backend.
type Config struct {
	Backend     string
	StatePath   string
	SQLitePath  string
	Redis       RedisConfig
	PostgresDSN string
}

// Open creates the snapshot backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Snapshotter, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFile:
		return NewFile(cfg.StatePath), nil
	case BackendSQLite:
		return New(cfg.SQLitePath)
	case BackendRedis:
		return NewRedis(ctx, cfg.Redis)
	case BackendPostgres:
		return NewPostgres(ctx, cfg.PostgresDSN)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// LoadState reads the saved document and merges it over a default state.
// Fields absent from the document keep their defaults. A missing snapshot
// yields the defaults.
func LoadState(ctx context.Context, s Snapshotter) (*model.UserState, error) {
	st := model.DefaultUserState()
	doc, err := s.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("load snapshot: %w", err)
	}
	if err := json.Unmarshal(doc, st); err != nil {
		return model.DefaultUserState(), fmt.Errorf("decode snapshot: %w", err)
	}
	normalize(st)
	slog.Debug("loaded user state", "total_exp", st.TotalExp, "streak", st.StreakCount)
	return st, nil
}

// SaveState encodes st and writes it through s.
func SaveState(ctx context.Context, s Snapshotter, st *model.UserState) error {
	doc, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.Save(ctx, doc); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// normalize replaces explicit nulls in a loaded document with empty values.
func normalize(st *model.UserState) {
	if st.Interactions == nil {
		st.Interactions = []model.InteractionRecord{}
	}
	if st.Tests == nil {
		st.Tests = []model.TestSession{}
	}
	if st.FocusSessions == nil {
		st.FocusSessions = []model.FocusRecord{}
	}
	if st.Settings.RestDays == nil {
		st.Settings.RestDays = model.DefaultUserState().Settings.RestDays
	}
}
