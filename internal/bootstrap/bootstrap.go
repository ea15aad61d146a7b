// Package bootstrap assembles the long-lived components shared by the
// service and the batch tool from validated settings.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"loan-risk/internal/auth"
	"loan-risk/internal/cfg"
	"loan-risk/internal/common"
	"loan-risk/internal/features"
	"loan-risk/internal/ml"
	"loan-risk/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global logger.
func SetupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// Schema resolves the configured schema: a YAML file when one is named,
// otherwise a built-in profile.
func Schema(s cfg.Settings) (features.Schema, error) {
	if s.SchemaFile != "" {
		return features.LoadSchemaFile(s.SchemaFile)
	}
	return features.Profile(s.SchemaProfile)
}

// Model loads the codec and the inference engine and checks that they agree.
// For pipeline artifacts the codec also adopts the embedded vocabulary.
func Model(ctx context.Context, s cfg.Settings, schema features.Schema, metrics ml.MetricsInterface) (*features.Codec, *ml.Engine, error) {
	codec, err := features.LoadCodec(schema, s.ModelDir)
	if err != nil {
		return nil, nil, fmt.Errorf("feature codec: %w", err)
	}

	engine, err := ml.Load(ctx, ml.Options{
		Dir:        s.ModelDir,
		Kind:       ml.Kind(s.ModelKind),
		URL:        s.ModelURL,
		PythonPath: s.PythonPath,
		Timeout:    s.ModelTimeout,
	}, codec, metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("model: %w", err)
	}

	if vocab := engine.Vocabulary(); vocab != nil {
		if codec, err = codec.WithVocabulary(vocab); err != nil {
			return nil, nil, fmt.Errorf("model vocabulary: %w", err)
		}
	}
	return codec, engine, nil
}

// History opens the configured backing and initialises it.
func History(ctx context.Context, s cfg.Settings, schema features.Schema) (storage.History, error) {
	h, err := storage.Open(storage.Options{
		Backend: s.HistoryBackend,
		Path:    s.HistoryPath,
		DSN:     s.DatabaseURL,
		Columns: storage.ColumnsFor(schema.Fields(), schema.Categorical),
		Timeout: s.StoreTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := h.Init(ctx); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// Access is the gate plus, when authentication is enabled, the session
// manager behind it. Close releases the session store.
type Access struct {
	Gate     auth.Gate
	Sessions *auth.SessionManager
	Close    func() error
}

// Gate builds the access gate. AUTH_DISABLED installs auth.AllowAll.
func Gate(ctx context.Context, s cfg.Settings) (*Access, error) {
	if s.AuthDisabled {
		log.Warn().Msg("Authentication disabled, every caller is authorised")
		return &Access{Gate: auth.AllowAll{}, Close: func() error { return nil }}, nil
	}

	users, err := auth.ParseUsers(s.Users)
	if err != nil {
		return nil, err
	}

	var (
		store   auth.SessionStore
		closeFn = func() error { return nil }
	)
	switch s.SessionBackend {
	case common.SessionRedis:
		rs, err := auth.NewRedisSessionStore(ctx, s.RedisAddr, s.RedisPassword, s.RedisDB)
		if err != nil {
			return nil, err
		}
		store, closeFn = rs, rs.Close
	default:
		store = auth.NewMemorySessionStore()
	}

	sessions, err := auth.NewSessionManager(users, store, s.SessionTTL)
	if err != nil {
		closeFn()
		return nil, err
	}
	log.Info().
		Int("users", len(users)).
		Str("sessions", s.SessionBackend).
		Dur("ttl", s.SessionTTL).
		Msg("Access gate ready")
	return &Access{Gate: sessions, Sessions: sessions, Close: closeFn}, nil
}
