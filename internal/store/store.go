package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"dropwatch/internal/logging"
	"dropwatch/internal/metrics"
)

// Key layout
const (
	sessionKey  = "session:current"
	claimPrefix = "claim:"
)

// Config contains storage configuration
type Config struct {
	// Directory for data storage
	DataDir string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{DataDir: "./data"}
}

// Session is the persisted account session.
type Session struct {
	AccessToken string    `json:"access_token"`
	UserID      int64     `json:"user_id"`
	Login       string    `json:"login"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Claim is one successful claim recorded for audit across restarts.
type Claim struct {
	Kind      string    `json:"kind"` // drop or points_bonus
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id,omitempty"`
	Points    int       `json:"points,omitempty"`
	Benefit   string    `json:"benefit,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Store persists the account session and the claim ledger in BadgerDB.
type Store struct {
	db      *badger.DB
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewStore opens or creates the database under config.DataDir.
func NewStore(config Config) (*Store, error) {
	if config.DataDir == "" {
		config.DataDir = DefaultConfig().DataDir
	}

	opts := badger.DefaultOptions(config.DataDir).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger := logging.Component("store")
	logger.Info().Str("dir", config.DataDir).Msg("Store opened")

	return &Store{
		db:      db,
		logger:  logger,
		metrics: metrics.GetMetrics(),
	}, nil
}

// Session returns the stored session, or nil when none exists.
func (s *Store) Session() (*Session, error) {
	var session *Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			session = &Session{}
			return json.Unmarshal(val, session)
		})
	})
	if err != nil {
		s.metrics.StorageOperations.WithLabelValues("get_session", "false").Inc()
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	s.metrics.StorageOperations.WithLabelValues("get_session", "true").Inc()
	return session, nil
}

// SaveSession persists the session record, stamping its update time.
func (s *Store) SaveSession(session Session) error {
	session.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKey), data)
	})
	if err != nil {
		s.metrics.StorageOperations.WithLabelValues("save_session", "false").Inc()
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.metrics.StorageOperations.WithLabelValues("save_session", "true").Inc()
	return nil
}

// claimKey builds the ledger key for one claim.
func claimKey(kind, id string) []byte {
	return []byte(claimPrefix + kind + ":" + id)
}

// RecordClaim appends a successful claim to the ledger, stamping its
// claim time. Recording the same claim twice overwrites the record, so
// the operation stays idempotent.
func (s *Store) RecordClaim(claim Claim) error {
	claim.ClaimedAt = time.Now().UTC()
	data, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("failed to encode claim: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(claimKey(claim.Kind, claim.ID), data)
	})
	if err != nil {
		s.metrics.StorageOperations.WithLabelValues("record_claim", "false").Inc()
		return fmt.Errorf("failed to record claim: %w", err)
	}
	s.metrics.StorageOperations.WithLabelValues("record_claim", "true").Inc()
	s.logger.Debug().Str("kind", claim.Kind).Str("id", claim.ID).Msg("Claim recorded")
	return nil
}

// HasClaim reports whether a claim id was already recorded.
func (s *Store) HasClaim(kind, id string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(claimKey(kind, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up claim: %w", err)
	}
	return found, nil
}

// Claims lists every recorded claim in key order.
func (s *Store) Claims() ([]Claim, error) {
	var claims []Claim
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(claimPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var c Claim
				if err := json.Unmarshal(val, &c); err != nil {
					return err
				}
				claims = append(claims, c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.StorageOperations.WithLabelValues("list_claims", "false").Inc()
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	s.metrics.StorageOperations.WithLabelValues("list_claims", "true").Inc()
	return claims, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
