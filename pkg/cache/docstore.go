package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/finbase/stockpulse/pkg/types"
)

// ErrNoMatch is returned when no cached output satisfies the lookup
var ErrNoMatch = errors.New("no matching cached output")

const nodeOutputBucket = "node_outputs"

// Record is one cached node output, keyed by (ticker, trade date, node)
type Record struct {
	Ticker    string `json:"ticker"`
	TradeDate string `json:"trade_date"`
	NodeName  string `json:"node_name"`

	AnalysisID string `json:"analysis_id"`
	SessionID  string `json:"session_id,omitempty"`

	// Match filters: a lookup only reuses outputs produced under the
	// same depth, analyst set, and market
	ResearchDepth int              `json:"research_depth"`
	Analysts      []string         `json:"analysts"`
	Market        types.MarketType `json:"market_type"`

	Output    map[string]any `json:"output"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows a lookup to compatible prior runs
type Filter struct {
	ResearchDepth int
	Analysts      []string
	Market        types.MarketType
}

func (f Filter) matches(r *Record) bool {
	if f.ResearchDepth != 0 && f.ResearchDepth != r.ResearchDepth {
		return false
	}
	if f.Market != "" && f.Market != r.Market {
		return false
	}
	if len(f.Analysts) > 0 {
		if len(f.Analysts) != len(r.Analysts) {
			return false
		}
		set := make(map[string]bool, len(r.Analysts))
		for _, a := range r.Analysts {
			set[a] = true
		}
		for _, a := range f.Analysts {
			if !set[a] {
				return false
			}
		}
	}
	return true
}

// DocStore persists node outputs for cross-run reuse
type DocStore interface {
	Save(ctx context.Context, rec *Record) error
	Find(ctx context.Context, ticker, tradeDate, node string, f Filter) (*Record, error)
	Close() error
}

// BoltDocStore keeps records in a single-file bbolt database with JSON
// values, one bucket for all node outputs.
type BoltDocStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the cache database under the data directory
func OpenBolt(dataDir string) (*BoltDocStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dataDir, "node_cache.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(nodeOutputBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}
	return &BoltDocStore{db: db}, nil
}

func recordKey(ticker, tradeDate, node string) []byte {
	return []byte(ticker + "|" + tradeDate + "|" + node)
}

// Save stores the record, replacing any prior output for the same key
func (s *BoltDocStore) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cache record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(nodeOutputBucket)).
			Put(recordKey(rec.Ticker, rec.TradeDate, rec.NodeName), data)
	})
}

// Find returns the cached record for the key when the filter accepts it
func (s *BoltDocStore) Find(ctx context.Context, ticker, tradeDate, node string, f Filter) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(nodeOutputBucket)).Get(recordKey(ticker, tradeDate, node))
		if data == nil {
			return nil
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("failed to unmarshal cache record: %w", err)
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil || !f.matches(rec) {
		return nil, ErrNoMatch
	}
	return rec, nil
}

// Close releases the underlying database
func (s *BoltDocStore) Close() error {
	return s.db.Close()
}
