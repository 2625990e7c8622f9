package selectivedca

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

const (
	buyIntentKeyPrefix = "buy_intent_"

	intentStatusPending = "pending"
	intentStatusDone    = "done"
	intentStatusFailed  = "failed"

	journalSegmentThreshold = 1000
	journalMaxSegments      = 100
	journalDirPermissions   = 0o755
)

// BuyIntent is a market buy about to be sent. Its ID doubles as the client
// order id so a crash between the order and the position write can be resolved.
type BuyIntent struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Exchange  domain.Exchange `json:"exchange"`
	Market    domain.Pair     `json:"market"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Watchlist []string        `json:"watchlist"`
	Time      time.Time       `json:"time"`
	Error     string          `json:"error,omitempty"`
}

// Journal is a WAL of buy intents.
type Journal struct {
	mu      sync.Mutex
	wal     *gowal.Wal
	intents []*BuyIntent
	index   map[string]*BuyIntent
}

// OpenJournal opens or creates the journal in dir and replays it.
func OpenJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, journalDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure journal directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "intent_",
		SegmentThreshold: journalSegmentThreshold,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init buy intent WAL")
	}

	j := &Journal{wal: wal, index: make(map[string]*BuyIntent)}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, buyIntentKeyPrefix) {
			continue
		}
		var intent BuyIntent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal buy intent %s", msg.Key)
		}
		if existing, ok := j.index[intent.ID]; ok {
			*existing = intent
			continue
		}
		stored := intent
		j.intents = append(j.intents, &stored)
		j.index[stored.ID] = &stored
	}

	return j, nil
}

// Prepare records a pending intent before the order is sent.
func (j *Journal) Prepare(exchange domain.Exchange, market domain.Pair, qty, price decimal.Decimal,
	watchlist []string, at time.Time) (*BuyIntent, error) {
	intent := &BuyIntent{
		ID:        uuid.New().String(),
		Status:    intentStatusPending,
		Exchange:  exchange,
		Market:    market,
		Quantity:  qty,
		Price:     price,
		Watchlist: append([]string(nil), watchlist...),
		Time:      at,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.persist(intent); err != nil {
		return nil, err
	}
	j.intents = append(j.intents, intent)
	j.index[intent.ID] = intent
	return intent, nil
}

// MarkDone resolves an intent whose position exists.
func (j *Journal) MarkDone(intent *BuyIntent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = intentStatusDone
	intent.Error = ""
	return j.persist(intent)
}

// MarkFailed resolves an intent that never produced a fill.
func (j *Journal) MarkFailed(intent *BuyIntent, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = intentStatusFailed
	if cause != nil {
		intent.Error = cause.Error()
	}
	return j.persist(intent)
}

// Pending returns unresolved intents in creation order.
func (j *Journal) Pending() []*BuyIntent {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*BuyIntent
	for _, it := range j.intents {
		if it.Status == intentStatusPending {
			out = append(out, it)
		}
	}
	return out
}

// Close closes the WAL.
func (j *Journal) Close() error {
	return j.wal.Close()
}

func (j *Journal) persist(intent *BuyIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "failed to marshal buy intent")
	}
	key := fmt.Sprintf("%s%s", buyIntentKeyPrefix, intent.ID)
	return j.wal.Write(j.wal.CurrentIndex()+1, key, data)
}
