// Package simstate persists the paper-trading wallet and orders so simulated
// runs behave like a long-lived exchange account.
package simstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultDir is where simulated state lives unless configured otherwise.
const DefaultDir = "./wal/simulate"

// Store persists simulator state for one exchange so restarts keep balances and orders.
type Store struct {
	path string
}

// NewStore creates a simulator state store in dir, scoped by name.
func NewStore(dir, scope string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulate state dir")
	}

	name := sanitizeScope(scope)
	if name == "" {
		name = "wallet"
	}

	return &Store{path: filepath.Join(dir, name+".json")}, nil
}

// Order is a simulated exchange order.
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Executed      decimal.Decimal `json:"executed"`
	Fees          decimal.Decimal `json:"fees"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// State represents all persisted simulator data.
type State struct {
	Wallet      map[string]decimal.Decimal `json:"wallet"`
	Orders      map[string]*Order          `json:"orders"`
	LastOrderID int64                      `json:"last_order_id"`
}

// NewState returns an empty state funded with the initial balances.
func NewState(initial map[string]decimal.Decimal) *State {
	s := &State{
		Wallet: make(map[string]decimal.Decimal, len(initial)),
		Orders: make(map[string]*Order),
	}
	for asset, amount := range initial {
		s.Wallet[strings.ToUpper(asset)] = amount
	}
	return s
}

// Load reads simulator state from disk. A missing file yields nil state.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read simulate state")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode simulate state")
	}
	if state.Wallet == nil {
		state.Wallet = make(map[string]decimal.Decimal)
	}
	if state.Orders == nil {
		state.Orders = make(map[string]*Order)
	}

	return &state, nil
}

// Save writes simulator state to disk atomically via temp file.
func (s *Store) Save(state *State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulate state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulate state")
	}

	return nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
