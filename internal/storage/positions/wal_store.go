// Package positions is the default WAL-backed store for positions, market
// params and the all-time watchlist.
package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

const (
	DefaultDir = "./wal/selectivedca"

	segmentLimit = 1000
	// Records are never compacted, so old segments must stay on disk.
	maxSegments = 100000

	positionKeyPrefix     = "position_"
	marketParamsKeyPrefix = "market_params_"
	watchlistKeyPrefix    = "watchlist_"
)

// WALStore keeps the latest record per key in memory and appends every
// change to the WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex

	positions map[int64]*domain.Position
	params    map[string]domain.MarketQuantizationParams
	watchlist map[domain.Exchange][]string
	lastID    int64
}

// NewWALStore opens the store in dir and replays its history.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "state_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init positions WAL")
	}

	s := &WALStore{
		wal:       wal,
		positions: make(map[int64]*domain.Position),
		params:    make(map[string]domain.MarketQuantizationParams),
		watchlist: make(map[domain.Exchange][]string),
	}
	if err := s.replay(); err != nil {
		_ = wal.Close()
		return nil, err
	}
	return s, nil
}

func (s *WALStore) replay() error {
	for msg := range s.wal.Iterator() {
		switch {
		case strings.HasPrefix(msg.Key, positionKeyPrefix):
			var p domain.Position
			if err := json.Unmarshal(msg.Value, &p); err != nil {
				return errors.Wrapf(err, "decode %s", msg.Key)
			}
			s.positions[p.ID] = &p
			if p.ID > s.lastID {
				s.lastID = p.ID
			}
		case strings.HasPrefix(msg.Key, marketParamsKeyPrefix):
			var p domain.MarketQuantizationParams
			if err := json.Unmarshal(msg.Value, &p); err != nil {
				return errors.Wrapf(err, "decode %s", msg.Key)
			}
			s.params[p.Ref().Key()] = p
		case strings.HasPrefix(msg.Key, watchlistKeyPrefix):
			var assets []string
			if err := json.Unmarshal(msg.Value, &assets); err != nil {
				return errors.Wrapf(err, "decode %s", msg.Key)
			}
			s.watchlist[domain.Exchange(strings.TrimPrefix(msg.Key, watchlistKeyPrefix))] = assets
		}
	}
	return nil
}

func (s *WALStore) write(key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	return s.wal.Write(s.wal.CurrentIndex()+1, key, payload)
}

func positionKey(id int64) string {
	return fmt.Sprintf("%s%d", positionKeyPrefix, id)
}

// CreatePosition assigns the next id and stores p.
func (s *WALStore) CreatePosition(_ context.Context, p *domain.Position) error {
	if p.ID != 0 {
		return fmt.Errorf("position already has id %d", p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.lastID + 1
	if err := s.write(positionKey(p.ID), p); err != nil {
		p.ID = 0
		return err
	}
	s.lastID = p.ID
	s.positions[p.ID] = p.Clone()
	return nil
}

// SavePosition overwrites an existing position.
func (s *WALStore) SavePosition(_ context.Context, p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return errors.Wrapf(domain.ErrNotFound, "position %d", p.ID)
	}
	if err := s.write(positionKey(p.ID), p); err != nil {
		return err
	}
	s.positions[p.ID] = p.Clone()
	return nil
}

// Position returns the position with id.
func (s *WALStore) Position(_ context.Context, id int64) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "position %d", id)
	}
	return p.Clone(), nil
}

// Positions returns every position ordered by id.
func (s *WALStore) Positions(_ context.Context) ([]*domain.Position, error) {
	return s.filter(func(*domain.Position) bool { return true }), nil
}

// OpenPositions returns unsold positions ordered by id.
func (s *WALStore) OpenPositions(_ context.Context) ([]*domain.Position, error) {
	return s.filter((*domain.Position).IsOpen), nil
}

// LastPositions returns the n most recent positions, newest first.
func (s *WALStore) LastPositions(_ context.Context, n int) ([]*domain.Position, error) {
	all := s.filter(func(*domain.Position) bool { return true })
	out := make([]*domain.Position, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// PositionByBuyOrder finds the position created from a buy order.
func (s *WALStore) PositionByBuyOrder(_ context.Context, exchange domain.Exchange, orderID string) (*domain.Position, error) {
	found := s.filter(func(p *domain.Position) bool {
		return p.Exchange == exchange && p.BuyOrderID == orderID
	})
	if len(found) == 0 {
		return nil, errors.Wrapf(domain.ErrNotFound, "position for buy order %s", orderID)
	}
	return found[0], nil
}

func (s *WALStore) filter(keep func(*domain.Position) bool) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarketParams returns the stored params of a market.
func (s *WALStore) MarketParams(_ context.Context, exchange domain.Exchange, market domain.Pair) (domain.MarketQuantizationParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref := domain.MarketRef{Exchange: exchange, Pair: market}
	p, ok := s.params[ref.Key()]
	if !ok {
		return domain.MarketQuantizationParams{}, errors.Wrapf(domain.ErrNotFound, "market params %s", ref)
	}
	return p, nil
}

// SaveMarketParams replaces the params of a market.
func (s *WALStore) SaveMarketParams(_ context.Context, p domain.MarketQuantizationParams) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s%s_%s", marketParamsKeyPrefix, p.Exchange, p.Market.Symbol())
	if err := s.write(key, p); err != nil {
		return err
	}
	s.params[p.Ref().Key()] = p
	return nil
}

// AllTimeWatchlist returns every asset ever watched on exchange.
func (s *WALStore) AllTimeWatchlist(_ context.Context, exchange domain.Exchange) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.watchlist[exchange]...), nil
}

// MergeWatchlist folds the active assets into the all-time list and returns it.
func (s *WALStore) MergeWatchlist(_ context.Context, exchange domain.Exchange, active []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := domain.MergeWatchlist(s.watchlist[exchange], active)
	if len(merged) != len(s.watchlist[exchange]) {
		if err := s.write(watchlistKeyPrefix+string(exchange), merged); err != nil {
			return nil, err
		}
		s.watchlist[exchange] = merged
	}
	return append([]string(nil), merged...), nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
