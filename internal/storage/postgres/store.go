package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

// Store implements the position store on PostgreSQL. Numeric columns travel
// as text so decimals keep their exact scale.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const positionSelectCols = `id, exchange, base_asset, quote_asset, buy_order_id,
	buy_quantity::text, purchase_price::text, fees::text, opened_at, watchlist,
	sell_order_id, sell_price::text, sell_quantity::text, sell_timestamp, scalped_quantity::text`

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p                           domain.Position
		exchange                    string
		buyQty, price, fees         string
		sellOrderID                 *string
		sellPrice, sellQty, scalped *string
		sellTimestamp               *time.Time
	)
	if err := row.Scan(
		&p.ID, &exchange, &p.Market.From, &p.Market.To, &p.BuyOrderID,
		&buyQty, &price, &fees, &p.OpenedAt, &p.Watchlist,
		&sellOrderID, &sellPrice, &sellQty, &sellTimestamp, &scalped,
	); err != nil {
		return nil, err
	}

	p.Exchange = domain.Exchange(exchange)
	var err error
	if p.BuyQuantity, err = decimal.NewFromString(buyQty); err != nil {
		return nil, fmt.Errorf("postgres: position %d buy_quantity: %w", p.ID, err)
	}
	if p.PurchasePrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("postgres: position %d purchase_price: %w", p.ID, err)
	}
	if p.Fees, err = decimal.NewFromString(fees); err != nil {
		return nil, fmt.Errorf("postgres: position %d fees: %w", p.ID, err)
	}
	if sellOrderID != nil {
		p.SellOrderID = *sellOrderID
	}
	if p.SellPrice, err = nullDecimal(sellPrice); err != nil {
		return nil, fmt.Errorf("postgres: position %d sell_price: %w", p.ID, err)
	}
	if p.SellQuantity, err = nullDecimal(sellQty); err != nil {
		return nil, fmt.Errorf("postgres: position %d sell_quantity: %w", p.ID, err)
	}
	if p.ScalpedQuantity, err = nullDecimal(scalped); err != nil {
		return nil, fmt.Errorf("postgres: position %d scalped_quantity: %w", p.ID, err)
	}
	if sellTimestamp != nil {
		ts := sellTimestamp.UTC()
		p.SellTimestamp = &ts
	}
	p.OpenedAt = p.OpenedAt.UTC()

	return &p, nil
}

func nullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) queryPositions(ctx context.Context, query string, args ...any) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePosition inserts p and assigns its id.
func (s *Store) CreatePosition(ctx context.Context, p *domain.Position) error {
	if p.ID != 0 {
		return fmt.Errorf("postgres: position already has id %d", p.ID)
	}

	const query = `
		INSERT INTO positions (
			exchange, base_asset, quote_asset, buy_order_id,
			buy_quantity, purchase_price, fees, opened_at, watchlist,
			sell_order_id, sell_price, sell_quantity, sell_timestamp, scalped_quantity
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7::numeric, $8, $9,
			$10, $11::numeric, $12::numeric, $13, $14::numeric
		) RETURNING id`

	watchlist := p.Watchlist
	if watchlist == nil {
		watchlist = []string{}
	}

	err := s.pool.QueryRow(ctx, query,
		string(p.Exchange), p.Market.From, p.Market.To, p.BuyOrderID,
		p.BuyQuantity.String(), p.PurchasePrice.String(), p.Fees.String(), p.OpenedAt, watchlist,
		nullString(p.SellOrderID), nullText(p.SellPrice), nullText(p.SellQuantity), p.SellTimestamp, nullText(p.ScalpedQuantity),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("postgres: create position for buy order %s: %w", p.BuyOrderID, err)
	}
	return nil
}

// SavePosition replaces the mutable sell fields of a position.
func (s *Store) SavePosition(ctx context.Context, p *domain.Position) error {
	const query = `
		UPDATE positions SET
			sell_order_id    = $2,
			sell_price       = $3::numeric,
			sell_quantity    = $4::numeric,
			sell_timestamp   = $5,
			scalped_quantity = $6::numeric,
			updated_at       = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		nullString(p.SellOrderID), nullText(p.SellPrice), nullText(p.SellQuantity), p.SellTimestamp, nullText(p.ScalpedQuantity),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %d: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Position(ctx context.Context, id int64) (*domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: position %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) Positions(ctx context.Context) ([]*domain.Position, error) {
	out, err := s.queryPositions(ctx, `SELECT `+positionSelectCols+` FROM positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return out, nil
}

func (s *Store) OpenPositions(ctx context.Context) ([]*domain.Position, error) {
	out, err := s.queryPositions(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE sell_timestamp IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return out, nil
}

// LastPositions returns the n most recent positions, newest first.
func (s *Store) LastPositions(ctx context.Context, n int) ([]*domain.Position, error) {
	out, err := s.queryPositions(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY id DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: list last positions: %w", err)
	}
	return out, nil
}

func (s *Store) PositionByBuyOrder(ctx context.Context, exchange domain.Exchange, orderID string) (*domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE exchange = $1 AND buy_order_id = $2`,
		string(exchange), orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: position for buy order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get position for buy order %s: %w", orderID, err)
	}
	return p, nil
}

func (s *Store) MarketParams(ctx context.Context, exchange domain.Exchange, market domain.Pair) (domain.MarketQuantizationParams, error) {
	const query = `
		SELECT price_tick_size::text, lot_step_size::text, min_notional::text, multiplier_up::text, avg_price_mins
		FROM market_params
		WHERE exchange = $1 AND base_asset = $2 AND quote_asset = $3`

	var tick, step, minNotional, multiplier string
	p := domain.MarketQuantizationParams{Exchange: exchange, Market: market}
	err := s.pool.QueryRow(ctx, query, string(exchange), market.From, market.To).
		Scan(&tick, &step, &minNotional, &multiplier, &p.AvgPriceMins)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("postgres: market params %s %s: %w", exchange, market.Symbol(), domain.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("postgres: get market params %s %s: %w", exchange, market.Symbol(), err)
	}

	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{tick, &p.PriceTickSize},
		{step, &p.LotStepSize},
		{minNotional, &p.MinNotional},
		{multiplier, &p.MultiplierUp},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return p, fmt.Errorf("postgres: market params %s %s: %w", exchange, market.Symbol(), err)
		}
	}
	return p, nil
}

func (s *Store) SaveMarketParams(ctx context.Context, p domain.MarketQuantizationParams) error {
	if err := p.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO market_params (
			exchange, base_asset, quote_asset,
			price_tick_size, lot_step_size, min_notional, multiplier_up, avg_price_mins, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, NOW())
		ON CONFLICT (exchange, base_asset, quote_asset) DO UPDATE SET
			price_tick_size = EXCLUDED.price_tick_size,
			lot_step_size   = EXCLUDED.lot_step_size,
			min_notional    = EXCLUDED.min_notional,
			multiplier_up   = EXCLUDED.multiplier_up,
			avg_price_mins  = EXCLUDED.avg_price_mins,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		string(p.Exchange), p.Market.From, p.Market.To,
		p.PriceTickSize.String(), p.LotStepSize.String(), p.MinNotional.String(), p.MultiplierUp.String(), p.AvgPriceMins,
	)
	if err != nil {
		return fmt.Errorf("postgres: save market params %s %s: %w", p.Exchange, p.Market.Symbol(), err)
	}
	return nil
}

func (s *Store) AllTimeWatchlist(ctx context.Context, exchange domain.Exchange) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset FROM watchlist_assets WHERE exchange = $1 ORDER BY asset`, string(exchange))
	if err != nil {
		return nil, fmt.Errorf("postgres: list watchlist %s: %w", exchange, err)
	}
	assets, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan watchlist %s: %w", exchange, err)
	}
	return assets, nil
}

// MergeWatchlist folds the active assets into the all-time list and returns it.
func (s *Store) MergeWatchlist(ctx context.Context, exchange domain.Exchange, active []string) ([]string, error) {
	batch := &pgx.Batch{}
	for _, asset := range domain.NormalizeAssets(active) {
		batch.Queue(`INSERT INTO watchlist_assets (exchange, asset) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			string(exchange), asset)
	}
	if batch.Len() > 0 {
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("postgres: merge watchlist %s: %w", exchange, err)
		}
	}
	return s.AllTimeWatchlist(ctx, exchange)
}

// Close is a no-op; the pool belongs to the Client.
func (s *Store) Close() error {
	return nil
}
