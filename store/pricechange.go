package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const priceChangeColumns = `id, product_id, shop_id, amount, prev_amount, amount_diff, percent_diff, created_at`

// InsertPriceChange appends a row to the ledger and sets pc.ID.
func (s *Store) InsertPriceChange(ctx context.Context, pc *PriceChange) (int64, error) {
	created := s.stamp(pc.CreatedAt)
	id, err := s.insertID(ctx,
		`INSERT INTO price_changes (product_id, shop_id, amount, prev_amount, amount_diff, percent_diff, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		pc.ProductID, pc.ShopID, pc.Amount, pc.PrevAmount, pc.AmountDiff, pc.PercentDiff, created)
	if err != nil {
		return 0, fmt.Errorf("store: insert price change for product %d: %w", pc.ProductID, err)
	}
	pc.ID = id
	pc.CreatedAt = fromMillis(created)
	return id, nil
}

// LastKnownPriceChange returns the highest-id change of a product with
// amount >= 0, or nil when the product has no usable history. Invalid
// marker rows (amount -1) are skipped.
func (s *Store) LastKnownPriceChange(ctx context.Context, productID int64) (*PriceChange, error) {
	row := s.queryRow(ctx,
		`SELECT `+priceChangeColumns+` FROM price_changes
		WHERE product_id = ? AND amount >= 0
		ORDER BY id DESC LIMIT 1`, productID)
	pc, err := scanPriceChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return pc, err
}

// LastKnownAmounts returns the current price of each given product that has
// one. Used to decide on diagnostic screenshots before a crawl round.
func (s *Store) LastKnownAmounts(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}
	rows, err := s.query(ctx,
		`SELECT pc.product_id, pc.amount FROM price_changes pc
		JOIN (SELECT product_id, MAX(id) AS max_id FROM price_changes
			WHERE amount >= 0 AND product_id IN (`+placeholders(len(args))+`)
			GROUP BY product_id) m ON pc.id = m.max_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var productID, amount int64
		if err := rows.Scan(&productID, &amount); err != nil {
			return nil, err
		}
		out[productID] = amount
	}
	return out, rows.Err()
}

// LatestPriceChanges returns, for every product, its most recent change
// with amount >= 0, ordered by ID.
func (s *Store) LatestPriceChanges(ctx context.Context) ([]*PriceChange, error) {
	rows, err := s.query(ctx,
		`SELECT pc.id, pc.product_id, pc.shop_id, pc.amount, pc.prev_amount,
			pc.amount_diff, pc.percent_diff, pc.created_at
		FROM price_changes pc
		JOIN (SELECT product_id, MAX(id) AS max_id FROM price_changes
			WHERE amount >= 0 GROUP BY product_id) m ON pc.id = m.max_id
		ORDER BY pc.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPriceChanges(rows)
}

// ListPriceChanges returns the ledger of one product, newest first.
// limit <= 0 means no limit.
func (s *Store) ListPriceChanges(ctx context.Context, productID int64, limit int) ([]*PriceChange, error) {
	q := `SELECT ` + priceChangeColumns + ` FROM price_changes WHERE product_id = ? ORDER BY id DESC`
	args := []any{productID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPriceChanges(rows)
}

func collectPriceChanges(rows *sql.Rows) ([]*PriceChange, error) {
	var out []*PriceChange
	for rows.Next() {
		pc, err := scanPriceChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

func scanPriceChange(sc scanner) (*PriceChange, error) {
	var pc PriceChange
	var created int64
	err := sc.Scan(&pc.ID, &pc.ProductID, &pc.ShopID, &pc.Amount, &pc.PrevAmount,
		&pc.AmountDiff, &pc.PercentDiff, &created)
	if err != nil {
		return nil, err
	}
	pc.CreatedAt = fromMillis(created)
	return &pc, nil
}
