package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertNotification appends a notification row and sets n.ID.
func (s *Store) InsertNotification(ctx context.Context, n *Notification) (int64, error) {
	if n.Version == "" {
		n.Version = NotificationVersion
	}
	created := s.stamp(n.CreatedAt)
	id, err := s.insertID(ctx,
		`INSERT INTO notifications (user_id, price_change_id, product_id, shop_id, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		n.UserID, n.PriceChangeID, n.ProductID, n.ShopID, n.Version, created)
	if err != nil {
		return 0, fmt.Errorf("store: insert notification user=%d change=%d: %w", n.UserID, n.PriceChangeID, err)
	}
	n.ID = id
	n.CreatedAt = fromMillis(created)
	return id, nil
}

// ListNotifications returns a user's notifications, newest first.
// limit <= 0 means no limit.
func (s *Store) ListNotifications(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	q := `SELECT id, user_id, price_change_id, product_id, shop_id, version, created_at
		FROM notifications WHERE user_id = ? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var created int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.PriceChangeID, &n.ProductID, &n.ShopID, &n.Version, &created); err != nil {
			return nil, err
		}
		n.CreatedAt = fromMillis(created)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// SubscriptionCursors returns every subscription on the given products,
// left-joined with the most recent notification of its (user, product)
// pair. Subscriptions that were never notified come back with a zero
// PriceChangeID and a nil LastNotifiedAt.
func (s *Store) SubscriptionCursors(ctx context.Context, productIDs []int64) ([]*SubscriptionCursor, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}
	rows, err := s.query(ctx,
		`SELECT s.id, s.user_id, s.product_id, s.notify_increase_percent, s.notify_decrease_percent,
			s.max_frequency, s.note, s.created_at, u.moniker, u.chat_id,
			n.price_change_id, n.created_at
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		LEFT JOIN notifications n ON n.id = (
			SELECT MAX(n2.id) FROM notifications n2
			WHERE n2.user_id = s.user_id AND n2.product_id = s.product_id)
		WHERE s.product_id IN (`+placeholders(len(args))+`)
		ORDER BY s.product_id, s.user_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SubscriptionCursor
	for rows.Next() {
		var c SubscriptionCursor
		var inc, dec, changeID, notifiedAt sql.NullInt64
		var freq string
		var created int64
		err := rows.Scan(&c.ID, &c.UserID, &c.ProductID, &inc, &dec, &freq, &c.Note, &created,
			&c.Moniker, &c.ChatID, &changeID, &notifiedAt)
		if err != nil {
			return nil, err
		}
		c.NotifyIncreasePercent = intPtr(inc)
		c.NotifyDecreasePercent = intPtr(dec)
		c.MaxFrequency = Frequency(freq)
		c.CreatedAt = fromMillis(created)
		c.PriceChangeID = changeID.Int64
		if notifiedAt.Valid {
			t := fromMillis(notifiedAt.Int64)
			c.LastNotifiedAt = &t
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
