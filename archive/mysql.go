// Package archive keeps a durable, queryable history of completed sales in
// MySQL, fed from committed marketplace events.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/queue"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS sales (
	id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
	item_id    VARCHAR(128)    NOT NULL,
	seller     CHAR(64)        NOT NULL,
	buyer      CHAR(64)        NOT NULL,
	value      BIGINT UNSIGNED NOT NULL,
	kind       VARCHAR(16)     NOT NULL,
	tx_id      CHAR(64)        NOT NULL DEFAULT '',
	sold_at    BIGINT          NOT NULL,
	KEY idx_sales_item (item_id, sold_at)
)`

// Open connects to MySQL and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// MySQL archives sales on background workers.
type MySQL struct {
	db  *sql.DB
	q   *queue.Queue[core.Sale]
	log *zap.Logger
}

// NewMySQL creates an archive over db with room for buffer pending sales.
func NewMySQL(db *sql.DB, buffer int, log *zap.Logger) *MySQL {
	if log == nil {
		log = zap.NewNop()
	}
	return &MySQL{db: db, q: queue.New[core.Sale](buffer), log: log.Named("archive")}
}

// Migrate creates the sales table if needed.
func (a *MySQL) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sales: %w", err)
	}
	return nil
}

// Attach starts workers and subscribes them to completed sales on em.
func (a *MySQL) Attach(em *events.Emitter, workers int) {
	a.q.Start(workers, func(id int, s core.Sale) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Record(ctx, s); err != nil {
			a.log.Error("archive sale failed",
				zap.Int("worker", id),
				zap.String("item", s.ItemID),
				zap.String("tx", s.TxID),
				zap.Error(err))
		}
	})
	enqueue := func(ev events.Event) {
		sale, ok := events.SaleFromEvent(ev)
		if !ok {
			return
		}
		if !a.q.Push(sale) {
			a.log.Warn("sale dropped, archive queue full", zap.String("item", sale.ItemID), zap.String("tx", sale.TxID))
		}
	}
	em.Subscribe(events.EventBought, enqueue)
	em.Subscribe(events.EventBidAccepted, enqueue)
}

// Record inserts one sale.
func (a *MySQL) Record(ctx context.Context, s core.Sale) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO sales (item_id, seller, buyer, value, kind, tx_id, sold_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ItemID, s.Seller, s.Buyer, s.Value, string(s.Kind), s.TxID, s.Time,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// SalesByItem returns the archived sales of item, oldest first.
func (a *MySQL) SalesByItem(ctx context.Context, item string) ([]core.Sale, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT item_id, seller, buyer, value, kind, tx_id, sold_at
		FROM sales WHERE item_id = ? ORDER BY sold_at, id`, item)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var out []core.Sale
	for rows.Next() {
		var s core.Sale
		var kind string
		if err := rows.Scan(&s.ItemID, &s.Seller, &s.Buyer, &s.Value, &kind, &s.TxID, &s.Time); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		s.Kind = core.SaleKind(kind)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close drains pending sales. The caller owns db.
func (a *MySQL) Close() {
	a.q.Close()
}
