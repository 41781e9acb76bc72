// Package dbtest opens an isolated in-memory SQLite database carrying the
// same tables as the Postgres migrations, for repository and service tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

const schema = `
CREATE TABLE products (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  name TEXT NOT NULL,
  category TEXT NOT NULL,
  price INTEGER NOT NULL,
  stock INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE service_packages (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price INTEGER NOT NULL,
  duration_days INTEGER NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME
);
CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_id TEXT,
  total_amount INTEGER NOT NULL,
  shipping_fee INTEGER NOT NULL DEFAULT 0,
  final_total INTEGER NOT NULL,
  shipping_address TEXT,
  payment_method TEXT NOT NULL,
  status TEXT NOT NULL,
  previous_status TEXT,
  package_id TEXT,
  transaction_location TEXT,
  appointment_date DATETIME,
  transfer_ownership INTEGER NOT NULL DEFAULT 0,
  change_plate INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  category TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price INTEGER NOT NULL,
  line_total INTEGER NOT NULL,
  created_at DATETIME
);
CREATE TABLE order_status_history (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  actor_id TEXT,
  reason TEXT NOT NULL DEFAULT '',
  created_at DATETIME
);
CREATE TABLE transactions (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  amount INTEGER NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL,
  transaction_code TEXT NOT NULL UNIQUE,
  gateway_txn_no TEXT,
  bank_code TEXT,
  card_type TEXT,
  response_code TEXT,
  payment_date DATETIME,
  escrow_release_date DATETIME,
  is_escrowed INTEGER NOT NULL DEFAULT 0,
  description TEXT NOT NULL DEFAULT '',
  created_by TEXT NOT NULL,
  refund_id TEXT,
  source_transaction_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE INDEX idx_transactions_escrow_release ON transactions (status, is_escrowed, escrow_release_date);
CREATE INDEX idx_transactions_status_created ON transactions (status, created_at);
CREATE TABLE disputes (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  raised_by TEXT NOT NULL,
  description TEXT NOT NULL,
  status TEXT NOT NULL,
  previous_order_status TEXT NOT NULL,
  resolution_type TEXT,
  resolution TEXT,
  handled_by TEXT,
  resolved_by TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX ux_disputes_order_active ON disputes (order_id) WHERE status IN ('OPEN', 'IN_PROGRESS');
CREATE TABLE refunds (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  dispute_id TEXT,
  amount INTEGER NOT NULL,
  reason TEXT NOT NULL,
  status TEXT NOT NULL,
  method TEXT NOT NULL,
  note TEXT,
  created_by TEXT NOT NULL,
  processed_by TEXT,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  order_id TEXT,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  link TEXT,
  read_at DATETIME,
  created_at DATETIME
);
CREATE TABLE ledger_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  transaction_id TEXT,
  party_id TEXT,
  actor_user_id TEXT,
  type TEXT NOT NULL,
  amount INTEGER NOT NULL,
  metadata TEXT,
  created_at DATETIME
);
CREATE UNIQUE INDEX ux_ledger_events_txn_type ON ledger_events (transaction_id, type);
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);
`

// Open returns a fresh database private to t.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("file:evtrade_%d?mode=memory&cache=shared", seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, conn.Exec(stmt).Error)
	}

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// TxRunner adapts a bare *gorm.DB to the WithTx contract services expect.
type TxRunner struct {
	DB *gorm.DB
}

func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}
