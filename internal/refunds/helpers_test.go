package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/ledger"
	"github.com/angelmondragon/evtrade-backend/internal/notifications"
	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/internal/payments"
	"github.com/angelmondragon/evtrade-backend/pkg/db/dbtest"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	comp   *Compensator
	svc    Service
	orders orders.Service
	txns   payments.Repository
	repo   Repository
	clock  time.Time
	buyer  types.Actor
	seller types.Actor
	staff  types.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "refunds-test"})
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	notifier, err := notifications.NewService(notifications.NewRepository(conn), outboxSvc)
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)

	f := &fixture{
		db:     conn,
		txns:   payments.NewRepository(conn),
		repo:   NewRepository(conn),
		clock:  time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC),
		buyer:  types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember},
		seller: types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember},
		staff:  types.Actor{UserID: uuid.New(), Role: enums.MemberRoleStaff},
	}

	f.comp, err = NewCompensator(f.repo, f.txns, ledgerSvc, outboxSvc, logg)
	require.NoError(t, err)
	f.comp.now = func() time.Time { return f.clock }

	f.orders, err = orders.NewService(orders.NewRepository(conn), dbtest.TxRunner{DB: conn}, outboxSvc, notifier, f.comp, logg)
	require.NoError(t, err)

	f.svc, err = NewService(ServiceParams{
		Repo:        f.repo,
		Compensator: f.comp,
		Orders:      f.orders,
		TxRunner:    dbtest.TxRunner{DB: conn},
		Notifier:    notifier,
		Logger:      logg,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) seedOrder(t *testing.T, status enums.OrderStatus, total int64) *models.Order {
	t.Helper()
	sellerID := f.seller.UserID
	order := &models.Order{
		ID:            uuid.New(),
		BuyerID:       f.buyer.UserID,
		SellerID:      &sellerID,
		TotalAmount:   total,
		FinalTotal:    total,
		PaymentMethod: enums.PaymentMethodVNPay,
		Status:        status,
		CreatedAt:     f.clock.Add(-72 * time.Hour),
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

// seedPaid stores a settled payment. age orders transactions on the same
// order oldest first.
func (f *fixture) seedPaid(t *testing.T, order *models.Order, txnType enums.TransactionType, amount int64, escrowed bool, age time.Duration) *models.Transaction {
	t.Helper()
	paidAt := f.clock.Add(-age)
	txn := &models.Transaction{
		ID:              uuid.New(),
		OrderID:         order.ID,
		Amount:          amount,
		Type:            txnType,
		Status:          enums.TransactionStatusSuccess,
		TransactionCode: string(txnType) + "_" + uuid.NewString(),
		PaymentDate:     &paidAt,
		IsEscrowed:      escrowed,
		CreatedBy:       order.BuyerID,
		CreatedAt:       paidAt,
	}
	if escrowed {
		release := paidAt.Add(7 * 24 * time.Hour)
		txn.EscrowReleaseDate = &release
	}
	require.NoError(t, f.db.Create(txn).Error)
	return txn
}

func (f *fixture) seedDispute(t *testing.T, order *models.Order, status enums.DisputeStatus) *models.Dispute {
	t.Helper()
	dispute := &models.Dispute{
		ID:                  uuid.New(),
		OrderID:             order.ID,
		RaisedBy:            order.BuyerID,
		Description:         "battery capacity far below listing",
		Status:              status,
		PreviousOrderStatus: enums.OrderStatusCompleted,
		CreatedAt:           f.clock.Add(-time.Hour),
	}
	require.NoError(t, f.db.Create(dispute).Error)
	return dispute
}

func (f *fixture) refundTxns(t *testing.T, orderID uuid.UUID) []models.Transaction {
	t.Helper()
	var rows []models.Transaction
	require.NoError(t, f.db.
		Where("order_id = ? AND type = ?", orderID, enums.TransactionTypeRefund).
		Order("created_at ASC").
		Find(&rows).Error)
	return rows
}

func (f *fixture) reloadTxn(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	txn, err := f.txns.FindByID(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func (f *fixture) reloadOrder(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.orders.LoadOrder(context.Background(), nil, id)
	require.NoError(t, err)
	return order
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var total int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&total).Error)
	return total
}
