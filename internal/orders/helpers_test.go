package orders

import (
	"context"
	"testing"

	"github.com/angelmondragon/evtrade-backend/internal/notifications"
	"github.com/angelmondragon/evtrade-backend/pkg/db/dbtest"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/money"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubRefunder struct {
	calls  int
	orders []uuid.UUID
}

func (s *stubRefunder) RefundDeposit(ctx context.Context, tx *gorm.DB, order *models.Order, actor types.Actor, reason string) (*models.Refund, error) {
	s.calls++
	s.orders = append(s.orders, order.ID)
	return &models.Refund{
		ID:      uuid.New(),
		OrderID: order.ID,
		Amount:  money.Deposit(order.TotalAmount),
		Status:  enums.RefundStatusCompleted,
	}, nil
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	repo     Repository
	refunder *stubRefunder
	buyer    types.Actor
	seller   types.Actor
	staff    types.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test"})
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	notifier, err := notifications.NewService(notifications.NewRepository(conn), outboxSvc)
	require.NoError(t, err)

	repo := NewRepository(conn)
	refunder := &stubRefunder{}
	svc, err := NewService(repo, dbtest.TxRunner{DB: conn}, outboxSvc, notifier, refunder, logg)
	require.NoError(t, err)

	return &fixture{
		db:       conn,
		svc:      svc,
		repo:     repo,
		refunder: refunder,
		buyer:    types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember},
		seller:   types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember},
		staff:    types.Actor{UserID: uuid.New(), Role: enums.MemberRoleStaff},
	}
}

func (f *fixture) seedProduct(t *testing.T, category enums.ProductCategory, price int64, stock int) models.Product {
	t.Helper()
	product := models.Product{
		ID:       uuid.New(),
		SellerID: f.seller.UserID,
		Name:     string(category) + " listing",
		Category: category,
		Price:    price,
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(t, f.db.Create(&product).Error)
	return product
}

// seedVehicleOrder creates a vehicle order sitting in status.
func (f *fixture) seedVehicleOrder(t *testing.T, status enums.OrderStatus, total int64) *models.Order {
	t.Helper()
	product := f.seedProduct(t, enums.ProductCategoryVehicle, total, 1)
	sellerID := f.seller.UserID
	order := &models.Order{
		ID:            uuid.New(),
		BuyerID:       f.buyer.UserID,
		SellerID:      &sellerID,
		TotalAmount:   total,
		FinalTotal:    total,
		PaymentMethod: enums.PaymentMethodVNPay,
		Status:        status,
		Items: []models.OrderItem{{
			ID:          uuid.New(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Category:    product.Category,
			Quantity:    1,
			UnitPrice:   total,
			LineTotal:   total,
		}},
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

func (f *fixture) payment(order *models.Order, txnType enums.TransactionType) *models.Transaction {
	amount, _ := PaymentAmount(order, txnType)
	return &models.Transaction{
		ID:              uuid.New(),
		OrderID:         order.ID,
		Amount:          amount,
		Type:            txnType,
		Status:          enums.TransactionStatusSuccess,
		TransactionCode: string(txnType) + "_" + order.ID.String() + "_1",
		CreatedBy:       order.BuyerID,
	}
}

func (f *fixture) complete(t *testing.T, txn *models.Transaction) (*models.Order, error) {
	t.Helper()
	var out *models.Order
	err := f.db.Transaction(func(tx *gorm.DB) error {
		order, err := f.svc.CompletePayment(context.Background(), tx, txn)
		out = order
		return err
	})
	return out, err
}

func (f *fixture) reload(t *testing.T, orderID uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.repo.FindOrder(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func (f *fixture) countOutbox(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func (f *fixture) notificationsFor(t *testing.T, userID uuid.UUID) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&rows).Error)
	return rows
}
