package payments

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/notifications"
	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/pkg/config"
	"github.com/angelmondragon/evtrade-backend/pkg/db/dbtest"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/money"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/angelmondragon/evtrade-backend/pkg/vnpay"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type noopRefunder struct{}

func (noopRefunder) RefundDeposit(ctx context.Context, tx *gorm.DB, order *models.Order, actor types.Actor, reason string) (*models.Refund, error) {
	return &models.Refund{ID: uuid.New(), OrderID: order.ID, Amount: money.Deposit(order.TotalAmount)}, nil
}

type memoryStore struct {
	keys map[string]bool
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func (m *memoryStore) CallbackKey(txnCode string) string {
	return "callback:" + txnCode
}

type fixture struct {
	db      *gorm.DB
	svc     Service
	repo    Repository
	orders  orders.Service
	gateway *vnpay.Client
	store   *memoryStore
	clock   time.Time
	buyer   types.Actor
	seller  types.Actor
	staff   types.Actor
}

type fixtureOption func(*ServiceParams)

func withoutMock() fixtureOption {
	return func(p *ServiceParams) { p.MockEnabled = false }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "payments-test"})
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	notifier, err := notifications.NewService(notifications.NewRepository(conn), outboxSvc)
	require.NoError(t, err)

	orderSvc, err := orders.NewService(orders.NewRepository(conn), dbtest.TxRunner{DB: conn}, outboxSvc, notifier, noopRefunder{}, logg)
	require.NoError(t, err)

	client, err := vnpay.NewClient(config.GatewayConfig{
		TmnCode:    "DEMO0001",
		HashSecret: "test-hash-secret",
		PayURL:     "https://sandbox.example/vpcpay.html",
		ReturnURL:  "http://localhost/api/v1/payments/vnpay/return",
		IPNURL:     "http://localhost/api/v1/payments/vnpay/ipn",
		Version:    "2.1.0",
		Command:    "pay",
		CurrCode:   "VND",
		Locale:     "vn",
		OrderType:  "other",
	})
	require.NoError(t, err)

	store := &memoryStore{keys: map[string]bool{}}
	guard, err := NewCallbackGuard(store, time.Minute)
	require.NoError(t, err)

	f := &fixture{
		db:      conn,
		repo:    NewRepository(conn),
		orders:  orderSvc,
		gateway: client,
		store:   store,
		clock:   time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC),
		buyer:   types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember},
		seller:  types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember},
		staff:   types.Actor{UserID: uuid.New(), Role: enums.MemberRoleStaff},
	}

	params := ServiceParams{
		Repo:           f.repo,
		Orders:         orderSvc,
		TxRunner:       dbtest.TxRunner{DB: conn},
		Outbox:         outboxSvc,
		Gateway:        client,
		Guard:          guard,
		Logger:         logg,
		SessionTimeout: 15 * time.Minute,
		MockEnabled:    true,
		Now:            func() time.Time { return f.clock },
	}
	for _, opt := range opts {
		opt(&params)
	}
	f.svc, err = NewService(params)
	require.NoError(t, err)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// seedOrder stores a one-vehicle order for the fixture buyer and seller.
func (f *fixture) seedOrder(t *testing.T, status enums.OrderStatus, total int64) *models.Order {
	t.Helper()
	product := models.Product{
		ID:       uuid.New(),
		SellerID: f.seller.UserID,
		Name:     "VinFast VF8",
		Category: enums.ProductCategoryVehicle,
		Price:    total,
		Stock:    1,
		IsActive: true,
	}
	require.NoError(t, f.db.Create(&product).Error)

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

func (f *fixture) initiate(t *testing.T, orderID uuid.UUID) *models.Transaction {
	t.Helper()
	result, err := f.svc.Initiate(context.Background(), InitiateInput{OrderID: orderID, Actor: f.buyer, ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	return result.Transaction
}

// callback builds the signed notification the gateway would send for txn.
func (f *fixture) callback(txn *models.Transaction, responseCode string) url.Values {
	params := url.Values{}
	params.Set("vnp_TmnCode", "DEMO0001")
	params.Set("vnp_TxnRef", txn.TransactionCode)
	params.Set("vnp_Amount", strconv.FormatInt(txn.Amount*100, 10))
	params.Set("vnp_ResponseCode", responseCode)
	params.Set("vnp_TransactionStatus", responseCode)
	params.Set("vnp_TransactionNo", "14000001")
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_CardType", "ATM")
	params.Set("vnp_OrderInfo", txn.Description)
	params.Set("vnp_PayDate", "20260301100500")
	return f.gateway.SignCallback(params)
}

func (f *fixture) reloadTxn(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	txn, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func (f *fixture) reloadOrder(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.orders.LoadOrder(context.Background(), nil, id)
	require.NoError(t, err)
	return order
}

func (f *fixture) countOutbox(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}
