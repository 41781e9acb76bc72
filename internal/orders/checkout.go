package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Checkout turns a buy-now or cart request into orders. Every vehicle becomes
// its own deposit-first order; other products are grouped per seller and paid
// in full.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) ([]models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	if input.ShippingFee < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping fee must not be negative")
	}
	method := input.PaymentMethod
	if method == "" {
		method = enums.PaymentMethodVNPay
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	quantities := make(map[uuid.UUID]int, len(input.Items))
	ids := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "each item needs a product and a positive quantity")
		}
		if _, seen := quantities[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	var created []models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		products, err := repo.FindProducts(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}

		drafts, err := buildDrafts(input, method, ids, quantities, products)
		if err != nil {
			return err
		}

		for i := range drafts {
			order := drafts[i]
			if err := repo.CreateOrder(ctx, &order); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
			}
			if err := s.emitCreated(ctx, tx, &order); err != nil {
				return err
			}
			if err := s.notifySeller(ctx, tx, &order, enums.NotificationTypeOrder,
				"New order", fmt.Sprintf("You have a new order worth %d VND.", order.FinalTotal)); err != nil {
				return err
			}
			created = append(created, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func buildDrafts(input CheckoutInput, method enums.PaymentMethod, ids []uuid.UUID, quantities map[uuid.UUID]int, products map[uuid.UUID]models.Product) ([]models.Order, error) {
	var (
		drafts    []models.Order
		bySeller  = map[uuid.UUID][]models.OrderItem{}
		sellerIDs []uuid.UUID
	)
	address := strings.TrimSpace(input.ShippingAddress)

	for _, id := range ids {
		product, ok := products[id]
		if !ok || !product.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not available").
				WithDetails(map[string]any{"product_id": id})
		}
		qty := quantities[id]
		if product.SellerID == input.BuyerID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot buy your own listing")
		}
		if product.Stock < qty {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(map[string]any{"product_id": id, "requested": qty, "available": product.Stock})
		}
		item := models.OrderItem{
			ID:          uuid.New(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Category:    product.Category,
			Quantity:    qty,
			UnitPrice:   product.Price,
			LineTotal:   product.Price * int64(qty),
		}

		if product.Category.RequiresDeposit() {
			if qty != 1 {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "vehicles are sold one per order")
			}
			sellerID := product.SellerID
			drafts = append(drafts, models.Order{
				ID:                uuid.New(),
				BuyerID:           input.BuyerID,
				SellerID:          &sellerID,
				TotalAmount:       item.LineTotal,
				FinalTotal:        item.LineTotal,
				ShippingAddress:   optionalString(address),
				PaymentMethod:     method,
				Status:            enums.OrderStatusAwaitingDeposit,
				TransferOwnership: input.TransferOwnership,
				ChangePlate:       input.ChangePlate,
				Items:             []models.OrderItem{item},
			})
			continue
		}

		if _, seen := bySeller[product.SellerID]; !seen {
			sellerIDs = append(sellerIDs, product.SellerID)
		}
		bySeller[product.SellerID] = append(bySeller[product.SellerID], item)
	}

	sort.Slice(sellerIDs, func(i, j int) bool { return sellerIDs[i].String() < sellerIDs[j].String() })
	// the shipping fee is quoted per cart and lands on the first shipped order
	fee := input.ShippingFee
	for _, sellerID := range sellerIDs {
		items := bySeller[sellerID]
		if address == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address required for shipped items")
		}
		var total int64
		for _, item := range items {
			total += item.LineTotal
		}
		seller := sellerID
		drafts = append(drafts, models.Order{
			ID:              uuid.New(),
			BuyerID:         input.BuyerID,
			SellerID:        &seller,
			TotalAmount:     total,
			ShippingFee:     fee,
			FinalTotal:      total + fee,
			ShippingAddress: optionalString(address),
			PaymentMethod:   method,
			Status:          enums.OrderStatusAwaitingPayment,
			Items:           items,
		})
		fee = 0
	}
	return drafts, nil
}

// PurchasePackage opens an order for a platform service package.
func (s *service) PurchasePackage(ctx context.Context, input PackagePurchaseInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.PackageID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "package id required")
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		pkg, err := repo.FindPackage(ctx, input.PackageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "package not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load package")
		}
		if !pkg.IsActive {
			return pkgerrors.New(pkgerrors.CodeNotFound, "package not available")
		}

		packageID := pkg.ID
		order := &models.Order{
			ID:            uuid.New(),
			BuyerID:       input.BuyerID,
			TotalAmount:   pkg.Price,
			FinalTotal:    pkg.Price,
			PaymentMethod: enums.PaymentMethodVNPay,
			Status:        enums.OrderStatusAwaitingPayment,
			PackageID:     &packageID,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := s.emitCreated(ctx, tx, order); err != nil {
			return err
		}
		created = order
		return nil
	})
	return created, err
}

func (s *service) emitCreated(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.Actor(order.BuyerID, string(enums.MemberRoleMember)),
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			PackageID:   order.PackageID,
			Status:      order.Status,
			TotalAmount: order.TotalAmount,
			FinalTotal:  order.FinalTotal,
		},
	})
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
