package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/api/middleware"
	"github.com/angelmondragon/evtrade-backend/api/responses"
	"github.com/angelmondragon/evtrade-backend/api/validators"
	internalorders "github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
)

const maxReasonLength = 1000

// Checkout places buy-now or cart orders for the caller.
func Checkout(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]internalorders.CheckoutItem, 0, len(payload.Items))
		for _, item := range payload.Items {
			productID, err := uuid.Parse(item.ProductID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
				return
			}
			items = append(items, internalorders.CheckoutItem{ProductID: productID, Quantity: item.Quantity})
		}

		created, err := svc.Checkout(r.Context(), internalorders.CheckoutInput{
			BuyerID:           actor.UserID,
			Items:             items,
			ShippingAddress:   validators.SanitizeString(payload.ShippingAddress, 500),
			ShippingFee:       payload.ShippingFee,
			PaymentMethod:     enums.PaymentMethod(payload.PaymentMethod),
			TransferOwnership: payload.TransferOwnership,
			ChangePlate:       payload.ChangePlate,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"orders": created})
	}
}

// PurchasePackage opens an order for a listing package.
func PurchasePackage(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		packageID, err := validators.ParseUUIDParam(r, "packageId", "package id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.PurchasePackage(r.Context(), internalorders.PackagePurchaseInput{
			BuyerID:   actor.UserID,
			PackageID: packageID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List returns the caller's orders as buyer (default) or seller.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := internalorders.ListScope(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("scope"))))
		if scope == "" {
			scope = internalorders.ListScopeBuyer
		}
		if scope == internalorders.ListScopeAll {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "staff role required"))
			return
		}
		list(svc, logg, w, r, scope)
	}
}

func list(svc internalorders.Service, logg *logger.Logger, w http.ResponseWriter, r *http.Request, scope internalorders.ListScope) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
		return
	}
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	page, err := validators.ParsePage(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}

	params := internalorders.ListParams{Actor: actor, Scope: scope, Params: page}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(strings.ToUpper(raw))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}
		params.Status = &status
	}

	result, err := svc.List(r.Context(), params)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, result)
}

// Detail returns the order with its transactions, disputes, refunds and
// history. Non-parties get a not-found.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// Cancel lets the buyer cancel an order before it is paid.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return action(logg, svc, func(r *http.Request, input internalorders.ActionInput) (any, error) {
		return svc.Cancel(r.Context(), input)
	})
}

// MarkDelivered lets the seller report a shipped order as delivered.
func MarkDelivered(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return action(logg, svc, func(r *http.Request, input internalorders.ActionInput) (any, error) {
		return svc.MarkDelivered(r.Context(), input)
	})
}

// ConfirmReceipt lets the buyer complete a delivered order.
func ConfirmReceipt(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return action(logg, svc, func(r *http.Request, input internalorders.ActionInput) (any, error) {
		return svc.ConfirmReceipt(r.Context(), input)
	})
}

// action decodes the optional reason body shared by the plain order
// transitions and hands the call to run.
func action(logg *logger.Logger, svc internalorders.Service, run func(*http.Request, internalorders.ActionInput) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reasonRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := run(r, internalorders.ActionInput{
			OrderID: orderID,
			Actor:   actor,
			Reason:  validators.SanitizeString(payload.Reason, maxReasonLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
