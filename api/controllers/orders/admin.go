package orders

import (
	"net/http"

	"github.com/angelmondragon/evtrade-backend/api/middleware"
	"github.com/angelmondragon/evtrade-backend/api/responses"
	"github.com/angelmondragon/evtrade-backend/api/validators"
	internalorders "github.com/angelmondragon/evtrade-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
)

// AdminList returns every order, optionally filtered by status.
func AdminList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list(svc, logg, w, r, internalorders.ListScopeAll)
	}
}

// AdminApprove schedules the hand-over for a deposit-paid vehicle order.
func AdminApprove(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
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

		var payload approveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Approve(r.Context(), internalorders.ApproveInput{
			OrderID:             orderID,
			Actor:               actor,
			AppointmentDate:     payload.AppointmentDate,
			TransactionLocation: validators.SanitizeString(payload.TransactionLocation, 500),
			Note:                validators.SanitizeString(payload.Note, maxReasonLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// AdminReject rejects a deposit-paid vehicle order and refunds the deposit.
func AdminReject(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
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

		var payload rejectRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Reject(r.Context(), internalorders.RejectInput{
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
