package payments

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/evtrade-backend/api/middleware"
	"github.com/angelmondragon/evtrade-backend/api/responses"
	"github.com/angelmondragon/evtrade-backend/api/validators"
	internalpayments "github.com/angelmondragon/evtrade-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
)

type initiateRequest struct {
	BankCode string `json:"bank_code" validate:"omitempty,alphanum,max=20"`
}

type mockPayRequest struct {
	TransactionCode string `json:"transaction_code" validate:"required,max=128"`
	ResponseCode    string `json:"response_code" validate:"omitempty,numeric,len=2"`
}

// Initiate opens a gateway payment for the order's next due amount and
// returns the signed redirect URL.
func Initiate(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
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

		var payload initiateRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Initiate(r.Context(), internalpayments.InitiateInput{
			OrderID:  orderID,
			Actor:    actor,
			ClientIP: middleware.ClientIP(r),
			BankCode: strings.ToUpper(payload.BankCode),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// GatewayIPN answers the gateway's server-to-server notification. The
// response is always HTTP 200; the outcome lives in RspCode.
func GatewayIPN(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteJSON(w, http.StatusOK, internalpayments.Ack{RspCode: internalpayments.AckUnknownError, Message: "Unknown error"})
			return
		}
		if err := r.ParseForm(); err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "gateway ipn form parse failed")
			}
		}
		responses.WriteJSON(w, http.StatusOK, svc.HandleIPN(r.Context(), r.Form))
	}
}

// GatewayReturn serves the browser redirect back from the gateway.
func GatewayReturn(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		result, err := svc.HandleReturn(r.Context(), r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// MockPay settles (or fails) one of the caller's pending transactions
// without the real gateway.
func MockPay(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload mockPayRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.MockPay(r.Context(), internalpayments.MockPayInput{
			TransactionCode: strings.TrimSpace(payload.TransactionCode),
			Actor:           actor,
			ResponseCode:    payload.ResponseCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
