package disputes

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/evtrade-backend/api/middleware"
	"github.com/angelmondragon/evtrade-backend/api/responses"
	"github.com/angelmondragon/evtrade-backend/api/validators"
	internaldisputes "github.com/angelmondragon/evtrade-backend/internal/disputes"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
)

const maxDescriptionLength = 2000

type openRequest struct {
	Description string `json:"description" validate:"required,notblank,min=10,max=2000"`
}

type resolveRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=APPROVE_REFUND REJECT_DISPUTE RESOLVE_WITHOUT_REFUND"`
	Note       string `json:"note" validate:"max=2000"`
}

// Open raises a dispute on one of the caller's orders.
func Open(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
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

		var payload openRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Open(r.Context(), internaldisputes.OpenInput{
			OrderID:     orderID,
			Actor:       actor,
			Description: validators.SanitizeString(payload.Description, maxDescriptionLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

// Cancel withdraws the caller's own active dispute.
func Cancel(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(r *http.Request, input internaldisputes.ActionInput) (any, error) {
		return svc.Cancel(r.Context(), input)
	})
}

// MarkInProgress records that staff picked the dispute up.
func MarkInProgress(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(r *http.Request, input internaldisputes.ActionInput) (any, error) {
		return svc.MarkInProgress(r.Context(), input)
	})
}

func transition(svc internaldisputes.Service, logg *logger.Logger, run func(*http.Request, internaldisputes.ActionInput) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.ParseUUIDParam(r, "disputeId", "dispute id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dispute, err := run(r, internaldisputes.ActionInput{DisputeID: disputeID, Actor: actor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// Resolve applies the staff decision on an active dispute.
func Resolve(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.ParseUUIDParam(r, "disputeId", "dispute id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload resolveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resolution, err := enums.ParseDisputeResolution(payload.Resolution)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution"))
			return
		}

		result, err := svc.Resolve(r.Context(), internaldisputes.ResolveInput{
			DisputeID:  disputeID,
			Actor:      actor,
			Resolution: resolution,
			Note:       validators.SanitizeString(payload.Note, maxDescriptionLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Get returns one dispute. Members only see disputes on their own orders.
func Get(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.ParseUUIDParam(r, "disputeId", "dispute id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dispute, err := svc.Get(r.Context(), actor, disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// List pages disputes, filtered by status and order.
func List(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
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
		orderID, err := validators.ParseUUIDQuery(r, "order_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := internaldisputes.ListParams{Actor: actor, OrderID: orderID, Params: page}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseDisputeStatus(strings.ToUpper(raw))
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
}
