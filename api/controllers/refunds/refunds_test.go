package refunds

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/api/middleware"
	internalrefunds "github.com/angelmondragon/evtrade-backend/internal/refunds"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
)

type stubRefundsService struct {
	internalrefunds.Service
	create  func(ctx context.Context, input internalrefunds.ManualInput) (*models.Refund, error)
	process func(ctx context.Context, input internalrefunds.ProcessInput) (*models.Refund, error)
}

func (s *stubRefundsService) CreateManual(ctx context.Context, input internalrefunds.ManualInput) (*models.Refund, error) {
	return s.create(ctx, input)
}

func (s *stubRefundsService) Process(ctx context.Context, input internalrefunds.ProcessInput) (*models.Refund, error) {
	return s.process(ctx, input)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func staffRequest(method, target, body, key string, id uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), types.Actor{UserID: uuid.New(), Role: enums.MemberRoleAdmin}))
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, id.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestCreateManualForwardsAmountAndMethod(t *testing.T) {
	orderID := uuid.New()
	svc := &stubRefundsService{
		create: func(ctx context.Context, input internalrefunds.ManualInput) (*models.Refund, error) {
			if input.OrderID != orderID || input.Amount != 250_000 || input.Method != enums.RefundMethodGateway {
				t.Fatalf("unexpected input %+v", input)
			}
			return &models.Refund{ID: uuid.New(), OrderID: orderID, Amount: input.Amount, Status: enums.RefundStatusPending}, nil
		},
	}

	req := staffRequest(http.MethodPost, "/api/admin/v1/orders/"+orderID.String()+"/refunds",
		`{"amount":250000,"reason":"accessory missing","method":"GATEWAY"}`, "orderId", orderID)
	resp := httptest.NewRecorder()
	CreateManual(svc, testLogger())(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestCreateManualRejectsNonPositiveAmount(t *testing.T) {
	orderID := uuid.New()
	req := staffRequest(http.MethodPost, "/api/admin/v1/orders/"+orderID.String()+"/refunds",
		`{"amount":0,"reason":"x"}`, "orderId", orderID)
	resp := httptest.NewRecorder()
	CreateManual(&stubRefundsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestProcessRequiresDecision(t *testing.T) {
	refundID := uuid.New()
	req := staffRequest(http.MethodPost, "/api/admin/v1/refunds/"+refundID.String()+"/process", `{"note":"ok"}`, "refundId", refundID)
	resp := httptest.NewRecorder()
	Process(&stubRefundsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestProcessRejectionSurfacesServiceError(t *testing.T) {
	refundID := uuid.New()
	svc := &stubRefundsService{
		process: func(ctx context.Context, input internalrefunds.ProcessInput) (*models.Refund, error) {
			if input.Approve {
				t.Fatal("expected a rejection")
			}
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection note required")
		},
	}
	req := staffRequest(http.MethodPost, "/api/admin/v1/refunds/"+refundID.String()+"/process", `{"approve":false}`, "refundId", refundID)
	resp := httptest.NewRecorder()
	Process(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
