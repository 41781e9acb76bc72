package disputes

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
	internaldisputes "github.com/angelmondragon/evtrade-backend/internal/disputes"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
)

type stubDisputesService struct {
	internaldisputes.Service
	open    func(ctx context.Context, input internaldisputes.OpenInput) (*models.Dispute, error)
	resolve func(ctx context.Context, input internaldisputes.ResolveInput) (*internaldisputes.Resolution, error)
	list    func(ctx context.Context, params internaldisputes.ListParams) (*internaldisputes.ListResult, error)
}

func (s *stubDisputesService) Open(ctx context.Context, input internaldisputes.OpenInput) (*models.Dispute, error) {
	return s.open(ctx, input)
}

func (s *stubDisputesService) Resolve(ctx context.Context, input internaldisputes.ResolveInput) (*internaldisputes.Resolution, error) {
	return s.resolve(ctx, input)
}

func (s *stubDisputesService) List(ctx context.Context, params internaldisputes.ListParams) (*internaldisputes.ListResult, error) {
	return s.list(ctx, params)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func request(method, target, body string, actor types.Actor, key, value string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	if key != "" {
		routeCtx := chi.NewRouteContext()
		routeCtx.URLParams.Add(key, value)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	}
	return req
}

func TestOpenCreatesDispute(t *testing.T) {
	buyer := types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember}
	orderID := uuid.New()
	svc := &stubDisputesService{
		open: func(ctx context.Context, input internaldisputes.OpenInput) (*models.Dispute, error) {
			if input.OrderID != orderID || input.Actor.UserID != buyer.UserID {
				t.Fatalf("unexpected input %+v", input)
			}
			return &models.Dispute{ID: uuid.New(), OrderID: orderID, Status: enums.DisputeStatusOpen}, nil
		},
	}

	req := request(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/disputes",
		`{"description":"battery capacity is far below the listing"}`, buyer, "orderId", orderID.String())
	resp := httptest.NewRecorder()
	Open(svc, testLogger())(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOpenRequiresDescription(t *testing.T) {
	buyer := types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember}
	orderID := uuid.New()
	req := request(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/disputes", `{"description":"bad"}`, buyer, "orderId", orderID.String())
	resp := httptest.NewRecorder()
	Open(&stubDisputesService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestResolveParsesDecision(t *testing.T) {
	staff := types.Actor{UserID: uuid.New(), Role: enums.MemberRoleStaff}
	disputeID := uuid.New()
	svc := &stubDisputesService{
		resolve: func(ctx context.Context, input internaldisputes.ResolveInput) (*internaldisputes.Resolution, error) {
			if input.Resolution != enums.DisputeResolutionReject || input.Note != "photos show no defect" {
				t.Fatalf("unexpected input %+v", input)
			}
			return &internaldisputes.Resolution{Dispute: &models.Dispute{ID: disputeID}}, nil
		},
	}

	req := request(http.MethodPost, "/api/admin/v1/disputes/"+disputeID.String()+"/resolve",
		`{"resolution":"REJECT_DISPUTE","note":"photos show no defect"}`, staff, "disputeId", disputeID.String())
	resp := httptest.NewRecorder()
	Resolve(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestResolveRejectsUnknownDecision(t *testing.T) {
	staff := types.Actor{UserID: uuid.New(), Role: enums.MemberRoleStaff}
	disputeID := uuid.New()
	req := request(http.MethodPost, "/api/admin/v1/disputes/"+disputeID.String()+"/resolve",
		`{"resolution":"SPLIT"}`, staff, "disputeId", disputeID.String())
	resp := httptest.NewRecorder()
	Resolve(&stubDisputesService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListFilters(t *testing.T) {
	actor := types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember}
	orderID := uuid.New()
	svc := &stubDisputesService{
		list: func(ctx context.Context, params internaldisputes.ListParams) (*internaldisputes.ListResult, error) {
			if params.Status == nil || *params.Status != enums.DisputeStatusOpen {
				t.Fatalf("unexpected status %v", params.Status)
			}
			if params.OrderID == nil || *params.OrderID != orderID {
				t.Fatalf("unexpected order filter %v", params.OrderID)
			}
			return &internaldisputes.ListResult{}, nil
		},
	}
	req := request(http.MethodGet, "/api/v1/disputes?status=open&order_id="+orderID.String(), "", actor, "", "")
	resp := httptest.NewRecorder()
	List(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}
