package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/pagination"
)

func withParam(r *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, routeCtx))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", id.String())
	got, err := ParseUUIDParam(req, "orderId", "order id")
	if err != nil || got != id {
		t.Fatalf("expected %s got %s err=%v", id, got, err)
	}

	req = withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", "nope")
	if _, err := ParseUUIDParam(req, "orderId", "order id"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestParseUUIDQueryIsOptional(t *testing.T) {
	got, err := ParseUUIDQuery(httptest.NewRequest(http.MethodGet, "/", nil), "order_id")
	if err != nil || got != nil {
		t.Fatalf("expected nil filter got %v err=%v", got, err)
	}
	if _, err := ParseUUIDQuery(httptest.NewRequest(http.MethodGet, "/?order_id=bad", nil), "order_id"); err == nil {
		t.Fatal("expected error for malformed uuid")
	}
}

func TestParsePage(t *testing.T) {
	page, err := ParsePage(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || page.Limit != pagination.DefaultLimit {
		t.Fatalf("expected default limit got %+v err=%v", page, err)
	}
	page, err = ParsePage(httptest.NewRequest(http.MethodGet, "/?limit=5&cursor=abc", nil))
	if err != nil || page.Limit != 5 || page.Cursor != "abc" {
		t.Fatalf("unexpected page %+v err=%v", page, err)
	}
	if _, err := ParsePage(httptest.NewRequest(http.MethodGet, "/?limit=500", nil)); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	var payload struct {
		Amount int64 `json:"amount" validate:"required,min=1"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0}`))
	if err := DecodeJSONBody(req, &payload); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestDecodeJSONBodyRejectsUnknownAndTrailing(t *testing.T) {
	type payload struct {
		Reason string `json:"reason" validate:"required,notblank"`
	}

	var p payload
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"x","extra":1}`)), &p)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
	if details, _ := typed.Details().(map[string]any); details["extra"] != "is not allowed" {
		t.Fatalf("expected unknown field detail, got %v", typed.Details())
	}

	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"x"}{"reason":"y"}`)), &p)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected trailing data to be rejected got %v", err)
	}
}

func TestDecodeJSONBodyBlankReason(t *testing.T) {
	var p struct {
		Reason string `json:"reason" validate:"required,notblank"`
	}
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"   \n "}`)), &p)
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected validation error")
	}
	if details, _ := typed.Details().(map[string]string); details["reason"] != "must not be blank" {
		t.Fatalf("unexpected details %v", typed.Details())
	}
}

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  giao hàng\n\ntrễ  ", 0, "giao hàng trễ"},
		{"pin\x00 lỗi", 0, "pin lỗi"},
		{"Điện áp", 4, "Điện"},
		{"ab cd", 3, "ab"},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.max); got != tc.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
