package vnpay

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/evtrade-backend/pkg/config"
)

const (
	timeLayout = "20060102150405"

	ResponseCodeSuccess = "00"
)

// gatewayZone is the gateway's wall clock (GMT+7); timestamps are exchanged
// without an offset.
var gatewayZone = time.FixedZone("ICT", 7*60*60)

// PaymentRequest is the outbound payment-initiation payload.
type PaymentRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
	ExpireAt  time.Time
	BankCode  string
}

// Callback is a verified return or IPN notification.
type Callback struct {
	TxnRef            string
	Amount            int64
	ResponseCode      string
	TransactionStatus string
	GatewayTxnNo      string
	BankCode          string
	CardType          string
	OrderInfo         string
	PayDate           *time.Time
}

// Succeeded reports whether the gateway settled the payment.
func (c Callback) Succeeded() bool {
	if c.ResponseCode != ResponseCodeSuccess {
		return false
	}
	return c.TransactionStatus == "" || c.TransactionStatus == ResponseCodeSuccess
}

// Client builds signed gateway URLs and decodes callbacks.
type Client struct {
	cfg config.GatewayConfig
}

func NewClient(cfg config.GatewayConfig) (*Client, error) {
	if cfg.TmnCode == "" {
		return nil, errors.New("gateway merchant code required")
	}
	if cfg.HashSecret == "" {
		return nil, errors.New("gateway hash secret required")
	}
	if cfg.PayURL == "" {
		return nil, errors.New("gateway pay url required")
	}
	return &Client{cfg: cfg}, nil
}

// PaymentURL returns the signed redirect URL for req.
func (c *Client) PaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", errors.New("transaction reference required")
	}
	if req.Amount <= 0 {
		return "", errors.New("amount must be positive")
	}

	params := url.Values{}
	params.Set("vnp_Version", c.cfg.Version)
	params.Set("vnp_Command", c.cfg.Command)
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CurrCode", c.cfg.CurrCode)
	params.Set("vnp_TxnRef", req.TxnRef)
	params.Set("vnp_OrderInfo", req.OrderInfo)
	params.Set("vnp_OrderType", c.cfg.OrderType)
	params.Set("vnp_Locale", c.cfg.Locale)
	params.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	if c.cfg.IPNURL != "" {
		params.Set("vnp_IpnUrl", c.cfg.IPNURL)
	}
	params.Set("vnp_IpAddr", clientIP(req.ClientIP))
	params.Set("vnp_CreateDate", FormatTime(req.CreatedAt))
	params.Set("vnp_ExpireDate", FormatTime(req.ExpireAt))
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	query := CanonicalQuery(params)
	signature := Sign(c.cfg.HashSecret, params)
	return fmt.Sprintf("%s?%s&%s=%s", c.cfg.PayURL, query, ParamSecureHash, signature), nil
}

// Verify checks the callback signature against the merchant secret.
func (c *Client) Verify(params url.Values) bool {
	return Verify(c.cfg.HashSecret, params)
}

// SignCallback adds a signature to params as the gateway would. Only used by
// the mock payment flow.
func (c *Client) SignCallback(params url.Values) url.Values {
	signed := url.Values{}
	for key, values := range params {
		signed[key] = append([]string(nil), values...)
	}
	signed.Set(ParamSecureHash, Sign(c.cfg.HashSecret, params))
	return signed
}

// MerchantCode returns the configured terminal code.
func (c *Client) MerchantCode() string {
	return c.cfg.TmnCode
}

// ParseCallback decodes callback params. The signature must already be
// verified; this only validates shape.
func ParseCallback(params url.Values) (Callback, error) {
	ref := strings.TrimSpace(params.Get("vnp_TxnRef"))
	if ref == "" {
		return Callback{}, errors.New("vnp_TxnRef missing")
	}
	rawAmount := params.Get("vnp_Amount")
	minor, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		return Callback{}, fmt.Errorf("vnp_Amount %q: %w", rawAmount, err)
	}
	if minor%100 != 0 {
		return Callback{}, fmt.Errorf("vnp_Amount %q is not a whole amount", rawAmount)
	}

	cb := Callback{
		TxnRef:            ref,
		Amount:            minor / 100,
		ResponseCode:      params.Get("vnp_ResponseCode"),
		TransactionStatus: params.Get("vnp_TransactionStatus"),
		GatewayTxnNo:      params.Get("vnp_TransactionNo"),
		BankCode:          params.Get("vnp_BankCode"),
		CardType:          params.Get("vnp_CardType"),
		OrderInfo:         params.Get("vnp_OrderInfo"),
	}
	if raw := params.Get("vnp_PayDate"); raw != "" {
		paid, err := ParseTime(raw)
		if err != nil {
			return Callback{}, fmt.Errorf("vnp_PayDate %q: %w", raw, err)
		}
		cb.PayDate = &paid
	}
	return cb, nil
}

// FormatTime renders t in the gateway's yyyyMMddHHmmss GMT+7 format.
func FormatTime(t time.Time) string {
	return t.In(gatewayZone).Format(timeLayout)
}

// ParseTime reads a gateway timestamp and returns it in UTC.
func ParseTime(value string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, value, gatewayZone)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func clientIP(ip string) string {
	if strings.TrimSpace(ip) == "" {
		return "127.0.0.1"
	}
	return ip
}
