package vnpay

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"go.uber.org/zap"
)

// Config holds the gateway merchant credentials and endpoints.
type Config struct {
	PayURL        string
	APIURL        string
	TmnCode       string
	HashSecret    string
	HashAlgo      string
	EncodeMode    EncodeMode
	ReturnURL     string
	Locale        string
	OrderType     string
	CurrencyCode  string
	ExpireMinutes int
	Timeout       time.Duration
	// QueryCooldown is surfaced to callers when the gateway rejects a
	// status query as a duplicate request.
	QueryCooldown time.Duration
	TimeZone      string
}

// Client implements the gateway interface against the redirect provider.
type Client struct {
	cfg    Config
	signer *Signer
	client *http.Client
	loc    *time.Location
	logger *zap.Logger
}

var _ gateway.Client = (*Client)(nil)

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" {
		return nil, fmt.Errorf("gateway merchant code and hash secret are required")
	}
	if cfg.ExpireMinutes <= 0 {
		cfg.ExpireMinutes = 15
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.QueryCooldown <= 0 {
		cfg.QueryCooldown = 30 * time.Second
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}
	if cfg.CurrencyCode == "" {
		cfg.CurrencyCode = "VND"
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "Asia/Ho_Chi_Minh"
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load gateway time zone: %w", err)
	}

	return &Client{
		cfg:    cfg,
		signer: NewSigner(cfg.HashSecret, cfg.HashAlgo, cfg.EncodeMode),
		client: &http.Client{Timeout: cfg.Timeout},
		loc:    loc,
		logger: logger,
	}, nil
}

// Signer exposes the signer for callback verification by handlers.
func (c *Client) Signer() *Signer {
	return c.signer
}

// BuildPaymentURL builds the signed redirect URL for a payment.
func (c *Client) BuildPaymentURL(req *gateway.PaymentURLRequest) (string, error) {
	if req.Reference == "" {
		return "", fmt.Errorf("payment reference is required")
	}

	createDate := req.CreatedAt.In(c.loc)
	currency := req.Currency
	if currency == "" {
		currency = c.cfg.CurrencyCode
	}

	params := map[string]string{
		FieldVersion:    defaultVersion,
		FieldCommand:    commandPay,
		FieldTmnCode:    c.cfg.TmnCode,
		FieldAmount:     strconv.FormatInt(req.AmountMinor*100, 10),
		FieldCurrCode:   currency,
		FieldTxnRef:     req.Reference,
		FieldOrderInfo:  req.OrderInfo,
		FieldOrderType:  c.cfg.OrderType,
		FieldReturnURL:  c.cfg.ReturnURL,
		FieldLocale:     c.cfg.Locale,
		FieldIPAddr:     req.ClientIP,
		FieldCreateDate: createDate.Format(dateLayout),
		FieldExpireDate: createDate.Add(time.Duration(c.cfg.ExpireMinutes) * time.Minute).Format(dateLayout),
	}

	hash := c.signer.Sign(params)

	query := url.Values{}
	for key, value := range params {
		if value != "" {
			query.Set(key, value)
		}
	}
	query.Set(FieldSecureHashType, c.signer.HashType())
	query.Set(FieldSecureHash, hash)

	return c.cfg.PayURL + "?" + query.Encode(), nil
}

// VerifyCallback checks the secure hash of an inbound callback.
func (c *Client) VerifyCallback(params url.Values) bool {
	return c.signer.Verify(params)
}

// QueryTransaction issues a querydr command for the payment reference.
func (c *Client) QueryTransaction(ctx context.Context, req *gateway.QueryRequest) (*gateway.QueryResponse, error) {
	requestID := uuid.New().String()
	txnDate := req.CreatedAt.In(c.loc).Format(dateLayout)
	createDate := time.Now().In(c.loc).Format(dateLayout)
	orderInfo := "query " + req.Reference

	body := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         defaultVersion,
		"vnp_Command":         commandQuery,
		"vnp_TmnCode":         c.cfg.TmnCode,
		"vnp_TxnRef":          req.Reference,
		"vnp_OrderInfo":       orderInfo,
		"vnp_TransactionDate": txnDate,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          req.RequesterIP,
	}
	body["vnp_SecureHash"] = c.signer.SignData(
		requestID, defaultVersion, commandQuery, c.cfg.TmnCode,
		req.Reference, txnDate, createDate, req.RequesterIP, orderInfo,
	)

	raw, err := c.post(ctx, c.cfg.APIURL, body)
	if err != nil {
		return nil, err
	}

	resp := &gateway.QueryResponse{
		Reference:         getString(raw, "vnp_TxnRef"),
		ResponseCode:      getString(raw, "vnp_ResponseCode"),
		TransactionStatus: getString(raw, "vnp_TransactionStatus"),
		TransactionNo:     getString(raw, "vnp_TransactionNo"),
		AmountMinor:       getWireAmount(raw, "vnp_Amount"),
	}

	if resp.ResponseCode == RspCodeDuplicateRequest {
		resp.Throttled = true
		resp.RetryAfter = c.cfg.QueryCooldown
	}

	return resp, nil
}

// Charge performs a merchant-initiated token charge for renewals.
func (c *Client) Charge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
	if req.Token == "" {
		return nil, &gateway.ProviderError{
			Code:    RspCodeUnknownError,
			Message: "missing charge token",
		}
	}

	requestID := uuid.New().String()
	createDate := time.Now().In(c.loc).Format(dateLayout)
	amount := strconv.FormatInt(req.AmountMinor*100, 10)

	body := map[string]string{
		"vnp_RequestId":  requestID,
		"vnp_Version":    defaultVersion,
		"vnp_Command":    commandCharge,
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Token":      req.Token,
		"vnp_TxnRef":     req.Reference,
		"vnp_Amount":     amount,
		"vnp_CurrCode":   req.Currency,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_CreateDate": createDate,
	}
	body["vnp_SecureHash"] = c.signer.SignData(
		requestID, defaultVersion, commandCharge, c.cfg.TmnCode,
		req.Token, req.Reference, amount, req.Currency, req.OrderInfo, createDate,
	)

	raw, err := c.post(ctx, c.cfg.APIURL, body)
	if err != nil {
		return nil, err
	}

	resp := &gateway.ChargeResponse{
		Reference:     getString(raw, "vnp_TxnRef"),
		ResponseCode:  getString(raw, "vnp_ResponseCode"),
		TransactionNo: getString(raw, "vnp_TransactionNo"),
		AmountMinor:   getWireAmount(raw, "vnp_Amount"),
	}
	if payDate := getString(raw, "vnp_PayDate"); payDate != "" {
		if parsed, err := time.ParseInLocation(dateLayout, payDate, c.loc); err == nil {
			utc := parsed.UTC()
			resp.PaidAt = &utc
		}
	}

	return resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body map[string]string) (map[string]interface{}, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, &gateway.ProviderError{
			Code:    "MARSHAL_ERROR",
			Message: "Failed to prepare request",
			Details: err.Error(),
			Err:     err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, &gateway.ProviderError{
			Code:    "REQUEST_ERROR",
			Message: "Failed to create request",
			Details: err.Error(),
			Err:     err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway request failed",
			zap.String("command", body["vnp_Command"]),
			zap.Error(err))
		return nil, &gateway.ProviderError{
			Code:     "API_ERROR",
			Message:  "gateway API request failed",
			Details:  err.Error(),
			Systemic: isTransportFault(err),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &gateway.ProviderError{
			Code:    "RESPONSE_ERROR",
			Message: "Failed to read response",
			Details: err.Error(),
			Err:     err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("gateway returned non-200",
			zap.String("command", body["vnp_Command"]),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)))
		return nil, &gateway.ProviderError{
			Code:    strconv.Itoa(resp.StatusCode),
			Message: "gateway API request rejected",
			Details: string(respBody),
		}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, &gateway.ProviderError{
			Code:    "PARSE_ERROR",
			Message: "Failed to parse response",
			Details: err.Error(),
			Err:     err,
		}
	}

	return raw, nil
}

// isTransportFault classifies TLS/certificate faults as systemic so the
// reconciliation scheduler can back off the whole provider.
func isTransportFault(err error) bool {
	var certErr *x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return true
	}
	var hostErr *x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	return errors.As(err, &recordErr)
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getWireAmount reads the x100 wire amount and converts back to minor units.
func getWireAmount(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v) / 100
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return parsed / 100
	default:
		return 0
	}
}
