package gateway

import (
	"context"
	"net/url"
	"time"
)

// Client defines the interface to the redirect payment gateway.
type Client interface {
	// BuildPaymentURL builds the signed redirect URL for a payment. The URL
	// is derived entirely from persisted payment state so it can be rebuilt
	// at any time without side effects.
	BuildPaymentURL(req *PaymentURLRequest) (string, error)

	// VerifyCallback checks the secure hash over a callback's parameters.
	VerifyCallback(params url.Values) bool

	// QueryTransaction asks the gateway for the current status of a payment.
	QueryTransaction(ctx context.Context, req *QueryRequest) (*QueryResponse, error)

	// Charge performs a merchant-initiated charge against a stored token,
	// used for automatic subscription renewals.
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)
}

// PaymentURLRequest carries the fields signed into a redirect URL.
type PaymentURLRequest struct {
	AmountMinor int64
	Currency    string
	Reference   string
	OrderInfo   string
	ClientIP    string
	CreatedAt   time.Time
}

// QueryRequest identifies the transaction to look up.
type QueryRequest struct {
	Reference   string
	RequesterIP string
	// CreatedAt is the payment's stored creation timestamp; the gateway
	// requires it to locate the original transaction.
	CreatedAt time.Time
}

// QueryResponse is the normalized result of a status query.
type QueryResponse struct {
	Reference         string
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	AmountMinor       int64
	// Throttled is set when the gateway rejected the query as a duplicate
	// request; RetryAfter tells the caller when it may ask again.
	Throttled  bool
	RetryAfter time.Duration
}

// Succeeded reports whether the queried transaction settled successfully.
func (r *QueryResponse) Succeeded() bool {
	return r.ResponseCode == "00" && r.TransactionStatus == "00"
}

// Failed reports whether the gateway settled the transaction as failed.
func (r *QueryResponse) Failed() bool {
	return r.ResponseCode != "" && r.ResponseCode != "00" && !r.Throttled
}

// ChargeRequest is a merchant-initiated charge against a stored token.
type ChargeRequest struct {
	Token       string
	AmountMinor int64
	Currency    string
	Reference   string
	OrderInfo   string
}

// ChargeResponse is the normalized result of a token charge.
type ChargeResponse struct {
	Reference     string
	ResponseCode  string
	TransactionNo string
	AmountMinor   int64
	PaidAt        *time.Time
}

// Succeeded reports whether the charge settled.
func (r *ChargeResponse) Succeeded() bool {
	return r.ResponseCode == "00"
}
