package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RequiredHeader is the response header carrying the base64url-JSON payment
// requirements on a 402.
const RequiredHeader = "x-payment-required"

// The signed payment is attached under both names; servers read either.
const (
	SignatureHeader = "payment-signature"
	PaymentHeader   = "x-payment"
)

var (
	ErrMissingRequiredHeader = errors.New("402 response without x-payment-required header")
	ErrNoAcceptedOptions     = errors.New("payment required but no accepted options offered")
	ErrMissingAmount         = errors.New("payment option carries no amount")
)

// Option is one accepted payment method from the server's 402 header.
type Option struct {
	Scheme            string       `json:"scheme"`
	Network           string       `json:"network"`
	Asset             string       `json:"asset"`
	PayTo             string       `json:"payTo"`
	Amount            string       `json:"amount,omitempty"`
	MaxAmountRequired string       `json:"maxAmountRequired,omitempty"`
	MaxTimeoutSeconds int          `json:"maxTimeoutSeconds,omitempty"`
	Extra             *OptionExtra `json:"extra,omitempty"`
}

// OptionExtra overrides the EIP-712 domain name/version for assets that
// deviate from the USDC defaults.
type OptionExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// RequiredAmount returns the option's amount, falling back to the legacy
// maxAmountRequired key.
func (o Option) RequiredAmount() (string, error) {
	if o.Amount != "" {
		return o.Amount, nil
	}
	if o.MaxAmountRequired != "" {
		return o.MaxAmountRequired, nil
	}
	return "", ErrMissingAmount
}

// Resource describes what is being paid for.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Required is the decoded x-payment-required header.
type Required struct {
	Accepts  []Option  `json:"accepts"`
	Resource *Resource `json:"resource,omitempty"`
}

// DecodeRequired parses the base64url-JSON header value. Padded and
// unpadded encodings are both accepted.
func DecodeRequired(headerValue string) (Required, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(headerValue, "="))
	if err != nil {
		return Required{}, fmt.Errorf("decode payment-required header: %w", err)
	}
	var req Required
	if err := json.Unmarshal(raw, &req); err != nil {
		return Required{}, fmt.Errorf("parse payment-required header: %w", err)
	}
	if len(req.Accepts) == 0 {
		return Required{}, ErrNoAcceptedOptions
	}
	return req, nil
}

// EncodeRequired is the inverse of DecodeRequired (used by tests and the
// local mock upstream).
func EncodeRequired(r Required) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// envelope is the outer x402 payload attached to the retried request,
// base64-encoded (standard alphabet) into both payment headers.
type envelope struct {
	X402Version int             `json:"x402Version"`
	Resource    envResource     `json:"resource"`
	Accepted    envAccepted     `json:"accepted"`
	Payload     envSigned       `json:"payload"`
	Extensions  map[string]any  `json:"extensions"`
}

type envResource struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

type envAccepted struct {
	Scheme            string       `json:"scheme"`
	Network           string       `json:"network"`
	Amount            string       `json:"amount"`
	Asset             string       `json:"asset"`
	PayTo             string       `json:"payTo"`
	MaxTimeoutSeconds int          `json:"maxTimeoutSeconds,omitempty"`
	Extra             *OptionExtra `json:"extra,omitempty"`
}

type envSigned struct {
	Signature     string           `json:"signature"`
	Authorization envAuthorization `json:"authorization"`
}

type envAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}
