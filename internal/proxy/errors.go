package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Stable error type identifiers surfaced to clients.
const (
	ErrTypeInsufficientFunds = "insufficient_funds"
	ErrTypeSettlementFailed  = "settlement_failed"
	ErrTypeInvalidPayload    = "invalid_payload"
	ErrTypeBudgetExceeded    = "budget_exceeded"
	ErrTypeRateLimited       = "rate_limited"
	ErrTypeProviderError     = "provider_error"
	ErrTypeAllUnavailable    = "all_providers_unavailable"
	ErrTypeDedupOriginFailed = "dedup_origin_failed"
	ErrTypeProxyError        = "proxy_error"
)

// apiError is the OpenAI-compatible error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`

	// Payment detail, present only for payment error types.
	CurrentBalanceUSD *float64 `json:"current_balance_usd,omitempty"`
	RequiredUSD       *float64 `json:"required_usd,omitempty"`
	Wallet            string   `json:"wallet,omitempty"`
	Help              string   `json:"help,omitempty"`
}

func errorJSON(errType, message string, code int) []byte {
	raw, _ := json.Marshal(apiError{Error: apiErrorBody{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	return raw
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(errorJSON(errType, message, status))
}

// retryableStatus reports whether an upstream status warrants advancing the
// fallback chain.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusPaymentRequired,
		http.StatusForbidden,
		http.StatusRequestEntityTooLarge,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

var (
	insufficientRe = regexp.MustCompile(`(?i)insufficient[_\s]+(funds|balance)`)
	signatureRe    = regexp.MustCompile(`(?i)(invalid|bad)\s+signature|signature\s+(verification\s+)?(failed|invalid)`)
	settlementRe   = regexp.MustCompile(`(?i)settle(ment)?\s+.{0,20}(failed|error|rejected)|transaction\s+failed`)
	outOfGasRe     = regexp.MustCompile(`(?i)out\s+of\s+gas`)
	balanceNumRe   = regexp.MustCompile(`(?i)balance[^\d]{0,10}([\d.]+)`)
	requiredNumRe  = regexp.MustCompile(`(?i)required[^\d]{0,10}([\d.]+)`)
)

// transformPaymentError maps an upstream payment failure body onto the
// client-facing taxonomy. It returns nil when the body is not a payment
// error, in which case the caller falls through to generic handling.
func transformPaymentError(body []byte, wallet string) []byte {
	text := extractErrorText(body)
	if text == "" {
		text = string(body)
	}

	switch {
	case insufficientRe.MatchString(text):
		e := apiErrorBody{
			Message: "Wallet balance too low to cover this request",
			Type:    ErrTypeInsufficientFunds,
			Wallet:  wallet,
			Help:    "Top up the proxy wallet with USDC on Base, then retry.",
		}
		if v, ok := extractUSD(balanceNumRe, text); ok {
			e.CurrentBalanceUSD = &v
		}
		if v, ok := extractUSD(requiredNumRe, text); ok {
			e.RequiredUSD = &v
		}
		raw, _ := json.Marshal(apiError{Error: e})
		return raw

	case signatureRe.MatchString(text):
		return errorJSON(ErrTypeInvalidPayload, "Payment signature was rejected by the verifier", 0)

	case settlementRe.MatchString(text):
		msg := "On-chain settlement failed; this is usually transient"
		if outOfGasRe.MatchString(text) {
			msg = "On-chain settlement failed: facilitator ran out of gas. Retry shortly."
		}
		return errorJSON(ErrTypeSettlementFailed, msg, 0)
	}
	return nil
}

// extractErrorText digs the human-readable message out of an upstream error
// body, following the nested "Verification failed" shape some facilitators
// return.
func extractErrorText(body []byte) string {
	var outer struct {
		Error struct {
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return ""
	}
	text := outer.Error.Message
	if text == "" {
		text = outer.Message
	}
	if len(outer.Error.Details) > 0 {
		text += " " + string(outer.Error.Details)
	}

	// "Verification failed: {...json...}" nests a second payload.
	if i := strings.Index(text, "{"); i >= 0 && strings.Contains(strings.ToLower(text[:i]), "verification failed") {
		var inner struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(text[i:]), &inner); err == nil {
			if inner.Reason != "" {
				text += " " + inner.Reason
			}
			if inner.Message != "" {
				text += " " + inner.Message
			}
		}
	}
	return text
}

func extractUSD(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	var v float64
	if _, err := fmt.Sscanf(m[1], "%f", &v); err != nil {
		return 0, false
	}
	return v, true
}
