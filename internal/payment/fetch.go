// Package payment implements the x402 payment-bearing HTTP client: the 402
// handshake, EIP-712 TransferWithAuthorization payload construction, and the
// per-endpoint parameter cache enabling pre-authorized single-round-trip
// requests. Signing itself is delegated to a Signer so the package stays
// crypto-agnostic.
package payment

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Signer signs 32-byte EIP-712 digests with the proxy wallet key. The
// concrete implementation lives outside this package.
type Signer interface {
	// Address returns the hex40 wallet address the signatures recover to.
	Address() string
	// SignDigest returns the 65-byte [R||S||V] signature over the digest.
	SignDigest(digest [32]byte) ([]byte, error)
}

// Response is the terminal upstream response after any payment retries.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

const (
	defaultTimeoutSeconds = 300
	validAfterSkew        = 600 * time.Second
	defaultDomainName     = "USD Coin"
	defaultDomainVersion  = "2"
)

// Client wraps an HTTP client with the 402 payment dance.
type Client struct {
	http   *http.Client
	signer Signer
	cache  *Cache

	now   func() time.Time
	nonce func() ([32]byte, error)
}

// NewClient builds a payment-bearing client. httpClient may carry an
// instrumented transport; nil uses a default with a generous timeout for
// long LLM completions.
func NewClient(httpClient *http.Client, signer Signer, cache *Cache) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	if cache == nil {
		cache = NewCache(DefaultCacheTTL)
	}
	return &Client{
		http:   httpClient,
		signer: signer,
		cache:  cache,
		now:    time.Now,
		nonce:  randomNonce,
	}
}

// Cache exposes the parameter cache (the proxy invalidates it on payment
// failures).
func (c *Client) Cache() *Cache { return c.cache }

// Do sends the request, transparently handling a 402. estimatedAmount, when
// non-empty and payment parameters are cached for the endpoint, triggers the
// pre-auth fast path: the first request already carries a signed payment for
// the estimate. Pass "" to disable pre-auth (e.g. free models).
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string, estimatedAmount string) (*Response, error) {
	ctx, span := otel.Tracer("blockrun.payment").Start(ctx, "payment.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", rawURL)),
	)
	defer span.End()

	resp, err := c.do(ctx, method, rawURL, body, headers, estimatedAmount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string, estimatedAmount string) (*Response, error) {
	path := endpointPath(rawURL)

	// Pre-auth fast path: sign against cached parameters on the first hop.
	if params, ok := c.cache.Get(path); ok && estimatedAmount != "" {
		payHeader, err := c.signPayload(params, estimatedAmount, rawURL)
		if err != nil {
			return nil, fmt.Errorf("pre-auth signing: %w", err)
		}
		resp, err := c.send(ctx, method, rawURL, body, headers, payHeader)
		if err != nil {
			return nil, err
		}
		if resp.Status != http.StatusPaymentRequired {
			return resp, nil
		}
		if hv := resp.Header.Get(RequiredHeader); hv != "" {
			// Stale parameters or a price change: renegotiate from the
			// fresh requirements.
			return c.negotiate(ctx, method, rawURL, body, headers, hv)
		}
		// 402 with no requirements: the cached entry is useless. Start
		// over with a clean request.
		c.cache.Invalidate(path)
	}

	resp, err := c.send(ctx, method, rawURL, body, headers, "")
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusPaymentRequired {
		return resp, nil
	}
	hv := resp.Header.Get(RequiredHeader)
	if hv == "" {
		return nil, ErrMissingRequiredHeader
	}
	return c.negotiate(ctx, method, rawURL, body, headers, hv)
}

// negotiate handles a fresh 402: parse the requirements, cache the derived
// parameters, sign the demanded amount, and retry exactly once.
func (c *Client) negotiate(ctx context.Context, method, rawURL string, body []byte, headers map[string]string, headerValue string) (*Response, error) {
	req, err := DecodeRequired(headerValue)
	if err != nil {
		return nil, err
	}
	opt := req.Accepts[0]

	amount, err := opt.RequiredAmount()
	if err != nil {
		return nil, err
	}
	payTo, err := NormalizeAddress(opt.PayTo)
	if err != nil {
		return nil, fmt.Errorf("payTo: %w", err)
	}
	asset, err := NormalizeAddress(opt.Asset)
	if err != nil {
		return nil, fmt.Errorf("asset: %w", err)
	}

	params := Params{
		PayTo:             payTo,
		Asset:             asset,
		Scheme:            opt.Scheme,
		Network:           opt.Network,
		MaxTimeoutSeconds: opt.MaxTimeoutSeconds,
		CachedAt:          c.now(),
	}
	if opt.Extra != nil {
		params.ExtraName = opt.Extra.Name
		params.ExtraVersion = opt.Extra.Version
	}
	if req.Resource != nil {
		params.ResourceURL = req.Resource.URL
		params.ResourceDescription = req.Resource.Description
	}
	c.cache.Set(endpointPath(rawURL), params)

	payHeader, err := c.signPayload(params, amount, rawURL)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, rawURL, body, headers, payHeader)
}

// signPayload builds and signs one TransferWithAuthorization payload and
// returns the base64 header value. The nonce is drawn once per call, so a
// retry never reuses a previous authorization.
func (c *Client) signPayload(params Params, amount, rawURL string) (string, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() < 0 {
		return "", fmt.Errorf("invalid payment amount %q", amount)
	}

	nonce, err := c.nonce()
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	timeout := params.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}
	now := c.now()
	validAfter := big.NewInt(now.Add(-validAfterSkew).Unix())
	validBefore := big.NewInt(now.Add(time.Duration(timeout) * time.Second).Unix())

	domainName := params.ExtraName
	if domainName == "" {
		domainName = defaultDomainName
	}
	domainVersion := params.ExtraVersion
	if domainVersion == "" {
		domainVersion = defaultDomainVersion
	}

	auth := Authorization{
		From:        c.signer.Address(),
		To:          params.PayTo,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}
	domain := Domain{
		Name:              domainName,
		Version:           domainVersion,
		ChainID:           ChainID(params.Network),
		VerifyingContract: params.Asset,
	}

	digest, err := Digest(domain, auth)
	if err != nil {
		return "", err
	}
	sig, err := c.signer.SignDigest(digest)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}

	resourceURL := params.ResourceURL
	if resourceURL == "" {
		resourceURL = rawURL
	}

	env := envelope{
		X402Version: 2,
		Resource: envResource{
			URL:         resourceURL,
			Description: params.ResourceDescription,
			MimeType:    "application/json",
		},
		Accepted: envAccepted{
			Scheme:            params.Scheme,
			Network:           params.Network,
			Amount:            amount,
			Asset:             params.Asset,
			PayTo:             params.PayTo,
			MaxTimeoutSeconds: params.MaxTimeoutSeconds,
			Extra:             optionExtra(params),
		},
		Payload: envSigned{
			Signature: "0x" + hex.EncodeToString(sig),
			Authorization: envAuthorization{
				From:        auth.From,
				To:          auth.To,
				Value:       value.String(),
				ValidAfter:  validAfter.String(),
				ValidBefore: validBefore.String(),
				Nonce:       "0x" + hex.EncodeToString(nonce[:]),
			},
		},
		Extensions: map[string]any{},
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func optionExtra(p Params) *OptionExtra {
	if p.ExtraName == "" && p.ExtraVersion == "" {
		return nil
	}
	return &OptionExtra{Name: p.ExtraName, Version: p.ExtraVersion}
}

// send performs one HTTP exchange. A non-empty payHeader is attached under
// both payment header names with identical content.
func (c *Client) send(ctx context.Context, method, rawURL string, body []byte, headers map[string]string, payHeader string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payHeader != "" {
		req.Header.Set(SignatureHeader, payHeader)
		req.Header.Set(PaymentHeader, payHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func endpointPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return rawURL
	}
	return u.Path
}

func randomNonce() ([32]byte, error) {
	var n [32]byte
	if _, err := rand.Read(n[:]); err != nil {
		return [32]byte{}, err
	}
	return n, nil
}
