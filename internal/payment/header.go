package payment

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/usdc"
)

const (
	// HeaderName carries the signed payment on a paid request.
	HeaderName = "X-PAYMENT"
	// ResponseHeaderName carries the settlement receipt back to the payer.
	ResponseHeaderName = "X-PAYMENT-RESPONSE"
)

// Receipt is the decoded X-PAYMENT-RESPONSE header.
type Receipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// DecodeHeader parses a base64-encoded X-PAYMENT header value.
func DecodeHeader(header string) (*PaymentPayload, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "missing %s header", HeaderName)
	}

	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(header, "="))
	}
	if err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "%s header is not valid base64", HeaderName)
	}

	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "%s header is not valid JSON", HeaderName)
	}
	return &p, nil
}

// EncodeHeader is the inverse of DecodeHeader.
func EncodeHeader(p *PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeReceipt builds the X-PAYMENT-RESPONSE value for a settled payment.
func EncodeReceipt(r Receipt) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// NewRequirements builds the 402 challenge for one play priced at price.
func (c *Client) NewRequirements(payTo, resource, description string, price usdc.Amount) Requirements {
	return Requirements{
		Scheme:            "exact",
		Network:           NetworkName(c.chainID),
		MaxAmountRequired: strconv.FormatInt(price.Units(), 10),
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: int(c.timeout.Seconds()),
		Asset:             c.tokenAddress,
	}
}
