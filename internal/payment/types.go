package payment

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// X402Version is the protocol version sent to the facilitator.
const X402Version = 1

// Authorization is an EIP-3009 transferWithAuthorization message signed by the payer.
// Value and the validity window are decimal strings, as signed.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the decoded X-PAYMENT header.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// SettlementRequest is the body POSTed to {facilitator}/v2/x402/settle.
type SettlementRequest struct {
	X402Version   int          `json:"x402Version"`
	PaymentHeader string       `json:"paymentHeader"`
	Payload       ExactPayload `json:"payload"`
	ChainID       int64        `json:"chainId"`
	TokenAddress  string       `json:"tokenAddress"`
	Resource      string       `json:"resource,omitempty"`
}

type Transaction struct {
	Hash        string      `json:"hash"`
	BlockNumber BlockNumber `json:"blockNumber"`
	From        string      `json:"from,omitempty"`
	To          string      `json:"to,omitempty"`
	Value       string      `json:"value,omitempty"`
}

// BlockNumber decodes from a JSON number, a decimal string or a 0x-prefixed hex string.
// It always encodes as a number.
type BlockNumber int64

func (b *BlockNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" {
		*b = 0
		return nil
	}

	var (
		n   int64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err = strconv.ParseInt(s[2:], 16, 64)
	} else {
		n, err = strconv.ParseInt(s, 10, 64)
	}
	if err != nil || n < 0 {
		return fmt.Errorf("invalid block number %s", string(data))
	}
	*b = BlockNumber(n)
	return nil
}

type FacilitatorError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SettlementBody is the facilitator's JSON reply.
type SettlementBody struct {
	Success     bool              `json:"success"`
	Transaction *Transaction      `json:"transaction,omitempty"`
	Error       *FacilitatorError `json:"error,omitempty"`
}

// Response is the raw outcome of one settlement call.
type Response struct {
	Status    int            `json:"status"`
	OK        bool           `json:"ok"`
	Body      SettlementBody `json:"body"`
	Headers   http.Header    `json:"headers"`
	ElapsedMs int64          `json:"elapsed_ms"`
	// Raw is the body as received, capped at maxResponseBody.
	Raw []byte `json:"-"`
}

// CodeInvalidResponse marks a reply whose body could not be parsed.
const CodeInvalidResponse = "INVALID_RESPONSE"

// Health is the cached result of the last facilitator health check.
type Health struct {
	Healthy   bool      `json:"healthy"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
