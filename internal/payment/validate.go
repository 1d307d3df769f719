package payment

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/x402arcade/backend/internal/usdc"
)

const (
	nonceLength     = 32
	signatureLength = 65
)

// Validate checks a settlement request structurally and reports every violation at once.
func Validate(req SettlementRequest) error {
	var v violations

	if req.X402Version <= 0 {
		v.add("x402Version must be positive")
	}
	if strings.TrimSpace(req.PaymentHeader) == "" {
		v.add("paymentHeader is required")
	}
	if req.ChainID == 0 {
		v.add("chainId is required")
	}
	v.address("tokenAddress", req.TokenAddress)

	v.payload(req.Payload)

	return v.err()
}

// ValidatePayload checks only the signed authorization and its signature.
func ValidatePayload(p ExactPayload) error {
	var v violations
	v.payload(p)
	return v.err()
}

func (v *violations) payload(p ExactPayload) {
	auth := p.Authorization
	v.address("authorization.from", auth.From)
	v.address("authorization.to", auth.To)

	if value, ok := v.uint("authorization.value", auth.Value); ok && value.Sign() == 0 {
		v.add("authorization.value must be greater than zero")
	}
	after, okAfter := v.uint("authorization.validAfter", auth.ValidAfter)
	before, okBefore := v.uint("authorization.validBefore", auth.ValidBefore)
	if okAfter && okBefore && before.Cmp(after) <= 0 {
		v.add("authorization.validBefore must be after validAfter")
	}

	v.hexBytes("authorization.nonce", auth.Nonce, nonceLength)
	v.hexBytes("payload.signature", p.Signature, signatureLength)
}

// Requirements describe what a payment must satisfy to unlock one play.
type Requirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
}

// NetworkName maps a chain id to the x402 network identifier.
func NetworkName(chainID int64) string {
	switch chainID {
	case 25:
		return "cronos"
	case 338:
		return "cronos-testnet"
	default:
		return fmt.Sprintf("eip155:%d", chainID)
	}
}

// CheckRequirements verifies the signed authorization against reqs at now.
func CheckRequirements(p *PaymentPayload, reqs Requirements, now time.Time) error {
	var v violations
	auth := p.Payload.Authorization

	if p.Scheme != "" && p.Scheme != reqs.Scheme {
		v.add(fmt.Sprintf("scheme %q is not supported", p.Scheme))
	}
	if p.Network != "" && p.Network != reqs.Network {
		v.add(fmt.Sprintf("network %q does not match %q", p.Network, reqs.Network))
	}
	if !strings.EqualFold(auth.To, reqs.PayTo) {
		v.add("authorization.to is not the arcade wallet")
	}

	paid, err := usdc.ParseUnits(auth.Value)
	required, rerr := usdc.ParseUnits(reqs.MaxAmountRequired)
	switch {
	case err != nil:
		v.add("authorization.value is not a valid amount")
	case rerr == nil && paid < required:
		v.add(fmt.Sprintf("authorization.value %s is below the price %s", paid, required))
	}

	unix := big.NewInt(now.Unix())
	if after, ok := new(big.Int).SetString(auth.ValidAfter, 10); ok && after.Cmp(unix) > 0 {
		v.add("authorization is not valid yet")
	}
	if before, ok := new(big.Int).SetString(auth.ValidBefore, 10); ok && before.Cmp(unix) <= 0 {
		v.add("authorization has expired")
	}

	return v.err()
}

type violations []string

func (v *violations) add(msg string) {
	*v = append(*v, msg)
}

func (v *violations) address(field, addr string) {
	switch {
	case strings.TrimSpace(addr) == "":
		v.add(field + " is required")
	case !common.IsHexAddress(addr) || !strings.HasPrefix(addr, "0x"):
		v.add(field + " is not a valid address")
	}
}

func (v *violations) uint(field, s string) (*big.Int, bool) {
	if strings.TrimSpace(s) == "" {
		v.add(field + " is required")
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		v.add(field + " must be a non-negative integer")
		return nil, false
	}
	return n, true
}

func (v *violations) hexBytes(field, s string, length int) {
	if strings.TrimSpace(s) == "" {
		v.add(field + " is required")
		return
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		v.add(field + " is not valid hex")
		return
	}
	if len(b) != length {
		v.add(fmt.Sprintf("%s must be %d bytes, got %d", field, length, len(b)))
	}
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Violations: v}
}
