// Package api holds the JSON wire types shared by the HTTP server and the
// API client.
package api

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// Signed-call headers.
const (
	HeaderSignature = "X-Oracle-Signature"
	HeaderNonce     = "X-Oracle-Nonce"
	HeaderExpires   = "X-Oracle-Expires"
)

// ErrorResponse is the body of every non-2xx response. Kind is the adapter
// error kind when one applies.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type Binding struct {
	Identifier    string    `json:"identifier"`
	IdentifierHex string    `json:"identifier_hex"`
	Oracle        string    `json:"oracle"`
	Mode          string    `json:"mode"`
	IsAggregator  bool      `json:"is_aggregator"`
	JobID         string    `json:"job_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

// FromBindingEntry renders a registry entry.
func FromBindingEntry(e domain.BindingEntry) Binding {
	return Binding{
		Identifier:    e.Identifier.String(),
		IdentifierHex: e.Identifier.Hex(),
		Oracle:        e.Binding.Address.Hex(),
		Mode:          e.Binding.Mode(),
		IsAggregator:  e.Binding.IsAggregator,
		JobID:         e.Binding.JobName(),
		UpdatedAt:     e.UpdatedAt,
	}
}

type BindingList struct {
	Identifiers []Binding `json:"identifiers"`
}

// AddOracleRequest is the body of POST /api/identifiers. Identifier is a
// name or a 0x-prefixed 32-byte hex string.
type AddOracleRequest struct {
	Identifier   string `json:"identifier"`
	Oracle       string `json:"oracle"`
	IsAggregator bool   `json:"is_aggregator"`
	JobID        string `json:"job_id,omitempty"`
}

type Supported struct {
	Identifier string `json:"identifier"`
	Supported  bool   `json:"supported"`
}

type Owner struct {
	Owner string `json:"owner"`
}

type TransferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

type PriceRequest struct {
	Identifier string `json:"identifier"`
	Timestamp  int64  `json:"timestamp"`
}

type Receipt struct {
	Identifier string `json:"identifier"`
	Timestamp  int64  `json:"timestamp"`
	Mode       string `json:"mode"`
	Token      string `json:"token,omitempty"`
	State      string `json:"state"`
}

// FromReceipt renders a RequestPrice result.
func FromReceipt(r domain.RequestReceipt) Receipt {
	return Receipt{
		Identifier: r.Identifier.String(),
		Timestamp:  r.Timestamp,
		Mode:       r.Mode,
		Token:      string(r.Token),
		State:      string(r.State),
	}
}

// Price carries the raw fixed-point value as a decimal string so values
// wider than 64 bits survive JSON. Display is Value scaled by Decimals.
type Price struct {
	Identifier string    `json:"identifier,omitempty"`
	Timestamp  int64     `json:"timestamp,omitempty"`
	Value      string    `json:"value"`
	Decimals   uint8     `json:"decimals"`
	Display    string    `json:"display"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// FromPrice renders p.
func FromPrice(p domain.Price) Price {
	out := Price{
		Decimals:  p.Decimals,
		Display:   p.Decimal().String(),
		UpdatedAt: p.UpdatedAt,
	}
	if p.Value != nil {
		out.Value = p.Value.String()
	}
	return out
}

// ToDomain parses the raw value back into a domain price.
func (p Price) ToDomain() (domain.Price, error) {
	v, ok := new(big.Int).SetString(p.Value, 10)
	if !ok {
		return domain.Price{}, fmt.Errorf("api: price value %q: %w", p.Value, domain.ErrInvalidPrice)
	}
	return domain.Price{Value: v, Decimals: p.Decimals, UpdatedAt: p.UpdatedAt}, nil
}

// FulfillRequest is the body of POST /api/fulfill.
type FulfillRequest struct {
	Token string `json:"token"`
	Price Price  `json:"price"`
}

type Request struct {
	Token       string     `json:"token"`
	Identifier  string     `json:"identifier"`
	Timestamp   int64      `json:"timestamp"`
	Oracle      string     `json:"oracle"`
	JobID       string     `json:"job_id,omitempty"`
	State       string     `json:"state"`
	Price       *Price     `json:"price,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

// FromRequest renders a recorded job request.
func FromRequest(r domain.PriceRequest) Request {
	out := Request{
		Token:       string(r.Token),
		Identifier:  r.Identifier.String(),
		Timestamp:   r.Timestamp,
		Oracle:      r.Oracle.Hex(),
		JobID:       domain.OracleBinding{JobID: r.JobID}.JobName(),
		State:       string(r.State),
		CreatedAt:   r.CreatedAt,
		FulfilledAt: r.FulfilledAt,
	}
	if r.Price != nil {
		p := FromPrice(*r.Price)
		out.Price = &p
	}
	return out
}

type RequestList struct {
	Requests []Request `json:"requests"`
}

type EventList struct {
	Events []domain.Event `json:"events"`
}

type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

type AuditList struct {
	Entries []AuditEntry `json:"entries"`
}

type Health struct {
	Status      string            `json:"status"`
	Owner       string            `json:"owner"`
	Identifiers int               `json:"identifiers"`
	Pending     int               `json:"pending"`
	Roles       []string          `json:"roles"`
	Archive     bool              `json:"archive"`
	Checks      map[string]string `json:"checks,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ParseAddress accepts a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("api: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
