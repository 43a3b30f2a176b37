// Package rpc exposes the marketplace via a JSON-RPC 2.0 HTTP endpoint.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/market"
	"github.com/tolelom/tolmarket/registry"
	"github.com/tolelom/tolmarket/vm"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object. Kind is the stable label of a
// rejected marketplace operation.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeRateLimited    = -32005
)

// Application error codes for rejected transactions and lookups.
const (
	CodeNotFound            = -32010
	CodeTxRejected          = -32011 // signature, chain id, nonce or type
	CodeNoActiveOffer       = -32020
	CodeNoActiveBid         = -32021
	CodeNotAuthorized       = -32022
	CodeInsufficientPayment = -32023
	CodeOwnershipMismatch   = -32024
	CodeTransferDenied      = -32025
	CodeInvalidAmount       = -32026
	CodeNothingToWithdraw   = -32027
	CodeInsufficientFunds   = -32028
	CodeUnknownItem         = -32029
	CodeRegistryRejected    = -32030
	CodePayoutFailed        = -32031
)

var kindCodes = map[string]int{
	"no_active_offer":      CodeNoActiveOffer,
	"no_active_bid":        CodeNoActiveBid,
	"unauthorized":         CodeNotAuthorized,
	"insufficient_payment": CodeInsufficientPayment,
	"ownership_mismatch":   CodeOwnershipMismatch,
	"transfer_denied":      CodeTransferDenied,
	"invalid_amount":       CodeInvalidAmount,
	"nothing_to_withdraw":  CodeNothingToWithdraw,
	"insufficient_funds":   CodeInsufficientFunds,
	"unknown_item":         CodeUnknownItem,
	"payout_failed":        CodePayoutFailed,
}

// errorFor classifies an execution error.
func errorFor(id any, err error) Response {
	kind := market.Kind(err)
	if code, ok := kindCodes[kind]; ok {
		return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: err.Error(), Kind: kind}}
	}
	switch {
	case errors.Is(err, crypto.ErrBadSignature),
		errors.Is(err, vm.ErrChainMismatch),
		errors.Is(err, vm.ErrInvalidNonce),
		errors.Is(err, vm.ErrUnknownTxType):
		return errResponse(id, CodeTxRejected, err.Error())
	case errors.Is(err, registry.ErrItemNotFound):
		return errResponse(id, CodeNotFound, err.Error())
	case errors.Is(err, registry.ErrNotOwner),
		errors.Is(err, registry.ErrNotApproved),
		errors.Is(err, registry.ErrSelfApproval),
		errors.Is(err, registry.ErrItemExists):
		return errResponse(id, CodeRegistryRejected, err.Error())
	}
	return errResponse(id, CodeInternalError, err.Error())
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
