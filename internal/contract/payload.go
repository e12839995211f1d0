package contract

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
)

type transferRequestPayload struct {
	UserID *string              `json:"userId"`
	Amount *jsoniter.RawMessage `json:"amount"`
}

// ParseTransferRequests decodes a [{"userId": ..., "amount": ...}] list.
// Every element must carry both fields with the right types.
func ParseTransferRequests(raw string) ([]ledger.TransferRequest, error) {
	var payload []transferRequestPayload
	if err := payloadCodec.UnmarshalFromString(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: transfer requests: %v", ledger.ErrMalformedRequest, err)
	}
	return toTransferRequests(payload)
}

// ParseBatchTransfer decodes the two-element [requests, expirable] batch transfer payload.
func ParseBatchTransfer(raw string) ([]ledger.TransferRequest, bool, error) {
	var envelope []jsoniter.RawMessage
	if err := payloadCodec.UnmarshalFromString(raw, &envelope); err != nil {
		return nil, false, fmt.Errorf("%w: batch transfer: %v", ledger.ErrMalformedRequest, err)
	}
	if len(envelope) != 2 {
		return nil, false, fmt.Errorf("%w: batch transfer expects [requests, expirable], got %d elements", ledger.ErrMalformedRequest, len(envelope))
	}
	var payload []transferRequestPayload
	if err := payloadCodec.Unmarshal(envelope[0], &payload); err != nil {
		return nil, false, fmt.Errorf("%w: batch transfer requests: %v", ledger.ErrMalformedRequest, err)
	}
	var expirable bool
	if err := payloadCodec.Unmarshal(envelope[1], &expirable); err != nil {
		return nil, false, fmt.Errorf("%w: batch transfer expirable flag: %v", ledger.ErrMalformedRequest, err)
	}
	requests, err := toTransferRequests(payload)
	if err != nil {
		return nil, false, err
	}
	return requests, expirable, nil
}

// ParseIDs decodes a JSON list of user ids.
func ParseIDs(raw string) ([]string, error) {
	var ids []string
	if err := payloadCodec.UnmarshalFromString(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: ids: %v", ledger.ErrMalformedRequest, err)
	}
	if ids == nil {
		return nil, fmt.Errorf("%w: ids must be a list", ledger.ErrMalformedRequest)
	}
	return ids, nil
}

func toTransferRequests(payload []transferRequestPayload) ([]ledger.TransferRequest, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: transfer requests must be a list", ledger.ErrMalformedRequest)
	}
	requests := make([]ledger.TransferRequest, 0, len(payload))
	for index, element := range payload {
		if element.UserID == nil || element.Amount == nil {
			return nil, fmt.Errorf("%w: request %d needs userId and amount", ledger.ErrMalformedRequest, index)
		}
		amount, err := parseRequestAmount(*element.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: request %d: %v", ledger.ErrMalformedRequest, index, err)
		}
		requests = append(requests, ledger.TransferRequest{UserID: *element.UserID, Amount: amount})
	}
	return requests, nil
}

// parseRequestAmount accepts only a bare JSON integer literal; quoted numbers are rejected.
func parseRequestAmount(raw jsoniter.RawMessage) (int64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || (text[0] != '-' && (text[0] < '0' || text[0] > '9')) {
		return 0, fmt.Errorf("amount %s is not a JSON number", text)
	}
	amount, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %s is not a 64-bit integer", text)
	}
	return amount, nil
}
