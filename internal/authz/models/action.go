package models

import (
	"encoding/json"

	dErrors "sigil/pkg/domain-errors"
)

// ActionKind discriminates the sign-transaction and sign-message variants of
// an authorization request's action.
type ActionKind string

const (
	ActionSignTransaction ActionKind = "signTransaction"
	ActionSignMessage     ActionKind = "signMessage"
)

// Action is the tagged union of things a requester can ask to have signed.
// Each variant carries only the fields its kind needs; the union is closed,
// decoders reject unknown kinds.
type Action interface {
	Kind() ActionKind
	Validate() error
}

// TransactionRequest describes the transaction a requester wants signed.
type TransactionRequest struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Value   string `json:"value,omitempty"`
	Data    string `json:"data,omitempty"`
	ChainID int64  `json:"chainId"`
}

// SignTransaction asks for a signature over a blockchain transaction.
type SignTransaction struct {
	ResourceID         string             `json:"resourceId"`
	TransactionRequest TransactionRequest `json:"transactionRequest"`
	Nonce              int64              `json:"nonce"`
}

func (SignTransaction) Kind() ActionKind { return ActionSignTransaction }

func (a SignTransaction) Validate() error {
	if a.ResourceID == "" {
		return dErrors.New(dErrors.CodeValidation, "resourceId is required")
	}
	if a.TransactionRequest.From == "" {
		return dErrors.New(dErrors.CodeValidation, "transactionRequest.from is required")
	}
	if a.TransactionRequest.ChainID <= 0 {
		return dErrors.New(dErrors.CodeValidation, "transactionRequest.chainId must be positive")
	}
	return nil
}

// SignMessage asks for a signature over an arbitrary message.
type SignMessage struct {
	ResourceID string `json:"resourceId"`
	Message    string `json:"message"`
	Nonce      int64  `json:"nonce"`
}

func (SignMessage) Kind() ActionKind { return ActionSignMessage }

func (a SignMessage) Validate() error {
	if a.ResourceID == "" {
		return dErrors.New(dErrors.CodeValidation, "resourceId is required")
	}
	if a.Message == "" {
		return dErrors.New(dErrors.CodeValidation, "message is required")
	}
	return nil
}

// actionEnvelope is the wire and storage form of an Action. The "action"
// discriminator is embedded alongside the variant fields, never nested.
type actionEnvelope struct {
	Action ActionKind `json:"action"`

	ResourceID         string              `json:"resourceId"`
	Nonce              int64               `json:"nonce"`
	TransactionRequest *TransactionRequest `json:"transactionRequest,omitempty"`
	Message            string              `json:"message,omitempty"`
}

// EncodeAction renders an Action into its JSON envelope.
func EncodeAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "action is required")
	}
	var env actionEnvelope
	switch v := a.(type) {
	case SignTransaction:
		tr := v.TransactionRequest
		env = actionEnvelope{
			Action:             ActionSignTransaction,
			ResourceID:         v.ResourceID,
			Nonce:              v.Nonce,
			TransactionRequest: &tr,
		}
	case SignMessage:
		env = actionEnvelope{
			Action:     ActionSignMessage,
			ResourceID: v.ResourceID,
			Nonce:      v.Nonce,
			Message:    v.Message,
		}
	default:
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown action variant %T", a)
	}
	return json.Marshal(env)
}

// DecodeAction parses a JSON envelope back into its Action variant. Unknown
// action kinds are a decode error for that record, never silently skipped.
func DecodeAction(raw []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed action payload")
	}
	switch env.Action {
	case ActionSignTransaction:
		if env.TransactionRequest == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "signTransaction requires transactionRequest")
		}
		return SignTransaction{
			ResourceID:         env.ResourceID,
			TransactionRequest: *env.TransactionRequest,
			Nonce:              env.Nonce,
		}, nil
	case ActionSignMessage:
		return SignMessage{
			ResourceID: env.ResourceID,
			Message:    env.Message,
			Nonce:      env.Nonce,
		}, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown action kind %q", env.Action)
	}
}
