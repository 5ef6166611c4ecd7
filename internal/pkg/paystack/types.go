package paystack

import (
	"bytes"
	"encoding/json"
	"time"
)

// Transaction statuses reported by Paystack.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusOngoing   = "ongoing"
	StatusPending   = "pending"
	StatusReversed  = "reversed"
)

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (e *envelope[T]) ok() (bool, string) { return e.Status, e.Message }

// CustomField is shown on the Paystack dashboard.
type CustomField struct {
	DisplayName  string `json:"display_name"`
	VariableName string `json:"variable_name"`
	Value        string `json:"value"`
}

// Metadata is attached at initialize and echoed back on verify.
type Metadata struct {
	Plan         string        `json:"plan,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
}

// PlanName returns metadata.plan or the "plan" custom field.
func (m Metadata) PlanName() string {
	if m.Plan != "" {
		return m.Plan
	}
	for _, f := range m.CustomFields {
		if f.VariableName == "plan" {
			return f.Value
		}
	}
	return ""
}

// InitializeRequest is the body of POST /transaction/initialize.
type InitializeRequest struct {
	Email       string    `json:"email"`
	AmountKobo  int64     `json:"amount"`
	Reference   string    `json:"reference"`
	Currency    string    `json:"currency,omitempty"`
	CallbackURL string    `json:"callback_url,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// InitializeData is the data block of the initialize answer.
type InitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Customer is the payer as Paystack recorded it.
type Customer struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Transaction is the data block of GET /transaction/verify/:reference.
type Transaction struct {
	ID              int64        `json:"id"`
	Status          string       `json:"status"`
	Reference       string       `json:"reference"`
	AmountKobo      int64        `json:"amount"`
	Currency        string       `json:"currency"`
	GatewayResponse string       `json:"gateway_response"`
	Channel         string       `json:"channel"`
	PaidAt          *time.Time   `json:"paid_at"`
	Customer        Customer     `json:"customer"`
	Metadata        FlexMetadata `json:"metadata"`
}

// Succeeded reports whether the money was captured.
func (t *Transaction) Succeeded() bool {
	return t.Status == StatusSuccess
}

// FlexMetadata tolerates Paystack sending "" or null instead of an object.
type FlexMetadata struct {
	Metadata
}

func (f *FlexMetadata) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		f.Metadata = Metadata{}
		return nil
	}
	return json.Unmarshal(trimmed, &f.Metadata)
}
