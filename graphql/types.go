package graphql

import (
	"encoding/json"
	"fmt"
)

// Request is a single GraphQL operation to send to the vendor API.
type Request struct {
	// Op is the operation name, used only for logging and metrics.
	Op string `json:"-"`

	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`

	// Security, when set, is serialized into the Security header of the
	// HTTP request. The OTP verification call is the only one that needs it.
	Security *Security `json:"-"`
}

// Security is the payload of the Security header sent alongside an OTP
// validation request.
type Security struct {
	Token   string `json:"token"`
	Type    string `json:"type"`
	OTPHash string `json:"otpHash"`
}

// Response is the raw GraphQL envelope returned by the API. Exactly one of
// Data and Errors is populated on a well-formed response; transport failures
// are folded into the same shape with a single synthetic error.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []ResponseError `json:"errors,omitempty"`
}

// ResponseError is one entry of the errors array in a GraphQL envelope.
type ResponseError struct {
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`
}

// ErrorData carries the vendor's structured error payload. Most fields are
// only present on authentication errors.
type ErrorData struct {
	Err         string  `json:"err,omitempty"`
	AuthCode    string  `json:"auth-code,omitempty"`
	AuthType    string  `json:"auth-type,omitempty"`
	AuthPhones  []Phone `json:"auth-phones,omitempty"`
	AuthOTPHash string  `json:"auth-otp-hash,omitempty"`
}

// Phone is one entry of the masked phone list offered for OTP delivery.
type Phone struct {
	ID    int    `json:"id"`
	Phone string `json:"phone"`
}

// HasErrors reports whether the envelope carries at least one error.
func (r *Response) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// FirstError returns the first error of the envelope, or nil.
func (r *Response) FirstError() *ResponseError {
	if !r.HasErrors() {
		return nil
	}
	return &r.Errors[0]
}

// ErrorMessage returns the first error message, or the empty string.
func (r *Response) ErrorMessage() string {
	if e := r.FirstError(); e != nil {
		return e.Message
	}
	return ""
}

// ErrorCode returns the vendor error code of the first error. Some responses
// carry the code in the err field, others in auth-code; the first non-empty
// one wins.
func (r *Response) ErrorCode() string {
	e := r.FirstError()
	if e == nil {
		return ""
	}
	if e.Data.Err != "" {
		return e.Data.Err
	}
	return e.Data.AuthCode
}

// DecodeData unmarshals the data object of the envelope into v.
func (r *Response) DecodeData(v any) error {
	if r == nil || len(r.Data) == 0 {
		return fmt.Errorf("graphql: response has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("graphql: decode data: %w", err)
	}
	return nil
}
