package graphql

import "errors"

var (
	// ErrNotConnected is returned when Execute is called before Connect or
	// after Close.
	ErrNotConnected = errors.New("graphql: client not connected")

	// ErrTransport wraps network and HTTP level failures. The accompanying
	// Response still carries the failure as a normalized error envelope.
	ErrTransport = errors.New("graphql: transport error")

	// ErrDecode wraps failures to parse the response body as a GraphQL
	// envelope.
	ErrDecode = errors.New("graphql: invalid response")
)
