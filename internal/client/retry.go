// Package client builds the retry-wrapped HTTP client used by the GraphQL
// transport.
package client

import (
	"fmt"
	"net/http"
	"time"

	httpclient "github.com/appleboy/go-httpclient"
	retry "github.com/appleboy/go-httpretry"
)

// CreateRetryClient creates an HTTP client with retry support for calls to
// the vendor cloud API. Transient failures (network errors, 5xx, 429) are
// retried with exponential backoff; vendor-level errors arrive as 200
// responses and are never retried here. A non-nil jar keeps the vendor's
// session cookies across requests.
func CreateRetryClient(
	timeout time.Duration,
	insecureSkipVerify bool,
	maxRetries int,
	retryDelay, maxRetryDelay time.Duration,
	jar http.CookieJar,
) (*retry.Client, error) {
	// The vendor authenticates through request headers built per call, so
	// the underlying client carries no static credentials.
	client, err := httpclient.NewAuthClient(
		"none",
		"",
		httpclient.WithTimeout(timeout),
		httpclient.WithInsecureSkipVerify(insecureSkipVerify),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}
	client.Jar = jar

	// Wrap with retry client
	retryClient, err := retry.NewRealtimeClient(
		retry.WithHTTPClient(client),
		retry.WithMaxRetries(maxRetries),
		retry.WithInitialRetryDelay(retryDelay),
		retry.WithMaxRetryDelay(maxRetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	return retryClient, nil
}
