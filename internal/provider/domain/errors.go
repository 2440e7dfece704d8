package domain

import "errors"

var (
	// ErrConfigurationMissing means gateway credentials are absent or
	// rejected. Operator misconfiguration, not a session failure; never
	// retried automatically.
	ErrConfigurationMissing = errors.New("provider_configuration_missing")

	// ErrRemoteUnavailable covers network failures and 5xx responses.
	// Persisted session state stays untouched; the next poll retries.
	ErrRemoteUnavailable = errors.New("provider_unavailable")

	// ErrRemoteNotFound is a 404 from the gateway. On delete it is
	// treated as success.
	ErrRemoteNotFound = errors.New("provider_resource_not_found")

	ErrUnknownProvider = errors.New("unknown_provider")
	ErrInvalidConfig   = errors.New("invalid_provider_config")
)
