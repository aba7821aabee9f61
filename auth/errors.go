package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when the vendor rejects the user
	// or password (code 60091). Terminal: retrying with the same
	// credentials cannot succeed.
	ErrInvalidCredentials = errors.New("auth: invalid user or password")

	// ErrLoginFailed covers login and device validation failures that
	// carry no more specific code.
	ErrLoginFailed = errors.New("auth: login failed")

	// ErrOTP covers failures while sending or verifying an OTP code.
	ErrOTP = errors.New("auth: otp error")

	// ErrNoOTPChallenge is returned when SendOTP or VerifyOTP is called
	// without a captured challenge.
	ErrNoOTPChallenge = errors.New("auth: no otp challenge pending")

	// ErrUnknownPhone is returned when the selected phone id is not part
	// of the captured challenge.
	ErrUnknownPhone = errors.New("auth: phone id not offered for otp")

	// ErrDeviceUnauthorized is returned on vendor code 10010: the device
	// cannot be authorized through the OTP flow at all.
	ErrDeviceUnauthorized = errors.New("auth: device unauthorized")

	// ErrDeviceAuthorization is returned when the vendor still requires
	// device authorization after a successful OTP verification. The device
	// will be challenged again on every login until the vendor authorizes
	// it permanently.
	ErrDeviceAuthorization = errors.New("auth: device authorization incomplete")

	// ErrSessionExpired is returned when a persisted session is too old to
	// restore.
	ErrSessionExpired = errors.New("auth: session expired")
)
