// Package auth implements the vendor's login flow: password login, device
// validation, the SMS OTP challenge for unrecognized devices, and session
// persistence across restarts.
package auth

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-securitas/securitas/device"
	"github.com/go-securitas/securitas/graphql"
	"github.com/go-securitas/securitas/internal/metrics"
)

// State is the position of a Session in the authentication flow.
type State int

const (
	StateUnauthenticated State = iota
	StateLoggingIn
	StateDeviceValidationRequired
	StateOTPRequired
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoggingIn:
		return "logging_in"
	case StateDeviceValidationRequired:
		return "device_validation_required"
	case StateOTPRequired:
		return "otp_required"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// OTPChallenge is the phone list and hash captured from a device validation
// error. The user picks a phone, receives an SMS and enters the code.
type OTPChallenge struct {
	Phones  []graphql.Phone
	OTPHash string
}

// LoginResult mirrors the vendor's login payload.
type LoginResult struct {
	Hash                    string
	RefreshToken            string
	Lang                    string
	Legals                  bool
	ChangePassword          bool
	NeedDeviceAuthorization bool
}

// LoginOutcome is the result of a login attempt that did not fail outright.
// Exactly one field is set: either the session is authenticated, or the
// vendor demands an OTP round first.
type LoginOutcome struct {
	Authenticated *LoginResult
	OTPRequired   *OTPChallenge
}

// OK reports whether the login completed with a usable session.
func (o *LoginOutcome) OK() bool {
	return o != nil && o.Authenticated != nil
}

// NeedsOTP reports whether the vendor demanded an OTP challenge.
func (o *LoginOutcome) NeedsOTP() bool {
	return o != nil && o.OTPRequired != nil
}

// Session drives authentication for one account against one transport
// client. It is safe for concurrent use.
type Session struct {
	user     string
	password string
	client   *graphql.Client
	device   *device.Manager
	recorder metrics.Recorder
	logger   *log.Logger

	mu        sync.Mutex
	state     State
	token     Token
	refresh   string
	challenge *OTPChallenge
	lastLogin loginTokenData
}

// Option configures a Session.
type Option func(*Session)

// WithDeviceManager overrides the device identity manager. By default the
// session builds one for its user with the default storage directory.
func WithDeviceManager(m *device.Manager) Option {
	return func(s *Session) {
		if m != nil {
			s.device = m
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger. Defaults to the standard logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates a Session for the given account on top of client.
func NewSession(user, password string, client *graphql.Client, opts ...Option) *Session {
	s := &Session{
		user:     user,
		password: password,
		client:   client,
		recorder: metrics.NewNoopMetrics(),
		logger:   log.Default(),
		state:    StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.device == nil {
		s.device = device.NewManager(user)
	}
	return s
}

// Wire payloads.

type loginPayload struct {
	Login loginTokenData `json:"xSLoginToken"`
}

type loginTokenData struct {
	Res                     string `json:"res"`
	Msg                     string `json:"msg"`
	Hash                    string `json:"hash"`
	Lang                    string `json:"lang"`
	Legals                  bool   `json:"legals"`
	ChangePassword          bool   `json:"changePassword"`
	NeedDeviceAuthorization bool   `json:"needDeviceAuthorization"`
	RefreshToken            string `json:"refreshToken"`
}

type validatePayload struct {
	Validate validateDeviceData `json:"xSValidateDevice"`
}

type validateDeviceData struct {
	Res                     string `json:"res"`
	Msg                     string `json:"msg"`
	Hash                    string `json:"hash"`
	RefreshToken            string `json:"refreshToken"`
	Legals                  bool   `json:"legals"`
	NeedDeviceAuthorization bool   `json:"needDeviceAuthorization"`
}

type sendOTPPayload struct {
	SendOTP struct {
		Res string `json:"res"`
		Msg string `json:"msg"`
	} `json:"xSSendOtp"`
}

// Login authenticates the session. When the device is already authorized
// the outcome is Authenticated; when the vendor demands an SMS code the
// outcome is OTPRequired and the caller continues with SendOTP and
// VerifyOTP. Credential rejection and other failures come back as errors.
func (s *Session) Login(ctx context.Context) (*LoginOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx)
}

func (s *Session) loginLocked(ctx context.Context) (*LoginOutcome, error) {
	id := s.device.Ensure()
	s.state = StateLoggingIn
	s.client.SetUser(s.user)

	vars := id.LoginVariables(graphql.SessionID, s.client.Country(), graphql.Callby, s.client.Lang())
	vars["user"] = s.user
	vars["password"] = s.password

	s.logger.Printf("auth: logging in as %s (device %s)", s.user, id.UUID)

	resp, err := s.client.Execute(ctx, &graphql.Request{
		Op:        graphql.OpLogin,
		Query:     graphql.LoginMutation,
		Variables: vars,
	})
	if err != nil {
		s.state = StateUnauthenticated
		s.recorder.RecordLogin(metrics.LoginResultError)
		return nil, err
	}
	if resp.HasErrors() {
		s.state = StateUnauthenticated
		msg := resp.ErrorMessage()
		if resp.ErrorCode() == graphql.CodeInvalidCredentials {
			s.recorder.RecordLogin(metrics.LoginResultInvalidCredentials)
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
		}
		s.recorder.RecordLogin(metrics.LoginResultError)
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, msg)
	}

	var payload loginPayload
	if err := resp.DecodeData(&payload); err != nil {
		s.state = StateUnauthenticated
		s.recorder.RecordLogin(metrics.LoginResultError)
		return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	data := payload.Login
	if data.Res != graphql.ResOK {
		s.state = StateUnauthenticated
		s.recorder.RecordLogin(metrics.LoginResultError)
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, orUnknown(data.Msg))
	}

	s.applyLoginLocked(data)

	if data.NeedDeviceAuthorization {
		s.state = StateDeviceValidationRequired
		s.logger.Printf("auth: device authorization required for %s", s.user)
		return s.validateDeviceLocked(ctx)
	}

	s.state = StateAuthenticated
	s.recorder.RecordLogin(metrics.LoginResultSuccess)
	s.logger.Printf("auth: login successful for %s", s.user)
	return &LoginOutcome{Authenticated: resultFromLogin(data)}, nil
}

// ValidateDevice registers this device with the vendor. It is normally run
// as part of Login when the vendor flags the device, but can be called on
// its own to re-register.
func (s *Session) ValidateDevice(ctx context.Context) (*LoginOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateDeviceLocked(ctx)
}

func (s *Session) validateDeviceLocked(ctx context.Context) (*LoginOutcome, error) {
	id := s.device.Ensure()

	s.logger.Printf("auth: validating device %s", id.UUID)

	resp, err := s.client.Execute(ctx, &graphql.Request{
		Op:        graphql.OpValidateDevice,
		Query:     graphql.ValidateDeviceMutation,
		Variables: id.ValidationVariables(),
	})
	if err != nil {
		s.state = StateUnauthenticated
		s.recorder.RecordLogin(metrics.LoginResultError)
		return nil, err
	}

	if !resp.HasErrors() {
		var payload validatePayload
		if err := resp.DecodeData(&payload); err != nil {
			s.state = StateUnauthenticated
			s.recorder.RecordLogin(metrics.LoginResultError)
			return nil, fmt.Errorf("%w: device validation: %v", ErrLoginFailed, err)
		}
		data := payload.Validate
		if data.Res != graphql.ResOK {
			s.state = StateUnauthenticated
			s.recorder.RecordLogin(metrics.LoginResultError)
			return nil, fmt.Errorf("%w: device validation failed: %s", ErrLoginFailed, orUnknown(data.Msg))
		}

		s.applyTokenLocked(data.Hash, data.RefreshToken)
		s.state = StateAuthenticated
		s.recorder.RecordLogin(metrics.LoginResultSuccess)
		s.logger.Printf("auth: device validation successful for %s", s.user)
		return &LoginOutcome{Authenticated: resultFromValidate(data)}, nil
	}

	errData := resp.FirstError().Data
	switch {
	case errData.AuthType == graphql.AuthTypeOTP || errData.AuthCode == graphql.CodeOTPRequired:
		if len(errData.AuthPhones) == 0 || errData.AuthOTPHash == "" {
			s.state = StateUnauthenticated
			s.recorder.RecordLogin(metrics.LoginResultError)
			return nil, fmt.Errorf("%w: challenge missing phones or hash", ErrOTP)
		}
		s.challenge = &OTPChallenge{
			Phones:  append([]graphql.Phone(nil), errData.AuthPhones...),
			OTPHash: errData.AuthOTPHash,
		}
		s.state = StateOTPRequired
		s.recorder.RecordLogin(metrics.LoginResultOTPRequired)
		s.logger.Printf("auth: otp required for %s (%d phones offered)", s.user, len(s.challenge.Phones))
		return &LoginOutcome{OTPRequired: s.challenge}, nil

	case errData.AuthCode == graphql.CodeDeviceUnauthorized:
		s.state = StateUnauthenticated
		s.recorder.RecordLogin(metrics.LoginResultError)
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnauthorized, resp.ErrorMessage())

	default:
		s.state = StateUnauthenticated
		s.recorder.RecordLogin(metrics.LoginResultError)
		return nil, fmt.Errorf("%w: device validation failed: %s (auth-code: %s)",
			ErrLoginFailed, resp.ErrorMessage(), errData.AuthCode)
	}
}

// SendOTP asks the vendor to text a code to one of the challenge phones.
func (s *Session) SendOTP(ctx context.Context, phoneID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.challenge == nil {
		return ErrNoOTPChallenge
	}
	var selected *graphql.Phone
	for i := range s.challenge.Phones {
		if s.challenge.Phones[i].ID == phoneID {
			selected = &s.challenge.Phones[i]
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("%w: %d", ErrUnknownPhone, phoneID)
	}

	s.logger.Printf("auth: sending otp to phone %d (%s)", selected.ID, selected.Phone)

	resp, err := s.client.Execute(ctx, &graphql.Request{
		Op:    graphql.OpSendOTP,
		Query: graphql.SendOTPMutation,
		Variables: map[string]any{
			"recordId": phoneID,
			"otpHash":  s.challenge.OTPHash,
		},
	})
	if err != nil {
		s.recorder.RecordOTPSent(false)
		return err
	}
	if resp.HasErrors() {
		s.recorder.RecordOTPSent(false)
		return fmt.Errorf("%w: send failed: %s", ErrOTP, resp.ErrorMessage())
	}

	var payload sendOTPPayload
	if err := resp.DecodeData(&payload); err != nil {
		s.recorder.RecordOTPSent(false)
		return fmt.Errorf("%w: send failed: %v", ErrOTP, err)
	}
	if payload.SendOTP.Res != graphql.ResOK {
		s.recorder.RecordOTPSent(false)
		return fmt.Errorf("%w: send failed: %s", ErrOTP, orUnknown(payload.SendOTP.Msg))
	}

	s.recorder.RecordOTPSent(true)
	s.logger.Printf("auth: otp sent: %s", payload.SendOTP.Msg)
	return nil
}

// VerifyOTP submits the SMS code. On success the vendor issues fresh
// tokens; the session then re-runs the login to pick up the post-OTP
// tokens, keeping the verification tokens if that re-login fails.
func (s *Session) VerifyOTP(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.challenge == nil {
		return ErrNoOTPChallenge
	}
	id := s.device.Ensure()

	s.logger.Printf("auth: verifying otp for %s", s.user)

	resp, err := s.client.Execute(ctx, &graphql.Request{
		Op:        graphql.OpValidateDevice,
		Query:     graphql.ValidateDeviceMutation,
		Variables: id.ValidationVariables(),
		Security: &graphql.Security{
			Token:   code,
			Type:    graphql.AuthTypeOTP,
			OTPHash: s.challenge.OTPHash,
		},
	})
	if err != nil {
		s.recorder.RecordOTPVerification(false)
		return err
	}
	if resp.HasErrors() {
		s.recorder.RecordOTPVerification(false)
		return fmt.Errorf("%w: verification failed: %s", ErrOTP, resp.ErrorMessage())
	}

	var payload validatePayload
	if err := resp.DecodeData(&payload); err != nil {
		s.recorder.RecordOTPVerification(false)
		return fmt.Errorf("%w: verification failed: %v", ErrOTP, err)
	}
	data := payload.Validate
	if data.Res != graphql.ResOK {
		s.recorder.RecordOTPVerification(false)
		return fmt.Errorf("%w: verification failed: %s", ErrOTP, orUnknown(data.Msg))
	}

	if data.NeedDeviceAuthorization {
		s.recorder.RecordOTPVerification(false)
		s.state = StateUnauthenticated
		return ErrDeviceAuthorization
	}

	s.applyTokenLocked(data.Hash, data.RefreshToken)
	s.challenge = nil
	s.recorder.RecordOTPVerification(true)
	s.logger.Printf("auth: otp verification successful for %s", s.user)

	// The verification tokens work, but a fresh login returns longer-lived
	// ones. Failure here is not fatal.
	if err := s.postOTPLoginLocked(ctx); err != nil {
		s.logger.Printf("auth: post-otp login failed, keeping verification tokens: %v", err)
	}

	s.state = StateAuthenticated
	return nil
}

// postOTPLoginLocked re-runs the login mutation after OTP verification.
// Unlike loginLocked it never chains into device validation.
func (s *Session) postOTPLoginLocked(ctx context.Context) error {
	id := s.device.Ensure()

	vars := id.LoginVariables(graphql.SessionID, s.client.Country(), graphql.Callby, s.client.Lang())
	vars["user"] = s.user
	vars["password"] = s.password

	resp, err := s.client.Execute(ctx, &graphql.Request{
		Op:        graphql.OpLogin,
		Query:     graphql.LoginMutation,
		Variables: vars,
	})
	if err != nil {
		return err
	}
	if resp.HasErrors() {
		return fmt.Errorf("%w: %s", ErrLoginFailed, resp.ErrorMessage())
	}

	var payload loginPayload
	if err := resp.DecodeData(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	data := payload.Login
	if data.Res != graphql.ResOK {
		return fmt.Errorf("%w: %s", ErrLoginFailed, orUnknown(data.Msg))
	}

	s.applyLoginLocked(data)
	s.logger.Printf("auth: post-otp login successful for %s", s.user)
	return nil
}

// Phones lists the phones of the captured OTP challenge.
func (s *Session) Phones() []graphql.Phone {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenge == nil {
		return nil
	}
	return append([]graphql.Phone(nil), s.challenge.Phones...)
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the account user.
func (s *Session) User() string {
	return s.user
}

// CurrentToken returns the session token and whether it is still valid.
func (s *Session) CurrentToken() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token.Valid(time.Now())
}

// RefreshToken returns the refresh token from the last login.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

// SetToken installs a token directly, typically from a restored snapshot.
func (s *Session) SetToken(hash string, issuedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = Token{Hash: hash, IssuedAt: issuedAt}
	s.client.SetUser(s.user)
	s.client.SetHash(hash)
	if s.token.Valid(time.Now()) {
		s.state = StateAuthenticated
	} else {
		s.state = StateUnauthenticated
	}
}

// Device returns the device identity manager of this session.
func (s *Session) Device() *device.Manager {
	return s.device
}

func (s *Session) applyLoginLocked(data loginTokenData) {
	s.token = Token{Hash: data.Hash, IssuedAt: time.Now()}
	s.refresh = data.RefreshToken
	s.lastLogin = data
	s.client.SetHash(data.Hash)
	s.client.SetLang(data.Lang)
}

func (s *Session) applyTokenLocked(hash, refreshToken string) {
	s.token = Token{Hash: hash, IssuedAt: time.Now()}
	s.refresh = refreshToken
	s.client.SetHash(hash)
}

func resultFromLogin(data loginTokenData) *LoginResult {
	return &LoginResult{
		Hash:                    data.Hash,
		RefreshToken:            data.RefreshToken,
		Lang:                    data.Lang,
		Legals:                  data.Legals,
		ChangePassword:          data.ChangePassword,
		NeedDeviceAuthorization: data.NeedDeviceAuthorization,
	}
}

func resultFromValidate(data validateDeviceData) *LoginResult {
	return &LoginResult{
		Hash:                    data.Hash,
		RefreshToken:            data.RefreshToken,
		Legals:                  data.Legals,
		NeedDeviceAuthorization: data.NeedDeviceAuthorization,
	}
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
