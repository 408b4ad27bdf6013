// Package enroll drives credential issuance: registration, one-time code
// verification, login, and optional second-factor enrollment.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jobvault/jobvault/internal/api"
	"github.com/jobvault/jobvault/internal/session"
)

// CodeLength is the number of digits in a one-time code.
const CodeLength = 6

var (
	// ErrWrongState is returned when an operation is invoked from a state
	// that does not allow it.
	ErrWrongState = errors.New("enroll: operation not allowed in current state")

	ErrMissingField = fmt.Errorf("enroll: missing required field: %w", api.ErrValidation)
	ErrInvalidCode  = fmt.Errorf("enroll: code must be %d digits: %w", CodeLength, api.ErrValidation)
)

// State is the enrollment state.
type State int

const (
	Collecting State = iota
	AwaitingVerification
	Authenticated
	SettingUpSecondFactor
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case AwaitingVerification:
		return "awaiting-verification"
	case Authenticated:
		return "authenticated"
	case SettingUpSecondFactor:
		return "second-factor-setup"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backend is the subset of the API the machine calls. *api.Client satisfies it.
type Backend interface {
	Register(ctx context.Context, reg api.Registration) (string, error)
	VerifyOTP(ctx context.Context, email, code string) (*oauth2.Token, error)
	ResendOTP(ctx context.Context, email string) (string, error)
	Login(ctx context.Context, email, password string) (*oauth2.Token, error)
	LoginTOTP(ctx context.Context, email, password, code string) (*oauth2.Token, error)
	Me(ctx context.Context) (*api.Identity, error)
	EnableTOTP(ctx context.Context) (*api.TOTPSetup, error)
	VerifyTOTP(ctx context.Context, code string) error
	DisableTOTP(ctx context.Context, password string) error
}

// Session is the part of the session coordinator the machine needs.
// *session.Coordinator satisfies it.
type Session interface {
	Establish(ctx context.Context, tok *oauth2.Token) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// PendingRegistration is what the machine keeps between a successful
// registration and its verification. The password is never retained.
type PendingRegistration struct {
	Email     string
	FullName  string
	CreatedAt time.Time
}

// SecondFactorSetup is the material an authenticator app needs.
type SecondFactorSetup struct {
	Secret          string
	QRCodePNG       []byte
	ProvisioningURI string
}

// Machine is the enrollment state machine. A Machine is not safe for
// concurrent use; enrollment steps are user-driven and sequential.
type Machine struct {
	backend Backend
	session Session
	logger  *slog.Logger
	nowFunc func() time.Time

	state   State
	pending *PendingRegistration
	account string // email of the authenticated account, when known
}

// NewMachine returns a Machine in the Collecting state.
func NewMachine(backend Backend, sess Session, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Machine{backend: backend, session: sess, logger: logger, nowFunc: time.Now}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Pending returns a copy of the pending registration, if any.
func (m *Machine) Pending() (PendingRegistration, bool) {
	if m.pending == nil {
		return PendingRegistration{}, false
	}

	return *m.pending, true
}

// Restore moves a fresh machine to Authenticated when the session already
// holds credentials, e.g. from an earlier process.
func (m *Machine) Restore(ctx context.Context) error {
	snap, err := m.session.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("enroll: reading session: %w", err)
	}

	if snap.Status == session.Authenticated && m.state == Collecting {
		m.transition(Authenticated)
	}

	return nil
}

// AwaitVerification enters AwaitingVerification for an address registered
// earlier, so a code can be submitted without registering again.
func (m *Machine) AwaitVerification(email string) error {
	if m.state != Collecting {
		return m.wrongState("await verification")
	}

	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email", ErrMissingField)
	}

	m.pending = &PendingRegistration{Email: email, CreatedAt: m.nowFunc()}
	m.transition(AwaitingVerification)

	return nil
}

// Abandon drops a pending registration and returns to Collecting.
func (m *Machine) Abandon() {
	if m.state != AwaitingVerification {
		return
	}

	m.pending = nil
	m.transition(Collecting)
}

// SubmitRegistration registers a new account. All three fields must be
// non-blank; everything else is validated by the server and forwarded raw.
// On failure the machine stays in Collecting.
func (m *Machine) SubmitRegistration(ctx context.Context, email, password, fullName string) error {
	if m.state != Collecting {
		return m.wrongState("register")
	}

	if err := requireFields(map[string]string{
		"email": email, "password": password, "full_name": fullName,
	}, "email", "password", "full_name"); err != nil {
		return err
	}

	if _, err := m.backend.Register(ctx, api.Registration{
		Email:    email,
		Password: password,
		FullName: fullName,
	}); err != nil {
		m.logger.Info("registration rejected", slog.String("reason", api.Message(err)))
		return err
	}

	m.pending = &PendingRegistration{Email: email, FullName: fullName, CreatedAt: m.nowFunc()}
	m.transition(AwaitingVerification)

	return nil
}

// SubmitVerificationCode verifies the emailed code. On success the issued
// credential pair is handed to the session and the machine is Authenticated.
// On failure it stays in AwaitingVerification and may be retried.
func (m *Machine) SubmitVerificationCode(ctx context.Context, email, code string) error {
	if m.state != AwaitingVerification {
		return m.wrongState("verify code")
	}

	if email == "" && m.pending != nil {
		email = m.pending.Email
	}

	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email", ErrMissingField)
	}

	if !validCode(code) {
		return ErrInvalidCode
	}

	tok, err := m.backend.VerifyOTP(ctx, email, code)
	if err != nil {
		return err
	}

	if err := m.session.Establish(ctx, tok); err != nil {
		return fmt.Errorf("enroll: %w", err)
	}

	m.pending = nil
	m.account = email
	m.transition(Authenticated)

	return nil
}

// ResendCode asks the server for a new verification code. No expiry is
// tracked locally; the server decides whether an old code is still valid.
func (m *Machine) ResendCode(ctx context.Context) error {
	if m.state != AwaitingVerification || m.pending == nil {
		return m.wrongState("resend code")
	}

	_, err := m.backend.ResendOTP(ctx, m.pending.Email)

	return err
}

// Login authenticates an existing account.
func (m *Machine) Login(ctx context.Context, email, password string) error {
	return m.login(ctx, email, password, "")
}

// LoginWithSecondFactor authenticates an account that has a second factor enabled.
func (m *Machine) LoginWithSecondFactor(ctx context.Context, email, password, code string) error {
	if !validCode(code) {
		return ErrInvalidCode
	}

	return m.login(ctx, email, password, code)
}

func (m *Machine) login(ctx context.Context, email, password, code string) error {
	if m.state != Collecting {
		return m.wrongState("login")
	}

	if err := requireFields(map[string]string{"email": email, "password": password},
		"email", "password"); err != nil {
		return err
	}

	var (
		tok *oauth2.Token
		err error
	)

	if code != "" {
		tok, err = m.backend.LoginTOTP(ctx, email, password, code)
	} else {
		tok, err = m.backend.Login(ctx, email, password)
	}

	if err != nil {
		return err
	}

	if err := m.session.Establish(ctx, tok); err != nil {
		return fmt.Errorf("enroll: %w", err)
	}

	m.account = email
	m.transition(Authenticated)

	return nil
}

// EnableSecondFactor starts second-factor enrollment. Session credentials
// are not touched.
func (m *Machine) EnableSecondFactor(ctx context.Context) (*SecondFactorSetup, error) {
	if m.state != Authenticated {
		return nil, m.wrongState("enable second factor")
	}

	setup, err := m.backend.EnableTOTP(ctx)
	if err != nil {
		return nil, m.checkSession(err)
	}

	if m.account == "" {
		id, err := m.backend.Me(ctx)
		if err != nil {
			return nil, m.checkSession(err)
		}

		m.account = id.Email
	}

	m.transition(SettingUpSecondFactor)

	return &SecondFactorSetup{
		Secret:          setup.Secret,
		QRCodePNG:       setup.QRCodePNG,
		ProvisioningURI: api.ProvisioningURI(setup.Secret, m.account),
	}, nil
}

// AwaitSecondFactor enters SettingUpSecondFactor for an enrollment started
// earlier, so the code can be confirmed without generating a new secret.
func (m *Machine) AwaitSecondFactor() error {
	if m.state != Authenticated {
		return m.wrongState("await second factor")
	}

	m.transition(SettingUpSecondFactor)

	return nil
}

// VerifySecondFactor confirms enrollment with a code from the authenticator
// app and returns to Authenticated. On failure the machine stays in
// SettingUpSecondFactor.
func (m *Machine) VerifySecondFactor(ctx context.Context, code string) error {
	if m.state != SettingUpSecondFactor {
		return m.wrongState("verify second factor")
	}

	if !validCode(code) {
		return ErrInvalidCode
	}

	if err := m.backend.VerifyTOTP(ctx, code); err != nil {
		return m.checkSession(err)
	}

	m.transition(Authenticated)

	return nil
}

// DisableSecondFactor turns the second factor off. The server requires
// the account password.
func (m *Machine) DisableSecondFactor(ctx context.Context, password string) error {
	if m.state != Authenticated {
		return m.wrongState("disable second factor")
	}

	if password == "" {
		return fmt.Errorf("%w: password", ErrMissingField)
	}

	if err := m.backend.DisableTOTP(ctx, password); err != nil {
		return m.checkSession(err)
	}

	return nil
}

// checkSession drops back to Collecting when err shows the session is gone.
func (m *Machine) checkSession(err error) error {
	if errors.Is(err, session.ErrSessionExpired) || errors.Is(err, api.ErrNotAuthenticated) {
		m.account = ""
		m.transition(Collecting)
	}

	return err
}

func (m *Machine) transition(to State) {
	if m.state == to {
		return
	}

	m.logger.Debug("enrollment state change",
		slog.String("from", m.state.String()),
		slog.String("to", to.String()),
	)

	m.state = to
}

func (m *Machine) wrongState(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrWrongState, op, m.state)
}

// requireFields reports the first blank field, in order.
func requireFields(values map[string]string, order ...string) error {
	for _, name := range order {
		if strings.TrimSpace(values[name]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}

	return nil
}

// validCode reports whether code is exactly CodeLength ASCII digits.
func validCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}

	for i := range len(code) {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}

	return true
}
