package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// TOTPIssuer is the issuer label the server uses in provisioning URIs.
const TOTPIssuer = "Secure Job Platform"

// Registration is the payload of POST /auth/register.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordResetConfirm struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

// identityResponse mirrors the GET /auth/me JSON response.
type identityResponse struct {
	ID         int64            `json:"id"`
	Email      string           `json:"email"`
	FullName   string           `json:"full_name"`
	Role       string           `json:"role"`
	IsActive   bool             `json:"is_active"`
	IsVerified bool             `json:"is_verified"`
	Suspended  bool             `json:"is_suspended"`
	PublicKey  *string          `json:"public_key"`
	CreatedAt  string           `json:"created_at"`
	UpdatedAt  string           `json:"updated_at"`
	Profile    *profileResponse `json:"profile"`
}

func (r *identityResponse) toIdentity(logger *slog.Logger) Identity {
	id := Identity{
		ID:        r.ID,
		Email:     r.Email,
		FullName:  r.FullName,
		Role:      Role(r.Role),
		Active:    r.IsActive,
		Verified:  r.IsVerified,
		Suspended: r.Suspended,
		CreatedAt: parseTimestamp(r.CreatedAt, logger),
		UpdatedAt: parseTimestamp(r.UpdatedAt, logger),
	}

	if r.PublicKey != nil {
		id.PublicKey = *r.PublicKey
	}

	if r.Profile != nil {
		p := r.Profile.toProfile(logger)
		id.Profile = &p
	}

	return id
}

type totpEnableResponse struct {
	Message        string `json:"message"`
	Secret         string `json:"secret"`
	QRCode         string `json:"qr_code"`
	ManualEntryKey string `json:"manual_entry_key"`
}

// Register submits a new account. The server sends a one-time code to the
// email address; the account is unusable until VerifyOTP succeeds.
func (c *Client) Register(ctx context.Context, reg Registration) (string, error) {
	c.logger.Info("registering account")

	return c.messageCall(ctx, "/auth/register", reg)
}

// VerifyOTP confirms the registration code and returns the first credential pair.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*oauth2.Token, error) {
	c.logger.Info("verifying registration code")

	return c.tokenCall(ctx, "/auth/verify-otp", otpRequest{Email: email, OTP: code}, nil)
}

// ResendOTP asks the server to issue a fresh registration code.
func (c *Client) ResendOTP(ctx context.Context, email string) (string, error) {
	c.logger.Info("requesting new registration code")

	return c.messageCall(ctx, "/auth/resend-otp", emailRequest{Email: email})
}

// Login exchanges email and password for a credential pair.
func (c *Client) Login(ctx context.Context, email, password string) (*oauth2.Token, error) {
	c.logger.Info("logging in")

	return c.tokenCall(ctx, "/auth/login", loginRequest{Email: email, Password: password}, nil)
}

// LoginTOTP logs in an account that has second-factor authentication enabled.
// The server takes all three values as query parameters.
func (c *Client) LoginTOTP(ctx context.Context, email, password, code string) (*oauth2.Token, error) {
	c.logger.Info("logging in with second factor")

	q := url.Values{}
	q.Set("email", email)
	q.Set("password", password)
	q.Set("totp_code", code)

	return c.tokenCall(ctx, "/auth/login-totp", nil, q)
}

// Refresh exchanges a refresh credential for a new pair. It is always sent
// anonymously so a rejected refresh never recurses into another renewal.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	c.logger.Debug("refreshing access credential")

	return c.tokenCall(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, nil)
}

// tokenCall posts an anonymous request whose response is a credential pair.
func (c *Client) tokenCall(ctx context.Context, path string, body any, query url.Values) (*oauth2.Token, error) {
	req, err := jsonRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	req.Query = query
	req.Anonymous = true

	var tr tokenResponse
	if err := c.doJSON(ctx, req, &tr); err != nil {
		return nil, err
	}

	return tr.toToken(c.logger)
}

// messageCall posts an anonymous request whose response is {"message": ...}.
func (c *Client) messageCall(ctx context.Context, path string, body any) (string, error) {
	req, err := jsonRequest(http.MethodPost, path, body)
	if err != nil {
		return "", err
	}

	req.Anonymous = true

	var mr messageResponse
	if err := c.doJSON(ctx, req, &mr); err != nil {
		return "", err
	}

	return mr.Message, nil
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*Identity, error) {
	c.logger.Info("fetching authenticated account")

	var ir identityResponse
	if err := c.doJSON(ctx, Request{Method: http.MethodGet, Path: "/auth/me"}, &ir); err != nil {
		return nil, err
	}

	id := ir.toIdentity(c.logger)

	c.logger.Debug("fetched account",
		slog.Int64("id", id.ID),
		slog.String("role", string(id.Role)),
	)

	return &id, nil
}

// EnableTOTP starts second-factor enrollment. The secret is stored server-side
// but not active until VerifyTOTP succeeds.
func (c *Client) EnableTOTP(ctx context.Context) (*TOTPSetup, error) {
	c.logger.Info("starting second-factor enrollment")

	var er totpEnableResponse
	if err := c.doJSON(ctx, Request{Method: http.MethodPost, Path: "/auth/totp/enable"}, &er); err != nil {
		return nil, err
	}

	secret := er.Secret
	if secret == "" {
		secret = er.ManualEntryKey
	}

	if secret == "" {
		return nil, fmt.Errorf("api: second-factor enrollment response has no secret")
	}

	png, err := decodeQRCode(er.QRCode)
	if err != nil {
		// The secret alone is enough to enroll; the image is a convenience.
		c.logger.Warn("ignoring undecodable QR code", slog.String("error", err.Error()))
	}

	return &TOTPSetup{Secret: secret, QRCodePNG: png, Message: er.Message}, nil
}

// VerifyTOTP confirms enrollment with a code from the authenticator app.
func (c *Client) VerifyTOTP(ctx context.Context, code string) error {
	c.logger.Info("verifying second-factor enrollment")

	q := url.Values{}
	q.Set("token", code)

	return c.doJSON(ctx, Request{Method: http.MethodPost, Path: "/auth/totp/verify", Query: q}, nil)
}

// DisableTOTP turns off second-factor authentication. The server requires
// the account password as confirmation.
func (c *Client) DisableTOTP(ctx context.Context, password string) error {
	c.logger.Info("disabling second factor")

	q := url.Values{}
	q.Set("password", password)

	return c.doJSON(ctx, Request{Method: http.MethodPost, Path: "/auth/totp/disable", Query: q}, nil)
}

// RequestPasswordReset asks for a password reset code. The server answers
// the same way whether or not the address exists.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	c.logger.Info("requesting password reset")

	return c.messageCall(ctx, "/auth/password-reset", emailRequest{Email: email})
}

// ConfirmPasswordReset sets a new password using the emailed code.
func (c *Client) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) (string, error) {
	c.logger.Info("confirming password reset")

	return c.messageCall(ctx, "/auth/password-reset/confirm", passwordResetConfirm{
		Email:       email,
		OTP:         code,
		NewPassword: newPassword,
	})
}

// ProvisioningURI builds the otpauth:// URI an authenticator app expects for
// secret and account, matching the issuer label the server uses.
func ProvisioningURI(secret, account string) string {
	label := url.PathEscape(TOTPIssuer + ":" + account)

	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", TOTPIssuer)

	return "otpauth://totp/" + label + "?" + q.Encode()
}
