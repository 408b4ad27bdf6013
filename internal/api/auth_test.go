package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedJWT returns an HS256 token whose exp claim is exp.
func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return tok
}

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()

	var m map[string]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))

	return m
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/register", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		assert.Equal(t, map[string]string{
			"email": "a@b.com", "password": "Abcd1234", "full_name": "A B",
		}, body)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Registration successful.","email":"a@b.com"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	msg, err := c.Register(context.Background(), Registration{Email: "a@b.com", Password: "Abcd1234", FullName: "A B"})
	require.NoError(t, err)
	assert.Equal(t, "Registration successful.", msg)
}

func TestRegister_ServerReasonVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Email already registered"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	_, err := c.Register(context.Background(), Registration{Email: "a@b.com", Password: "x", FullName: "y"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, "Email already registered", Message(err))
}

func TestVerifyOTP_ReturnsPairWithExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	access := signedJWT(t, exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/verify-otp", r.URL.Path)
		assert.Equal(t, map[string]string{"email": "a@b.com", "otp": "123456"}, decodeBody(t, r))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": access, "refresh_token": "refresh-1", "token_type": "bearer",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	tok, err := c.VerifyOTP(context.Background(), "a@b.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(exp))
}

func TestLogin_OpaqueTokenHasNoExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		_, _ = w.Write([]byte(`{"access_token":"opaque","refresh_token":"r"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	tok, err := c.Login(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok.AccessToken)
	assert.Equal(t, "bearer", tok.TokenType, "token type defaults to bearer")
	assert.True(t, tok.Expiry.IsZero())
}

func TestLogin_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"refresh_token":"r"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).Login(context.Background(), "a@b.com", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access_token")
}

func TestLoginTOTP_UsesQueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login-totp", r.URL.Path)
		assert.Equal(t, "a@b.com", r.URL.Query().Get("email"))
		assert.Equal(t, "p&w=1", r.URL.Query().Get("password"))
		assert.Equal(t, "654321", r.URL.Query().Get("totp_code"))

		_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","token_type":"bearer"}`))
	}))
	defer srv.Close()

	tok, err := newTestClient(t, srv.URL, nil).LoginTOTP(context.Background(), "a@b.com", "p&w=1", "654321")
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
}

func TestRefresh_IsAnonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, map[string]string{"refresh_token": "r-1"}, decodeBody(t, r))

		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid refresh token"}`))
	}))
	defer srv.Close()

	auth := &fakeAuth{current: "a", renewed: "b"}

	_, err := newTestClient(t, srv.URL, auth).Refresh(context.Background(), "r-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), auth.reauths.Load(), "a rejected refresh never recurses")
}

func TestMe_NormalizesNaiveTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{
			"id": 7, "email": "a@b.com", "full_name": "A B", "role": "recruiter",
			"is_active": true, "is_verified": true, "is_suspended": false,
			"public_key": null,
			"created_at": "2024-05-06T07:08:09.123456",
			"updated_at": "2024-05-06T07:08:09+02:00",
			"profile": {"id": 3, "user_id": 7, "headline": "Engineer", "bio": null,
				"privacy_show_email": true, "privacy_show_phone": false,
				"privacy_show_location": false, "profile_view_count": 12,
				"allow_profile_view_tracking": true,
				"created_at": "2024-05-06T07:08:09", "updated_at": "2024-05-06T07:08:09"}
		}`))
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv.URL, &fakeAuth{current: "tok"}).Me(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), id.ID)
	assert.Equal(t, RoleRecruiter, id.Role)
	assert.True(t, id.Verified)
	assert.Empty(t, id.PublicKey)
	assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC), id.CreatedAt)
	assert.Equal(t, time.Date(2024, 5, 6, 5, 8, 9, 0, time.UTC), id.UpdatedAt)

	require.NotNil(t, id.Profile)
	assert.Equal(t, "Engineer", id.Profile.Headline)
	assert.Empty(t, id.Profile.Bio)
	assert.Equal(t, int64(12), id.Profile.ViewCount)
}

func TestEnableTOTP(t *testing.T) {
	png := []byte("\x89PNG fake")

	tests := []struct {
		name   string
		qrCode string
	}{
		{"bare base64", base64.StdEncoding.EncodeToString(png)},
		{"data URI", "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/totp/enable", r.URL.Path)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"message": "scan", "secret": "JBSWY3DPEHPK3PXP", "qr_code": tt.qrCode,
					"manual_entry_key": "JBSWY3DPEHPK3PXP",
				})
			}))
			defer srv.Close()

			setup, err := newTestClient(t, srv.URL, &fakeAuth{current: "tok"}).EnableTOTP(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "JBSWY3DPEHPK3PXP", setup.Secret)
			assert.Equal(t, png, setup.QRCodePNG)
		})
	}
}

func TestVerifyAndDisableTOTP_QueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/totp/verify":
			assert.Equal(t, "123456", r.URL.Query().Get("token"))
			_, _ = w.Write([]byte(`{"message":"ok","totp_enabled":true}`))
		case "/auth/totp/disable":
			assert.Equal(t, "secret pw", r.URL.Query().Get("password"))
			_, _ = w.Write([]byte(`{"message":"ok","totp_enabled":false}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeAuth{current: "tok"})

	require.NoError(t, c.VerifyTOTP(context.Background(), "123456"))
	require.NoError(t, c.DisableTOTP(context.Background(), "secret pw"))
}

func TestPasswordReset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)

		switch r.URL.Path {
		case "/auth/password-reset":
			assert.Equal(t, map[string]string{"email": "a@b.com"}, body)
			_, _ = w.Write([]byte(`{"message":"sent"}`))
		case "/auth/password-reset/confirm":
			assert.Equal(t, map[string]string{"email": "a@b.com", "otp": "111111", "new_password": "N3wpass!"}, body)
			_, _ = w.Write([]byte(`{"message":"done"}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	msg, err := c.RequestPasswordReset(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "sent", msg)

	msg, err = c.ConfirmPasswordReset(context.Background(), "a@b.com", "111111", "N3wpass!")
	require.NoError(t, err)
	assert.Equal(t, "done", msg)
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("JBSWY3DPEHPK3PXP", "a@b.com")

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", u.Scheme)
	assert.Equal(t, "totp", u.Host)
	assert.Equal(t, "/Secure Job Platform:a@b.com", u.Path)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", u.Query().Get("secret"))
	assert.Equal(t, TOTPIssuer, u.Query().Get("issuer"))
}

func TestTokenExpiry_NotAJWT(t *testing.T) {
	assert.True(t, TokenExpiry("opaque-value", nil).IsZero())
}
