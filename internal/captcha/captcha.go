// Package captcha verifies CAPTCHA responses during throttled logins.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultSiteverifyURL = "https://www.google.com/recaptcha/api/siteverify"

const defaultTimeout = 15 * time.Second

// ErrFailed is returned when the response is missing or rejected by the
// verification backend. Transport failures surface as distinct errors.
var ErrFailed = errors.New("captcha check failed")

// Verifier checks a client-supplied CAPTCHA response. Invoked only once the
// failed-login threshold is reached.
type Verifier interface {
	Check(ctx context.Context, response string) error
}

// RecaptchaVerifier verifies responses against the reCAPTCHA siteverify API.
type RecaptchaVerifier struct {
	Secret     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewRecaptchaVerifier returns a verifier using the given secret and optional
// endpoint override (used in tests).
func NewRecaptchaVerifier(secret, baseURL string) *RecaptchaVerifier {
	if baseURL == "" {
		baseURL = defaultSiteverifyURL
	}
	return &RecaptchaVerifier{
		Secret:     secret,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Check verifies the response token. A missing or rejected response fails
// with ErrFailed; backend unavailability is reported separately.
func (v *RecaptchaVerifier) Check(ctx context.Context, response string) error {
	if response == "" {
		return ErrFailed
	}

	form := url.Values{}
	form.Set("secret", v.Secret)
	form.Set("response", response)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("captcha: siteverify request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("captcha: siteverify status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("captcha: decode siteverify response: %w", err)
	}
	if !out.Success {
		return ErrFailed
	}
	return nil
}

// Disabled accepts every response. Used in development when no secret is
// configured; config.Load rejects this in production.
type Disabled struct{}

// Check always succeeds.
func (Disabled) Check(ctx context.Context, response string) error {
	return nil
}
