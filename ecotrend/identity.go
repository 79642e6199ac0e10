package ecotrend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/evcc-io/evcc/util"
	"github.com/evcc-io/evcc/util/oauth"
	"github.com/evcc-io/evcc/util/request"
	"golang.org/x/oauth2"
)

// maxFormSteps bounds the number of intermediate Keycloak pages during
// credential submission (two-step password flows re-render the form once).
const maxFormSteps = 3

// Identity drives the Keycloak login, OTP, token exchange, refresh and
// re-authentication protocol and owns the token state. All token state is
// guarded by a single mutex so concurrent callers trigger at most one
// refresh or re-authentication per session.
type Identity struct {
	*request.Helper
	log  *util.Logger
	conf Config

	mu          sync.Mutex
	username    string
	password    string
	otpCallback func() string
	demo        bool

	accessToken   string
	accessExpiry  time.Time
	refreshToken  string
	refreshExpiry time.Time
	idToken       string
}

// NewIdentity creates a Keycloak identity for the ista EcoTrend provider.
// A nil config selects the production endpoints.
func NewIdentity(log *util.Logger, conf *Config) (*Identity, error) {
	client := request.NewHelper(log)
	client.Jar, _ = cookiejar.New(nil)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	var c Config
	if conf != nil {
		c = *conf
	}
	c.setDefaults()

	v := &Identity{
		Helper: client,
		log:    log,
		conf:   c,
	}

	return v, nil
}

// Login runs the full login flow with username, password and an optional OTP
// code. The otpCallback is invoked when the provider demands an OTP and no
// code was supplied; it is retained for later re-authentication.
func (v *Identity) Login(username, password, otp string, otpCallback func() string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if otpCallback != nil {
		v.otpCallback = otpCallback
	}

	return v.login(username, password, otp)
}

func (v *Identity) login(username, password, otp string) error {
	v.username = username
	v.password = password
	v.demo = false

	form, err := v.initiateAuthRequest()
	if err != nil {
		return err
	}

	redirect, otpForm, err := v.submitCredentials(form, username, password)
	if err != nil {
		return err
	}

	if otpForm != nil {
		code := otp
		if code == "" && v.otpCallback != nil {
			code = v.otpCallback()
		}
		if code == "" {
			return &AuthError{Message: "OTP code is required but not provided"}
		}

		if redirect, err = v.submitOTP(otpForm, code, ""); err != nil {
			return err
		}
	}

	code, err := extractAuthorizationCode(redirect)
	if err != nil {
		return err
	}

	token, err := v.requestTokens(url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {v.conf.ClientID},
		"code":         {code},
		"redirect_uri": {v.conf.RedirectURI},
	})
	if err != nil {
		return err
	}

	v.updateTokens(token)
	return nil
}

// initiateAuthRequest fetches the provider's authorization page and extracts
// the login form.
func (v *Identity) initiateAuthRequest() (*loginForm, error) {
	params := url.Values{
		"response_mode": {RESPONSE_MODE},
		"response_type": {RESPONSE_TYPE},
		"client_id":     {v.conf.ClientID},
		"scope":         {SCOPE},
		"redirect_uri":  {v.conf.RedirectURI},
	}

	req, err := request.New(http.MethodGet, v.conf.ProviderURL+"auth?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.Do(req)
	if err != nil {
		return nil, &AuthError{Message: "failed to retrieve authentication page", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: "failed to retrieve authentication page"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Message: "failed to read authentication page", Err: err}
	}

	form, err := extractForm(body)
	if err != nil {
		return nil, &AuthError{Message: "failed to extract login form", Err: err}
	}
	if form.ID != FormLogin {
		return nil, &AuthError{Message: "authentication page did not contain the login form"}
	}

	return form, nil
}

// submitCredentials posts username and password to the login form. It returns
// either the final redirect URL or the OTP form when the provider demands a
// second factor. Two-step password pages are handled as a bounded loop.
func (v *Identity) submitCredentials(form *loginForm, username, password string) (string, *loginForm, error) {
	for step := 0; step < maxFormSteps; step++ {
		form.Fields.Set("username", username)
		form.Fields.Set("password", password)

		resp, err := v.postForm(form)
		if err != nil {
			return "", nil, &AuthError{Message: "failed to submit login credentials", Err: err}
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode == http.StatusFound && location != "" {
			resp.Body.Close()
			return location, nil, nil
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return "", nil, &AuthError{StatusCode: resp.StatusCode, Message: "failed to submit login credentials"}
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", nil, &AuthError{Message: "failed to read login response", Err: err}
		}

		next, err := extractForm(body)
		if err != nil {
			return "", nil, &AuthError{Message: "failed to submit login credentials", Err: err}
		}

		// the provider demands an OTP code
		if next.ID == FormOTP {
			return "", next, nil
		}

		// same login page again, the credentials were rejected
		if next.Fields.Has("username") {
			return "", nil, &AuthError{Message: "failed to login, please verify your login credentials"}
		}

		// two-step flow, the page only asks for the password again
		if next.Fields.Has("password") {
			form = next
			continue
		}

		return "", nil, &AuthError{Message: "unexpected login form"}
	}

	return "", nil, &AuthError{Message: "too many intermediate login pages"}
}

// submitOTP posts the OTP code. The otpDevice selects the enrolled factor if
// more than one is registered.
func (v *Identity) submitOTP(form *loginForm, otp, otpDevice string) (string, error) {
	form.Fields.Set("otp", otp)
	if otpDevice != "" && form.Fields.Has("selectedCredentialId") {
		form.Fields.Set("selectedCredentialId", otpDevice)
	}

	resp, err := v.postForm(form)
	if err != nil {
		return "", &AuthError{Message: "failed to submit OTP", Err: err}
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode == http.StatusFound && location != "" {
		return location, nil
	}

	return "", &AuthError{StatusCode: resp.StatusCode, Message: "OTP was invalid"}
}

func (v *Identity) postForm(form *loginForm) (*http.Response, error) {
	req, err := request.New(http.MethodPost, form.Action, strings.NewReader(form.Fields.Encode()), request.URLEncoding)
	if err != nil {
		return nil, err
	}
	return v.Do(req)
}

// extractAuthorizationCode pulls the code parameter out of the redirect URL
// fragment.
func extractAuthorizationCode(redirect string) (string, error) {
	parsed, err := url.Parse(redirect)
	if err != nil {
		return "", &AuthError{Message: "invalid redirect URL", Err: err}
	}

	params, err := url.ParseQuery(parsed.Fragment)
	if err != nil {
		return "", &AuthError{Message: "invalid redirect URL fragment", Err: err}
	}

	code := params.Get("code")
	if code == "" {
		return "", &AuthError{Message: "authorization code not found in redirect URL fragment"}
	}

	return code, nil
}

// requestTokens posts to the token endpoint for both the authorization_code
// and refresh_token grants.
func (v *Identity) requestTokens(data url.Values) (*TokenResponse, error) {
	req, err := request.New(http.MethodPost, v.conf.ProviderURL+"token", strings.NewReader(data.Encode()), request.URLEncoding)
	if err != nil {
		return nil, err
	}

	resp, err := v.Do(req)
	if err != nil {
		return nil, &ServerError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServerError{Message: "failed to read token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ke struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &ke)

		msg := ke.ErrorDescription
		if msg == "" {
			msg = "token request rejected"
		}
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: msg}
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &ParserError{Message: "failed to decode token response", Err: err}
	}

	return &token, nil
}

func (v *Identity) updateTokens(token *TokenResponse) {
	v.accessToken = token.AccessToken
	v.accessExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	v.refreshToken = token.RefreshToken
	v.refreshExpiry = time.Now().Add(time.Duration(token.RefreshExpiresIn) * time.Second)
	v.idToken = token.IDToken
}

func (v *Identity) updateDemoTokens(token *DemoTokenResponse) {
	v.accessToken = token.AccessToken
	v.accessExpiry = time.Now().Add(time.Duration(token.AccessTokenExpiresIn) * time.Second)
	v.refreshToken = token.RefreshToken
	v.refreshExpiry = time.Now().Add(time.Duration(token.RefreshTokenExpiresIn) * time.Second)
	v.idToken = ""
}

// AccessToken returns the current access token, or empty once its expiry
// instant has passed.
func (v *Identity) AccessToken() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentAccessToken()
}

func (v *Identity) currentAccessToken() string {
	if !v.accessExpiry.IsZero() && time.Now().After(v.accessExpiry) {
		v.accessToken = ""
	}
	return v.accessToken
}

func (v *Identity) currentRefreshToken() string {
	if !v.refreshExpiry.IsZero() && time.Now().After(v.refreshExpiry) {
		v.refreshToken = ""
	}
	return v.refreshToken
}

func (v *Identity) invalidateAccessToken() {
	v.accessToken = ""
	v.accessExpiry = time.Time{}
}

func (v *Identity) invalidateRefreshToken() {
	v.refreshToken = ""
	v.refreshExpiry = time.Time{}
}

// IsDemoLogin indicates a demo-account session.
func (v *Identity) IsDemoLogin() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.demo
}

// DemoLogin fetches tokens from the demo user token endpoint, bypassing the
// Keycloak flow entirely.
func (v *Identity) DemoLogin() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.demoLogin()
}

func (v *Identity) demoLogin() error {
	v.demo = true

	req, err := request.New(http.MethodGet, v.conf.APIURL+"demo-user-token", nil, request.AcceptJSON)
	if err != nil {
		return err
	}

	var token DemoTokenResponse
	if err := v.DoJSON(req, &token); err != nil {
		var se request.StatusError
		if errors.As(err, &se) {
			return &AuthError{StatusCode: se.StatusCode(), Message: "demo token request rejected"}
		}
		return &ServerError{Message: "demo token request failed", Err: err}
	}

	v.updateDemoTokens(&token)
	return nil
}

func (v *Identity) demoRefreshToken(refreshToken string) error {
	data, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return err
	}

	req, err := request.New(http.MethodPost, v.conf.APIURL+"demo-user-refresh-token", strings.NewReader(string(data)), request.JSONEncoding)
	if err != nil {
		return err
	}

	var token DemoTokenResponse
	if err := v.DoJSON(req, &token); err != nil {
		var se request.StatusError
		if errors.As(err, &se) {
			return &AuthError{StatusCode: se.StatusCode(), Message: "demo token refresh rejected"}
		}
		return &ServerError{Message: "demo token refresh failed", Err: err}
	}

	v.updateDemoTokens(&token)
	return nil
}

// RefreshAccessToken exchanges the stored refresh token for a new token pair.
// A 401 invalidates the stored refresh token so a later EnsureValidToken
// escalates to re-authentication instead of retrying a dead token.
func (v *Identity) RefreshAccessToken() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refreshAccessToken()
}

func (v *Identity) refreshAccessToken() error {
	refreshToken := v.currentRefreshToken()
	if refreshToken == "" {
		return &AuthError{StatusCode: http.StatusUnauthorized, Message: "no refresh token available"}
	}

	if v.demo {
		if err := v.demoRefreshToken(refreshToken); err != nil {
			var ae *AuthError
			if errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized {
				v.invalidateRefreshToken()
			}
			return err
		}
		return nil
	}

	token, err := v.requestTokens(url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {v.conf.ClientID},
		"refresh_token": {refreshToken},
	})
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized {
			v.invalidateRefreshToken()
		}
		return err
	}

	v.updateTokens(token)
	return nil
}

// EnsureValidToken refreshes the access token if needed and falls back to
// re-authentication when the refresh token itself is rejected.
func (v *Identity) EnsureValidToken() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ensureValidToken()
}

func (v *Identity) ensureValidToken() error {
	if v.currentAccessToken() != "" {
		return nil
	}

	err := v.refreshAccessToken()
	if err == nil {
		return nil
	}

	var ae *AuthError
	if errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized {
		v.log.WARN.Println("refresh token invalid, attempting re-authentication")
		return v.reAuthenticate()
	}

	return err
}

// reAuthenticate replays the full login with the stored credentials, or
// requests a fresh demo token for demo sessions.
func (v *Identity) reAuthenticate() error {
	if v.username != "" && v.password != "" {
		var err error
		for attempt := 1; attempt <= v.conf.MaxLoginAttempts; attempt++ {
			if err = v.login(v.username, v.password, ""); err == nil {
				return nil
			}
			v.log.DEBUG.Printf("re-authentication attempt %d failed: %v", attempt, err)
			time.Sleep(v.conf.LoginRetryDelay)
		}
		return &AuthError{Message: "re-authentication failed after maximum attempts", Err: err}
	}

	if v.demo {
		return v.demoLogin()
	}

	return &AuthError{Message: "re-authentication failed, no login credentials available"}
}

// DoAuthJSON performs an authenticated JSON request. On a 401 it invalidates
// the access token, forces one more EnsureValidToken cycle and retries
// exactly once; a second 401 is fatal.
func (v *Identity) DoAuthJSON(method, uri string, params url.Values, res any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureValidToken(); err != nil {
		return err
	}

	status, body, err := v.doBearer(method, uri, params)
	if err != nil {
		return &ServerError{Message: "request failed", Err: err}
	}

	if status == http.StatusUnauthorized {
		v.log.DEBUG.Println("access token rejected, attempting to refresh or re-authenticate")
		v.invalidateAccessToken()
		if err := v.ensureValidToken(); err != nil {
			return err
		}

		if status, body, err = v.doBearer(method, uri, params); err != nil {
			return &ServerError{Message: "request failed", Err: err}
		}
		if status == http.StatusUnauthorized {
			return &AuthError{StatusCode: status, Message: "unauthorized access, re-authentication failed"}
		}
	}

	if status < 200 || status >= 300 {
		return &ServerError{StatusCode: status, Message: "unexpected response status"}
	}

	if err := json.Unmarshal(body, res); err != nil {
		return &ParserError{Message: "failed to decode response", Err: err}
	}

	return nil
}

func (v *Identity) doBearer(method, uri string, params url.Values) (int, []byte, error) {
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}

	req, err := request.New(method, uri, nil, request.AcceptJSON)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+v.currentAccessToken())

	resp, err := v.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

// Logout ends the provider-side session and clears all token state. Demo
// sessions have no provider-side session, so the id token hint is omitted.
func (v *Identity) Logout() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	params := url.Values{
		"client_id": {v.conf.ClientID},
	}
	if v.conf.PostLogoutRedirectURI != "" {
		params.Set("post_logout_redirect_uri", v.conf.PostLogoutRedirectURI)
	}
	if v.idToken != "" {
		params.Set("id_token_hint", v.idToken)
	}

	req, err := request.New(http.MethodGet, v.conf.ProviderURL+"logout?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := v.Do(req)
	if err != nil {
		return &ServerError{Message: "logout request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusOK {
		return &AuthError{StatusCode: resp.StatusCode, Message: "failed to logout"}
	}

	v.invalidateAccessToken()
	v.invalidateRefreshToken()
	v.idToken = ""
	return nil
}

// RefreshToken implements oauth.TokenRefresher for use with
// oauth.RefreshTokenSource.
func (v *Identity) RefreshToken(token *oauth2.Token) (*oauth2.Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if token != nil && token.RefreshToken != "" && token.RefreshToken != v.refreshToken {
		v.refreshToken = token.RefreshToken
		v.refreshExpiry = time.Time{}
	}

	if err := v.refreshAccessToken(); err != nil {
		return nil, err
	}

	return v.oauthToken(), nil
}

func (v *Identity) oauthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  v.accessToken,
		TokenType:    "Bearer",
		RefreshToken: v.refreshToken,
		Expiry:       v.accessExpiry,
	}
}

// TokenSource returns a self-refreshing token source backed by this identity.
func (v *Identity) TokenSource() (oauth2.TokenSource, error) {
	v.mu.Lock()
	token := v.oauthToken()
	v.mu.Unlock()

	ts := oauth2.ReuseTokenSource(token, oauth.RefreshTokenSource(token, v))
	_, err := ts.Token()
	return ts, err
}
