package ecotrend

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/evcc-io/evcc/util"
)

// Connection is the ista EcoTrend API client.
type Connection struct {
	identity *Identity
	log      *util.Logger
	conf     Config

	email       string
	password    string
	otpCallback func() string

	account *Account
}

// NewConnection creates a new EcoTrend connection for the given credentials.
// The demo account email selects the token endpoints that need no password.
// A nil config selects the production endpoints.
func NewConnection(log *util.Logger, email, password string, conf *Config) (*Connection, error) {
	identity, err := NewIdentity(log, conf)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		identity: identity,
		log:      log,
		conf:     identity.conf,
		email:    email,
		password: password,
	}

	return c, nil
}

// SetOTPCallback registers a callback invoked when the provider demands an
// OTP code during login or re-authentication.
func (c *Connection) SetOTPCallback(callback func() string) {
	c.otpCallback = callback
}

// Identity exposes the underlying authenticator, e.g. to obtain a token
// source.
func (c *Connection) Identity() *Identity {
	return c.identity
}

// Login authenticates against the provider and fetches the account snapshot.
func (c *Connection) Login(otp string) error {
	var err error
	if c.email == DEMO_USER_ACCOUNT {
		err = c.identity.DemoLogin()
	} else {
		err = c.identity.Login(c.email, c.password, otp, c.otpCallback)
	}

	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return &LoginError{Message: "login failed due to an authorization failure, please verify your email and password", Err: err}
		}
		return &ServerError{Message: "login failed due to a request exception, please try again later", Err: err}
	}

	return c.setAccount()
}

// Logout invalidates the provider-side session and clears the token state.
func (c *Connection) Logout() error {
	return c.identity.Logout()
}

func (c *Connection) setAccount() error {
	var account Account
	if err := c.identity.DoAuthJSON(http.MethodGet, c.conf.APIURL+"account", nil, &account); err != nil {
		return c.apiError("loading account information failed", err)
	}

	c.account = &account
	return nil
}

// Account returns the account snapshot of the last successful login.
func (c *Connection) Account() (*Account, error) {
	if c.account == nil {
		return nil, &LoginError{Message: "account data unavailable, please login first"}
	}
	return c.account, nil
}

// UUIDs returns the consumption unit uuids registered in the account.
func (c *Connection) UUIDs() ([]string, error) {
	account, err := c.Account()
	if err != nil {
		return nil, err
	}

	uuids := make([]string, 0, len(account.ResidentAndConsumptionUuidsMap))
	for _, uuid := range account.ResidentAndConsumptionUuidsMap {
		uuids = append(uuids, uuid)
	}
	return uuids, nil
}

// SupportCode returns the account's support code.
func (c *Connection) SupportCode() (string, error) {
	account, err := c.Account()
	if err != nil {
		return "", err
	}
	return account.SupportCode, nil
}

// ConsumptionData fetches the raw consumption and cost tree for a consumption
// unit. An empty uuid selects the account's active unit.
func (c *Connection) ConsumptionData(unitUUID string) (*ConsumptionsResponse, error) {
	if unitUUID == "" {
		account, err := c.Account()
		if err != nil {
			return nil, err
		}
		unitUUID = account.ActiveConsumptionUnit
	}

	params := url.Values{
		"consumptionUnitUuid": {unitUUID},
	}

	var res ConsumptionsResponse
	if err := c.identity.DoAuthJSON(http.MethodGet, c.conf.APIURL+"consumptions", params, &res); err != nil {
		var se *ServerError
		if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest {
			return nil, &InvalidUnitError{UUID: unitUUID}
		}
		return nil, c.apiError("loading consumption data failed", err)
	}

	return &res, nil
}

// ConsumptionUnitDetails fetches the consumption unit details list.
func (c *Connection) ConsumptionUnitDetails() (*ConsumptionUnitDetails, error) {
	var res ConsumptionUnitDetails
	if err := c.identity.DoAuthJSON(http.MethodGet, c.conf.APIURL+"menu", nil, &res); err != nil {
		return nil, c.apiError("loading consumption unit details failed", err)
	}
	return &res, nil
}

// UserInfo fetches the provider's user profile. Demo sessions have no
// provider-side profile and return an empty result.
func (c *Connection) UserInfo() (map[string]any, error) {
	if c.identity.IsDemoLogin() {
		return map[string]any{}, nil
	}

	var res map[string]any
	if err := c.identity.DoAuthJSON(http.MethodGet, c.conf.ProviderURL+"userinfo", nil, &res); err != nil {
		return nil, c.apiError("loading user info failed", err)
	}
	return res, nil
}

// apiError maps authenticator and transport failures onto the error kinds the
// resource API layer exposes.
func (c *Connection) apiError(op string, err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		return &LoginError{Message: op + " due to an authorization failure", Err: err}
	}

	var pe *ParserError
	if errors.As(err, &pe) {
		return &ParserError{Message: op + " due to an error parsing the request response", Err: err}
	}

	var se *ServerError
	if errors.As(err, &se) && se.StatusCode != 0 {
		return &ServerError{StatusCode: se.StatusCode, Message: op + " due to a server error", Err: err}
	}

	return &ServerError{Message: op + " due to a request exception", Err: err}
}
