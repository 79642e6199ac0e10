package ecotrend

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	CLIENT_ID = "ecotrend"

	PROVIDER_URL             = "https://keycloak.ista.com/realms/eed-prod/protocol/openid-connect/"
	API_URL_BASE             = "https://api.prod.eed.ista.com/"
	REDIRECT_URI             = "https://ecotrend.ista.de/login-redirect"
	POST_LOGOUT_REDIRECT_URI = "https://ecotrend.ista.de"

	DEMO_USER_ACCOUNT = "demo@ista.de"

	RESPONSE_MODE = "fragment"
	RESPONSE_TYPE = "code"
	SCOPE         = oidc.ScopeOpenID
)

// Reading types delivered by the consumptions endpoint.
const (
	TypeHeating   = "heating"
	TypeWarmwater = "warmwater"
	TypeWater     = "water"
)

// Smiley codes of the year-over-year cost comparison.
const (
	SmileyHappy = "HAPPY"
	SmileyEqual = "EQUAL"
	SmileyMad   = "MAD"
)

// Config overrides the fixed ista endpoints and login behaviour. The zero
// value selects the production endpoints.
type Config struct {
	ProviderURL           string // OIDC endpoint base, with trailing slash
	APIURL                string // resource API base, with trailing slash
	ClientID              string
	RedirectURI           string
	PostLogoutRedirectURI string
	MaxLoginAttempts      int
	LoginRetryDelay       time.Duration
}

func (c *Config) setDefaults() {
	if c.ProviderURL == "" {
		c.ProviderURL = PROVIDER_URL
	}
	if c.APIURL == "" {
		c.APIURL = API_URL_BASE
	}
	if c.ClientID == "" {
		c.ClientID = CLIENT_ID
	}
	if c.RedirectURI == "" {
		c.RedirectURI = REDIRECT_URI
	}
	if c.PostLogoutRedirectURI == "" {
		c.PostLogoutRedirectURI = POST_LOGOUT_REDIRECT_URI
	}
	if c.MaxLoginAttempts == 0 {
		c.MaxLoginAttempts = 3
	}
	if c.LoginRetryDelay == 0 {
		c.LoginRetryDelay = time.Second
	}
}

type TokenResponse struct {
	oauth2.Token
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	IDToken          string `json:"id_token"`
	NotBeforePolicy  int    `json:"not-before-policy"`
	SessionState     string `json:"session_state"`
	Scope            string `json:"scope"`
}

// DemoTokenResponse is the camelCase variant issued by the demo-user endpoints.
type DemoTokenResponse struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresIn  int64  `json:"accessTokenExpiresIn"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresIn int64  `json:"refreshTokenExpiresIn"`
}

// Numeric decodes values the API delivers either as JSON numbers or as
// locale-formatted strings with a comma decimal separator ("12,5").
type Numeric float64

func (n *Numeric) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return err
		}
		*n = Numeric(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Numeric(f)
	return nil
}

type Account struct {
	FirstName                        string            `json:"firstName"`
	LastName                         string            `json:"lastName"`
	Email                            string            `json:"email"`
	KeycloakID                       string            `json:"keycloakId"`
	Country                          string            `json:"country"`
	Locale                           string            `json:"locale"`
	Authcode                         string            `json:"authcode"`
	Tos                              string            `json:"tos"`
	TosUpdated                       string            `json:"tosUpdated"`
	Privacy                          string            `json:"privacy"`
	MobileNumber                     string            `json:"mobileNumber"`
	TransitionMobileNumber           string            `json:"transitionMobileNumber"`
	UnconfirmedPhoneNumber           string            `json:"unconfirmedPhoneNumber"`
	Enabled                          bool              `json:"enabled"`
	ConsumptionUnitUuids             []string          `json:"consumptionUnitUuids"`
	ResidentTimeRangeUuids           []string          `json:"residentTimeRangeUuids"`
	Ads                              bool              `json:"ads"`
	Marketing                        bool              `json:"marketing"`
	FcmToken                         string            `json:"fcmToken"`
	BetaPhase                        string            `json:"betaPhase"`
	NotificationMethod               string            `json:"notificationMethod"`
	EmailConfirmed                   bool              `json:"emailConfirmed"`
	IsDemo                           bool              `json:"isDemo"`
	UserGroup                        string            `json:"userGroup"`
	MobileLoginStatus                string            `json:"mobileLoginStatus"`
	ResidentAndConsumptionUuidsMap   map[string]string `json:"residentAndConsumptionUuidsMap"`
	ActiveConsumptionUnit            string            `json:"activeConsumptionUnit"`
	SupportCode                      string            `json:"supportCode"`
	NotificationMethodEmailConfirmed bool              `json:"notificationMethodEmailConfirmed"`
}

type MonthYear struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

type AverageConsumption struct {
	AverageConsumptionValue                 Numeric `json:"averageConsumptionValue"`
	ResidentConsumptionValue                Numeric `json:"residentConsumptionValue"`
	AverageConsumptionPercentage            int     `json:"averageConsumptionPercentage"`
	ResidentConsumptionPercentage           int     `json:"residentConsumptionPercentage"`
	AdditionalAverageConsumptionValue       Numeric `json:"additionalAverageConsumptionValue"`
	AdditionalResidentConsumptionValue      Numeric `json:"additionalResidentConsumptionValue"`
	AdditionalAverageConsumptionPercentage  int     `json:"additionalAverageConsumptionPercentage"`
	AdditionalResidentConsumptionPercentage int     `json:"additionalResidentConsumptionPercentage"`
}

type ComparedConsumption struct {
	LastYearValue      *Numeric   `json:"lastYearValue"`
	Period             *MonthYear `json:"period"`
	Smiley             string     `json:"smiley"`
	ComparedPercentage *Numeric   `json:"comparedPercentage"`
	ComparedValue      *Numeric   `json:"comparedValue"`
}

type Reading struct {
	Type                string               `json:"type"`
	Value               *Numeric             `json:"value"`
	Unit                string               `json:"unit"`
	AdditionalValue     *Numeric             `json:"additionalValue"`
	AdditionalUnit      string               `json:"additionalUnit"`
	Estimated           bool                 `json:"estimated"`
	ComparedConsumption *ComparedConsumption `json:"comparedConsumption"`
	ComparedCost        *ComparedConsumption `json:"comparedCost"`
	AverageConsumption  *AverageConsumption  `json:"averageConsumption"`
}

type CostEntry struct {
	Type         string               `json:"type"`
	Value        *Numeric             `json:"value"`
	Unit         string               `json:"unit"`
	Estimated    bool                 `json:"estimated"`
	ComparedCost *ComparedConsumption `json:"comparedCost"`
}

// Period is one billing month of the consumptions endpoint. Consumption
// periods carry readings, cost periods carry costsByEnergyType.
type Period struct {
	Date              MonthYear   `json:"date"`
	DocumentNumber    *string     `json:"documentNumber,omitempty"`
	Exception         any         `json:"exception,omitempty"`
	IsSCEedBasic      bool        `json:"isSCEedBasic,omitempty"`
	Readings          []Reading   `json:"readings,omitempty"`
	CostsByEnergyType []CostEntry `json:"costsByEnergyType,omitempty"`
}

type ConsumptionsResponse struct {
	ConsumptionUnitID           string          `json:"consumptionUnitId"`
	Consumptions                []Period        `json:"consumptions"`
	Costs                       []Period        `json:"costs"`
	ConsumptionsBillingPeriods  json.RawMessage `json:"consumptionsBillingPeriods,omitempty"`
	CostsBillingPeriods         json.RawMessage `json:"costsBillingPeriods,omitempty"`
	CO2Emissions                json.RawMessage `json:"co2Emissions,omitempty"`
	CO2EmissionsBillingPeriods  json.RawMessage `json:"co2EmissionsBillingPeriods,omitempty"`
	Resident                    json.RawMessage `json:"resident,omitempty"`
	IsSCEedBasicForCurrentMonth bool            `json:"isSCEedBasicForCurrentMonth,omitempty"`
	NonEEDBasicStartDate        any             `json:"nonEEDBasicStartDate,omitempty"`
}

type ConsumptionUnitAddress struct {
	Street                string `json:"street"`
	HouseNumber           string `json:"houseNumber"`
	PostalCode            string `json:"postalCode"`
	City                  string `json:"city"`
	Country               string `json:"country"`
	Floor                 string `json:"floor"`
	PropertyNumber        string `json:"propertyNumber"`
	ConsumptionUnitNumber string `json:"consumptionUnitNumber"`
	IDAtCustomerUser      string `json:"idAtCustomerUser"`
}

type ConsumptionUnit struct {
	ID      string                 `json:"id"`
	Address ConsumptionUnitAddress `json:"address"`
	Booked  struct {
		Cost bool `json:"cost"`
		CO2  bool `json:"co2"`
	} `json:"booked"`
	PropertyNumber string `json:"propertyNumber"`
}

type ConsumptionUnitDetails struct {
	ConsumptionUnits []ConsumptionUnit `json:"consumptionUnits"`
	CoBranding       any               `json:"coBranding"`
}
