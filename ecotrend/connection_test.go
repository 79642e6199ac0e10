package ecotrend

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/evcc-io/evcc/util"
)

const accountJSON = `{
	"firstName": "Max",
	"lastName": "Istaman",
	"email": "max.istaman@sample.com",
	"keycloakId": "uuid",
	"country": "DE",
	"locale": "de_DE",
	"enabled": true,
	"consumptionUnitUuids": ["7a226e08-2a90-4db9-ae9b-8148901c6ec2"],
	"residentAndConsumptionUuidsMap": {"17c4dff7-0bc8-4e5f-9c7d-1ed1f779f6b5": "7a226e08-2a90-4db9-ae9b-8148901c6ec2"},
	"activeConsumptionUnit": "7a226e08-2a90-4db9-ae9b-8148901c6ec2",
	"supportCode": "XXXXXXXXX",
	"isDemo": false
}`

const consumptionsJSON = `{
	"consumptionUnitId": "7a226e08-2a90-4db9-ae9b-8148901c6ec2",
	"consumptions": [
		{
			"date": {"month": 5, "year": 2024},
			"readings": [
				{"type": "heating", "value": "35", "unit": "Einheiten", "additionalValue": "38,0", "additionalUnit": "kWh"},
				{"type": "warmwater", "value": "1,0", "unit": "m³", "additionalValue": "57,0", "additionalUnit": "kWh"},
				{"type": "water", "value": "5,0", "unit": "m³"}
			]
		},
		{
			"date": {"month": 4, "year": 2024},
			"readings": [
				{"type": "heating", "value": "104", "unit": "Einheiten", "additionalValue": "113,0", "additionalUnit": "kWh"},
				{"type": "warmwater", "value": "1,1", "unit": "m³", "additionalValue": "61,1", "additionalUnit": "kWh"},
				{"type": "water", "value": "6,8", "unit": "m³"}
			]
		}
	],
	"costs": [
		{
			"date": {"month": 5, "year": 2024},
			"costsByEnergyType": [
				{"type": "heating", "value": 21, "unit": "€", "comparedCost": {"smiley": "MAD", "comparedPercentage": 121, "comparedValue": 9}},
				{"type": "warmwater", "value": 7, "unit": "€", "comparedCost": {"smiley": "EQUAL", "comparedPercentage": 0, "comparedValue": 0}},
				{"type": "water", "value": 3, "unit": "€", "comparedCost": {"smiley": "HAPPY", "comparedPercentage": 8, "comparedValue": 2}}
			]
		}
	]
}`

const menuJSON = `{
	"consumptionUnits": [
		{
			"id": "7a226e08-2a90-4db9-ae9b-8148901c6ec2",
			"address": {"street": "Luxemburger Str.", "houseNumber": "1", "postalCode": "45131", "city": "Essen", "country": "DE", "floor": "2. OG links"},
			"booked": {"cost": true, "co2": false},
			"propertyNumber": "1234567"
		}
	],
	"coBranding": null
}`

func newTestConnection(t *testing.T, kc *keycloak, email string) *Connection {
	t.Helper()

	kc.mux.HandleFunc("/api/account", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, accountJSON)
	})
	kc.mux.HandleFunc("/api/menu", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, menuJSON)
	})
	kc.mux.HandleFunc("/api/demo-user-token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"accessToken":"demo-access","accessTokenExpiresIn":60,"refreshToken":"demo-refresh","refreshTokenExpiresIn":5183999}`)
	})

	conn, err := NewConnection(util.NewLogger("test"), email, "secret", kc.config())
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestConnectionLogin(t *testing.T) {
	kc := newKeycloak(t)
	conn := newTestConnection(t, kc, "max.istaman@sample.com")

	if err := conn.Login(""); err != nil {
		t.Fatal(err)
	}

	account, err := conn.Account()
	if err != nil {
		t.Fatal(err)
	}
	if account.Email != "max.istaman@sample.com" {
		t.Errorf("email: got %q", account.Email)
	}

	uuids, err := conn.UUIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(uuids) != 1 || uuids[0] != "7a226e08-2a90-4db9-ae9b-8148901c6ec2" {
		t.Errorf("uuids: got %v", uuids)
	}

	code, err := conn.SupportCode()
	if err != nil {
		t.Fatal(err)
	}
	if code != "XXXXXXXXX" {
		t.Errorf("support code: got %q", code)
	}
}

func TestConnectionLoginRejected(t *testing.T) {
	kc := newKeycloak(t)
	kc.rejectLogin = true
	conn := newTestConnection(t, kc, "max.istaman@sample.com")

	err := conn.Login("")

	var le *LoginError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoginError, got %v", err)
	}
}

func TestConnectionAccountBeforeLogin(t *testing.T) {
	kc := newKeycloak(t)
	conn := newTestConnection(t, kc, "max.istaman@sample.com")

	if _, err := conn.Account(); err == nil {
		t.Fatal("expected error before login")
	}
	var le *LoginError
	if _, err := conn.Account(); !errors.As(err, &le) {
		t.Fatalf("expected LoginError, got %v", err)
	}
}

func TestConnectionDemoLogin(t *testing.T) {
	kc := newKeycloak(t)
	conn := newTestConnection(t, kc, DEMO_USER_ACCOUNT)

	if err := conn.Login(""); err != nil {
		t.Fatal(err)
	}

	if !conn.Identity().IsDemoLogin() {
		t.Error("expected demo session")
	}

	// the account snapshot is fetched with the demo token
	account, err := conn.Account()
	if err != nil {
		t.Fatal(err)
	}
	if account.ActiveConsumptionUnit == "" {
		t.Error("missing active consumption unit")
	}

	// demo sessions have no provider-side profile
	info, err := conn.UserInfo()
	if err != nil {
		t.Fatal(err)
	}
	if len(info) != 0 {
		t.Errorf("user info: got %v, want empty", info)
	}
}

func TestConnectionConsumptionData(t *testing.T) {
	kc := newKeycloak(t)
	conn := newTestConnection(t, kc, "max.istaman@sample.com")

	kc.mux.HandleFunc("/api/consumptions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("consumptionUnitUuid") != "7a226e08-2a90-4db9-ae9b-8148901c6ec2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, consumptionsJSON)
	})

	if err := conn.Login(""); err != nil {
		t.Fatal(err)
	}

	// empty uuid selects the account's active unit
	res, err := conn.ConsumptionData("")
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Consumptions) != 2 {
		t.Fatalf("consumptions: got %d periods", len(res.Consumptions))
	}
	heating := res.Consumptions[0].Readings[0]
	if heating.Type != TypeHeating || float64(*heating.AdditionalValue) != 38 {
		t.Errorf("heating reading: got %+v", heating)
	}

	// 400 maps to an invalid unit error
	_, err = conn.ConsumptionData("not-a-uuid")
	var iu *InvalidUnitError
	if !errors.As(err, &iu) {
		t.Fatalf("expected InvalidUnitError, got %v", err)
	}
	if iu.UUID != "not-a-uuid" {
		t.Errorf("uuid: got %q", iu.UUID)
	}
}

func TestConnectionConsumptionDataServerError(t *testing.T) {
	kc := newKeycloak(t)
	conn := newTestConnection(t, kc, "max.istaman@sample.com")

	kc.mux.HandleFunc("/api/consumptions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if err := conn.Login(""); err != nil {
		t.Fatal(err)
	}

	_, err := conn.ConsumptionData("")

	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if se.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", se.StatusCode)
	}
}

func TestConnectionConsumptionDataParserError(t *testing.T) {
	kc := newKeycloak(t)
	conn := newTestConnection(t, kc, "max.istaman@sample.com")

	kc.mux.HandleFunc("/api/consumptions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	})

	if err := conn.Login(""); err != nil {
		t.Fatal(err)
	}

	_, err := conn.ConsumptionData("")

	var pe *ParserError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParserError, got %v", err)
	}
}

func TestConnectionConsumptionUnitDetails(t *testing.T) {
	kc := newKeycloak(t)
	conn := newTestConnection(t, kc, "max.istaman@sample.com")

	if err := conn.Login(""); err != nil {
		t.Fatal(err)
	}

	details, err := conn.ConsumptionUnitDetails()
	if err != nil {
		t.Fatal(err)
	}

	if len(details.ConsumptionUnits) != 1 {
		t.Fatalf("units: got %d", len(details.ConsumptionUnits))
	}
	unit := details.ConsumptionUnits[0]
	if unit.ID != "7a226e08-2a90-4db9-ae9b-8148901c6ec2" || unit.Address.City != "Essen" || !unit.Booked.Cost {
		t.Errorf("unit: got %+v", unit)
	}
}

func TestConnectionLogout(t *testing.T) {
	kc := newKeycloak(t)
	conn := newTestConnection(t, kc, "max.istaman@sample.com")

	if err := conn.Login(""); err != nil {
		t.Fatal(err)
	}
	if err := conn.Logout(); err != nil {
		t.Fatal(err)
	}

	if conn.Identity().AccessToken() != "" {
		t.Error("access token must be cleared after logout")
	}
}
