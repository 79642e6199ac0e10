package main

import (
	"fmt"
	"log"
	"os"

	"github.com/andig/ecotrend/ecotrend"
	"github.com/evcc-io/evcc/util"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	// util.LogLevel("trace", nil)
	logger := util.NewLogger("ecotrend")

	email := os.Getenv("ECOTREND_EMAIL")
	password := os.Getenv("ECOTREND_PASSWORD")
	if email == "" {
		email = ecotrend.DEMO_USER_ACCOUNT
	}

	conn, err := ecotrend.NewConnection(logger, email, password, nil)
	if err != nil {
		log.Fatal(err)
	}

	if err := conn.Login(os.Getenv("ECOTREND_OTP")); err != nil {
		log.Fatal(err)
	}
	defer conn.Logout()

	account, err := conn.Account()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Account: %s %s <%s>, support code %s\n", account.FirstName, account.LastName, account.Email, account.SupportCode)

	uuids, err := conn.UUIDs()
	if err != nil {
		log.Fatal(err)
	}
	for _, uuid := range uuids {
		fmt.Printf("Consumption unit: %s\n", uuid)
	}

	raw, err := conn.ConsumptionData("")
	if err != nil {
		log.Fatal(err)
	}

	data := ecotrend.ConsumRaw(raw, nil, nil, true)

	totals := data.TotalAdditionalCustomValues
	for _, t := range []struct {
		name  string
		value *float64
		unit  string
	}{
		{"heating", totals.Heating, totals.H},
		{"warmwater", totals.Warmwater, totals.WW},
		{"water", totals.Water, totals.W},
	} {
		if t.value != nil {
			fmt.Printf("Total %s: %.1f %s\n", t.name, *t.value, t.unit)
		}
	}

	if lv := data.LastValue; lv != nil {
		fmt.Printf("Last reading: %02d/%d\n", lv.Month, lv.Year)
	}
	if lc := data.LastCosts; lc != nil && lc.Heating != nil {
		fmt.Printf("Last heating costs: %.1f %s\n", *lc.Heating, lc.Unit)
	}
}
