package ecotrend

import (
	"bytes"
	"net/url"

	"golang.org/x/net/html"
)

// Keycloak login flow steps, identified by the id of the rendered form.
const (
	FormLogin = "kc-form-login"
	FormOTP   = "kc-otp-login-form"
)

// loginForm is a scraped Keycloak form. Fields holds all named inputs,
// including hidden ones that must be echoed back verbatim.
type loginForm struct {
	ID     string
	Action string
	Fields url.Values
}

// extractForm locates the login or OTP form in a Keycloak page. The action
// URL comes back entity-unescaped via the HTML parser.
func extractForm(body []byte) (*loginForm, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParserError{Message: "failed to parse login page", Err: err}
	}

	form := findForm(doc)
	if form == nil {
		return nil, &ParserError{Message: "no login or otp form found in page"}
	}
	return form, nil
}

func findForm(n *html.Node) *loginForm {
	if n.Type == html.ElementNode && n.Data == "form" {
		if id := attrValue(n, "id"); id == FormLogin || id == FormOTP {
			form := &loginForm{
				ID:     id,
				Action: attrValue(n, "action"),
				Fields: url.Values{},
			}
			collectInputs(n, form.Fields)
			return form
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if form := findForm(c); form != nil {
			return form
		}
	}
	return nil
}

func collectInputs(n *html.Node, fields url.Values) {
	if n.Type == html.ElementNode && n.Data == "input" {
		if name := attrValue(n, "name"); name != "" {
			switch attrValue(n, "type") {
			case "radio", "checkbox":
				// unchecked options only mark the field as present
				if hasAttr(n, "checked") {
					fields.Set(name, attrValue(n, "value"))
				} else if _, ok := fields[name]; !ok {
					fields[name] = []string{}
				}
			default:
				fields.Set(name, attrValue(n, "value"))
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectInputs(c, fields)
	}
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
