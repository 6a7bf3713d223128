package recipeauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxParamsBody = 64 << 10

// formBinder is implemented by request structs that can also be read from
// url-encoded forms.
type formBinder interface {
	bindForm(values url.Values)
}

// LoginParams is the body of POST /login
type LoginParams struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (p *LoginParams) bindForm(values url.Values) {
	p.Email = values.Get("email")
	p.Phone = values.Get("phone")
}

// Identifier validates the params. Email wins when both are sent.
func (p LoginParams) Identifier() (Identifier, error) {
	email := strings.TrimSpace(p.Email)
	phone := strings.TrimSpace(p.Phone)
	switch {
	case email != "":
		return EmailIdentifier(email)
	case phone != "":
		return PhoneIdentifier(phone)
	}
	return Identifier{}, ErrInvalidIdentifier
}

// VerifyParams is the body of POST /verify
type VerifyParams struct {
	LoginParams
	OTP flexString `json:"otp"`
}

func (p *VerifyParams) bindForm(values url.Values) {
	p.LoginParams.bindForm(values)
	p.OTP = flexString(values.Get("otp"))
}

// Validate returns the normalized identifier and code
func (p VerifyParams) Validate() (Identifier, string, error) {
	code := strings.TrimSpace(string(p.OTP))
	if code == "" || (strings.TrimSpace(p.Email) == "" && strings.TrimSpace(p.Phone) == "") {
		return Identifier{}, "", ErrMissingFields
	}
	id, err := p.Identifier()
	if err != nil {
		return Identifier{}, "", err
	}
	return id, code, nil
}

// CallbackParams are the query parameters of GET /oauth/callback
type CallbackParams struct {
	Code  string
	State string
}

func CallbackParamsFrom(r *http.Request) CallbackParams {
	q := r.URL.Query()
	return CallbackParams{Code: strings.TrimSpace(q.Get("code")), State: strings.TrimSpace(q.Get("state"))}
}

// flexString accepts both JSON strings and numbers, so {"otp": 123456} works.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	if _, err := strconv.ParseInt(num.String(), 10, 64); err != nil {
		return fmt.Errorf("expected an integer, got %s", data)
	}
	*s = flexString(num.String())
	return nil
}

// decodeParams fills v from a JSON body or from form values depending on the
// request content type. A missing body leaves v empty.
func decodeParams(r *http.Request, v formBinder) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if r.Body == nil {
			return nil
		}
		err := json.NewDecoder(io.LimitReader(r.Body, maxParamsBody)).Decode(v)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrMissingFields, err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingFields, err)
	}
	v.bindForm(r.Form)
	return nil
}
