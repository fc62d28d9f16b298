package links

import (
	"errors"
	"fmt"
	"net/url"
)

// CodeQueryParameter carries a code in share URLs.
const CodeQueryParameter = "code"

var errMissingBaseURL = errors.New("links: base url is required")

// ShareURL returns baseURL with the code query parameter set.
func ShareURL(baseURL string, code Code) (string, error) {
	if baseURL == "" {
		return "", errMissingBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("links: invalid base url: %w", err)
	}
	query := parsed.Query()
	query.Set(CodeQueryParameter, code.String())
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ParseEntryURL extracts a code from the query of rawURL and returns the URL with the parameter removed.
// ok is false when the parameter is absent. A present but malformed code returns ErrInvalidCode.
func ParseEntryURL(rawURL string) (code Code, stripped string, ok bool, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false, fmt.Errorf("links: invalid url: %w", err)
	}
	query := parsed.Query()
	if !query.Has(CodeQueryParameter) {
		return "", parsed.String(), false, nil
	}
	code, err = NewCode(query.Get(CodeQueryParameter))
	if err != nil {
		return "", "", false, err
	}
	query.Del(CodeQueryParameter)
	parsed.RawQuery = query.Encode()
	return code, parsed.String(), true, nil
}
