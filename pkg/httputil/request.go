package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes an invalid-argument response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteCallError(w, Errorf(CodeInvalidArgument, "invalid request body"))
		return false
	}
	return true
}

// RequireNonEmpty validates that a string field is not empty
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		WriteCallError(w, Errorf(CodeInvalidArgument, "%s is required", fieldName))
		return false
	}
	return true
}

// ValidEmail reports whether the value parses as an RFC 5322 address
func ValidEmail(value string) bool {
	_, err := mail.ParseAddress(value)
	return err == nil
}
