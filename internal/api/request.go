package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// MaxBodySize caps admin API request bodies at 1 MB.
const MaxBodySize = 1 << 20

var errEmptyBody = errors.New("request body is empty")

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
// Errors are phrased for API clients rather than echoing encoding/json.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errEmptyBody
	}

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return describeDecodeError(err)
	}
	return nil
}

func describeDecodeError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case errors.As(err, &syntaxErr):
		return fmt.Errorf("malformed JSON at position %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Errorf("invalid value for field %q: expected %s", typeErr.Field, typeErr.Type)
	case errors.As(err, &sizeErr):
		return fmt.Errorf("request body exceeds maximum size of %d bytes", MaxBodySize)
	}

	// encoding/json has no typed error for unknown fields
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return fmt.Errorf("unknown field %s", field)
	}
	return errors.New("invalid JSON in request body")
}

// DecodeAndValidate decodes the body into dst and runs struct validation.
// A decode failure is returned as err; field failures as fieldErrors.
func DecodeAndValidate(r *http.Request, dst interface{}) (fieldErrors map[string]string, err error) {
	if err := DecodeJSON(r, dst); err != nil {
		return nil, err
	}
	return Validate(dst), nil
}

// PathID parses a positive numeric path parameter such as {id}.
func PathID(r *http.Request, name string) (uint, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return uint(id), nil
}
