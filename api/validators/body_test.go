package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/attendly/backend/pkg/errors"
)

type decodeTestBody struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,min=2"`
}

func postJSON(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestDecodeJSONBody_valid(t *testing.T) {
	var dest decodeTestBody
	err := DecodeJSONBody(postJSON(`{"email":"dana@example.com","name":"Dana"}`), &dest)

	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", dest.Email)
	assert.Equal(t, "Dana", dest.Name)
}

func TestDecodeJSONBody_rejectsUnknownFields(t *testing.T) {
	var dest decodeTestBody
	err := DecodeJSONBody(postJSON(`{"email":"dana@example.com","name":"Dana","extra":true}`), &dest)

	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestDecodeJSONBody_malformedJSON(t *testing.T) {
	var dest decodeTestBody
	err := DecodeJSONBody(postJSON(`{"email":`), &dest)

	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestDecodeJSONBody_validationDetailsUseJSONTags(t *testing.T) {
	var dest decodeTestBody
	err := DecodeJSONBody(postJSON(`{"email":"not-an-email","name":"D"}`), &dest)

	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a valid email", details["email"])
	assert.Equal(t, "must be at least 2", details["name"])
}

func TestDecodeJSONBody_requiredFields(t *testing.T) {
	var dest decodeTestBody
	err := DecodeJSONBody(postJSON(`{}`), &dest)

	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["email"])
	assert.Equal(t, "is required", details["name"])
}
