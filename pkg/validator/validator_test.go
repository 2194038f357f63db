package validator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupForm struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Username  string `json:"username" validate:"required,alphanum,min=3,max=30"`
	FirstName string `json:"firstName" validate:"required,min=1,max=50"`
}

func validForm() signupForm {
	return signupForm{
		Email:     "alice@example.com",
		Password:  "longenough1",
		Username:  "alice",
		FirstName: "Alice",
	}
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(validForm()))
}

func TestValidate_MissingRequired(t *testing.T) {
	f := validForm()
	f.FirstName = ""
	err := Validate(f)
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["firstName"])
}

func TestValidate_UsesJSONFieldNames(t *testing.T) {
	f := validForm()
	f.Email = "not-an-email"
	err := Validate(f)
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Contains(t, fields, "email")
	assert.NotContains(t, fields, "Email")
	assert.Equal(t, "must be a valid email address", fields["email"])
}

func TestValidate_ReportsEveryViolatedField(t *testing.T) {
	f := signupForm{Email: "bad", Password: "short", Username: "a!"}
	err := Validate(f)
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Len(t, fields, 4)
	assert.Contains(t, fields["password"], "at least 8")
	assert.Equal(t, "must contain only letters and digits", fields["username"])
	assert.Equal(t, "is required", fields["firstName"])
}

func TestValidate_MinMax(t *testing.T) {
	f := validForm()
	f.Username = strings.Repeat("a", 31)
	err := Validate(f)
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields()["username"], "at most 30")

	f.Username = "ab"
	err = Validate(f)
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields()["username"], "at least 3")
}

type untaggedStruct struct {
	Name string `validate:"required"`
}

func TestValidate_FallsBackToStructFieldName(t *testing.T) {
	err := Validate(untaggedStruct{})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields(), "Name")
}

func TestValidationError_ErrorString(t *testing.T) {
	err := Validate(untaggedStruct{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'Name'")
	assert.Contains(t, err.Error(), "is required")
}

type passwordChange struct {
	Current string `json:"currentPassword" validate:"required"`
	New     string `json:"newPassword" validate:"required,min=8,nefield=Current"`
}

func TestValidate_NotEqualField(t *testing.T) {
	err := Validate(passwordChange{Current: "longenough1", New: "longenough1"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields()["newPassword"], "must differ")
}

func TestDecodeAndValidate_Success(t *testing.T) {
	body := `{"email":"alice@example.com","password":"longenough1","username":"alice","firstName":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))

	var f signupForm
	err := DecodeAndValidate(req, &f)

	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", f.Email)
	assert.Equal(t, "alice", f.Username)
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{invalid"))

	var f signupForm
	err := DecodeAndValidate(req, &f)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_ValidationFails(t *testing.T) {
	body := `{"email":"bad","password":"longenough1","username":"alice","firstName":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))

	var f signupForm
	err := DecodeAndValidate(req, &f)

	require.Error(t, err)
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}
