package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("order: %w", ErrNotFound):   http.StatusNotFound,
		fmt.Errorf("number: %w", ErrDuplicate): http.StatusConflict,
		ErrConflict:                            http.StatusConflict,
		fmt.Errorf("qty: %w", ErrValidation):   http.StatusBadRequest,
		ErrForbidden:                           http.StatusForbidden,
		errors.New("connection reset"):         http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, StatusOf(err), err.Error())
	}
}

func TestRespondErrorKeepsPersistenceDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("connection reset by peer"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "connection reset by peer", body.Detail)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1,"b":2}`))
	var target struct {
		A int `json:"a"`
	}
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, ErrValidation)
}
