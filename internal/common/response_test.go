package common_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/solpay-gateway/internal/common"
)

func TestWriteErrorUsesAppErrorMetadata(t *testing.T) {
	rr := httptest.NewRecorder()
	err := common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, errors.New("no rows"))
	common.WriteError(rr, err)

	require.Equal(t, http.StatusNotFound, rr.Code)
	var body map[string]common.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ORDER_NOT_FOUND", body["error"].Code)
	require.Equal(t, "order not found", body["error"].Message)
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, errors.New("pq: connection reset"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection reset")
}

func TestStatusOfWrapped(t *testing.T) {
	inner := common.NewAppError("BAD", "bad", http.StatusBadRequest, nil)
	wrapped := errors.Join(errors.New("context"), inner)
	require.Equal(t, http.StatusBadRequest, common.StatusOf(wrapped))
	require.Equal(t, http.StatusInternalServerError, common.StatusOf(errors.New("x")))
}
