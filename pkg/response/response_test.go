package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "gigchat/pkg/errors"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestErrorUsesAppErrorStatus(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, Error(c, apperrors.NotFound("Conversation", nil)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "Conversation not found", resp.Error.Message)
}

func TestErrorFormatsValidationErrors(t *testing.T) {
	type input struct {
		Content string `validate:"required"`
	}
	err := validator.New().Struct(input{})
	require.Error(t, err)

	c, rec := newContext()
	require.NoError(t, Error(c, err))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Equal(t, "content is required", resp.Error.Message)
}

func TestErrorFallsBackToInternal(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, Error(c, assert.AnError))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, rec).Error.Code)
}

func TestPaginatedComputesPages(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, Paginated(c, []int{1, 2}, 45, 3, 20))

	var resp struct {
		Data PaginatedResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Page)
	assert.Equal(t, 3, resp.Data.TotalPages)
	assert.Equal(t, int64(45), resp.Data.Total)
}
