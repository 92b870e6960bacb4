package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"plan":"pro"}`))
		var dest struct {
			Plan string `json:"plan"`
		}
		require.NoError(t, ParseJSON(r, &dest))
		assert.Equal(t, "pro", dest.Plan)
	})

	t.Run("invalid writes 400", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{`))
		w := httptest.NewRecorder()
		var dest map[string]interface{}
		assert.False(t, ParseJSONOrError(w, r, &dest))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestParsePathInt64(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/users/17", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "17"})

	id, err := ParsePathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	r = mux.SetURLVars(r, map[string]string{"id": "abc"})
	_, err = ParsePathInt64(r, "id")
	assert.Error(t, err)

	_, err = ParsePathInt64(r, "missing")
	assert.Error(t, err)
}

func TestParseQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?skip=20&isAdmin=true&email=foo", nil)

	skip, err := ParseQueryInt(r, "skip", 0)
	require.NoError(t, err)
	assert.Equal(t, 20, skip)

	def, err := ParseQueryInt(r, "absent", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, def)

	isAdmin, err := ParseQueryOptionalBool(r, "isAdmin")
	require.NoError(t, err)
	require.NotNil(t, isAdmin)
	assert.True(t, *isAdmin)

	missing, err := ParseQueryOptionalBool(r, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, "foo", ParseQueryString(r, "email", ""))
}
