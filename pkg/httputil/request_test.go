package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createThingRequest struct {
	Name   string `json:"name" validate:"required,max=10"`
	Bucket string `json:"bucket" validate:"omitempty,min=3"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{"valid JSON", `{"name": "test"}`, false},
		{"invalid JSON", `{invalid}`, true},
		{"unknown field", `{"name": "test", "admin": true}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))
			var dest createThingRequest

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest.Name)
			}
		})
	}
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		ok         bool
		wantDetail map[string]string
	}{
		{"valid", `{"name": "ok"}`, true, nil},
		{"missing required", `{}`, false, map[string]string{"name": "required"}},
		{"too short bucket", `{"name": "ok", "bucket": "ab"}`, false, map[string]string{"bucket": "min"}},
		{"malformed", `{`, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			var dest createThingRequest

			ok := DecodeAndValidate(w, req, &dest)

			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				return
			}
			assert.Equal(t, http.StatusBadRequest, w.Code)
			if tt.wantDetail != nil {
				var resp ErrorResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.Equal(t, tt.wantDetail, resp.Details)
			}
		})
	}
}

func TestValidator_Slug(t *testing.T) {
	type req struct {
		Slug string `json:"slug" validate:"slug"`
	}
	assert.NoError(t, Validator().Struct(req{Slug: "manage_audio"}))
	assert.Error(t, Validator().Struct(req{Slug: "Manage-Audio"}))
	assert.Error(t, Validator().Struct(req{Slug: "1st"}))
}

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		want    int64
		wantErr bool
	}{
		{"valid", map[string]string{"id": "42"}, 42, false},
		{"missing", map[string]string{}, 0, true},
		{"not a number", map[string]string{"id": "abc"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), tt.vars)
			got, err := ParsePathInt64(req, "id")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathInt64OrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "x"})

	_, ok := ParsePathInt64OrError(w, req, "id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathStringOrError(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"library": "audio"})

	got, ok := ParsePathStringOrError(httptest.NewRecorder(), req, "library")

	assert.True(t, ok)
	assert.Equal(t, "audio", got)
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&mine=true&bad=x", nil)

	limit, err := ParseQueryInt(req, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	def, err := ParseQueryInt(req, "offset", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, def)

	_, err = ParseQueryInt(req, "bad", 0)
	assert.Error(t, err)

	mine, err := ParseQueryBool(req, "mine", false)
	require.NoError(t, err)
	assert.True(t, mine)

	_, err = ParseQueryBool(req, "bad", false)
	assert.Error(t, err)
}
