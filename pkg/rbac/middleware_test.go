package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/creatorhub/creatorhub/pkg/contextkeys"
)

type stubLoader struct {
	actor *User
	err   error
	calls int
}

func (s *stubLoader) LoadActor(ctx context.Context, userID int64) (*User, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	a := *s.actor
	a.ID = userID
	return &a, nil
}

func asUser(r *http.Request, id string) *http.Request {
	return r.WithContext(contextkeys.WithUserID(r.Context(), id))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Header().Set("X-Actor", strconv.FormatInt(actor.ID, 10))
	w.WriteHeader(http.StatusOK)
})

func TestMiddleware_LoadActor(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		loader     *stubLoader
		wantStatus int
		wantActor  string
	}{
		{name: "no user id", userID: "", loader: &stubLoader{actor: &User{}}, wantStatus: http.StatusUnauthorized},
		{name: "malformed user id", userID: "abc", loader: &stubLoader{actor: &User{}}, wantStatus: http.StatusUnauthorized},
		{name: "deleted user", userID: "4", loader: &stubLoader{err: ErrUserNotFound}, wantStatus: http.StatusUnauthorized},
		{name: "database failure", userID: "4", loader: &stubLoader{err: errors.New("db down")}, wantStatus: http.StatusInternalServerError},
		{name: "loaded", userID: "42", loader: &stubLoader{actor: &User{Name: "x"}}, wantStatus: http.StatusOK, wantActor: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewMiddleware(tt.loader, NewAuthorizer(nil, nil))
			rec := httptest.NewRecorder()
			mw.LoadActor(okHandler).ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), tt.userID))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantActor, rec.Header().Get("X-Actor"))
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestMiddleware_LoadActorIsFreshPerRequest(t *testing.T) {
	loader := &stubLoader{actor: &User{}}
	handler := NewMiddleware(loader, nil).LoadActor(okHandler)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/", nil), "7"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 3, loader.calls)
}

func TestMiddleware_RequirePermission(t *testing.T) {
	mw := NewMiddleware(nil, nil)
	guarded := mw.RequirePermission("manage_roles")(okHandler)

	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	withActor := func(u *User) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		return r.WithContext(WithActor(r.Context(), u))
	}

	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, withActor(userWith(1, false, customerRole)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, withActor(userWith(2, false, Role{Slug: "ops", Permissions: perms("manage_roles")})))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, withActor(userWith(3, true, superAdminRole)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RequireAbility(t *testing.T) {
	authorizer := NewAuthorizer(nil, nil)
	authorizer.Register(NewOwnershipPolicy("audio"))
	guarded := NewMiddleware(nil, authorizer).RequireAbility("audio", AbilityCreate)(okHandler)

	withActor := func(u *User) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		return r.WithContext(WithActor(r.Context(), u))
	}

	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, withActor(userWith(1, false, customerRole)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, withActor(userWith(2, false, emptyRole)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
