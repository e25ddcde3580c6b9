package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/isdelr/usermgmt-be/internal/access"
	"github.com/isdelr/usermgmt-be/internal/auth"
	"github.com/isdelr/usermgmt-be/internal/database"
	"github.com/isdelr/usermgmt-be/internal/repository"
	"github.com/isdelr/usermgmt-be/internal/services"
	"github.com/isdelr/usermgmt-be/internal/storage"
	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memoryImageStore struct{}

func (memoryImageStore) Put(_ context.Context, obj storage.Object) (string, error) {
	if _, err := io.Copy(io.Discard, obj.Body); err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + obj.Key, nil
}

const (
	adminEmail    = "root@x.com"
	adminPassword = "rootpw"
)

func newTestServer(t *testing.T, recheck bool) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	users := repository.NewSQLiteUserRepository(db)

	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService([]byte("router-test-secret"), time.Hour)
	require.NoError(t, err)
	policy, err := access.NewPolicy(ctx)
	require.NoError(t, err)

	svc, err := services.NewUserService(services.UserServiceConfig{
		Users:         users,
		Hasher:        hasher,
		Tokens:        tokens,
		Policy:        policy,
		Images:        memoryImageStore{},
		MaxImageBytes: 64 * 1024,
	})
	require.NoError(t, err)
	_, err = svc.SeedAdmin(ctx, services.AdminSeed{Username: "root", Email: adminEmail, Password: adminPassword})
	require.NoError(t, err)

	var lookup auth.AccountLookup
	if recheck {
		lookup = users
	}
	router := NewRouter(RouterConfig{
		Logger:         zerolog.Nop(),
		AllowedOrigins: []string{"http://localhost:3000"},
		MaxImageBytes:  64 * 1024,
	}, auth.NewGate(tokens, lookup), svc)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type apiResponse struct {
	Status int
	Body   map[string]interface{}
}

func (r apiResponse) message() string {
	msg, _ := r.Body["message"].(string)
	return msg
}

func (r apiResponse) token() string {
	tok, _ := r.Body["token"].(string)
	return tok
}

func (r apiResponse) user() map[string]interface{} {
	u, _ := r.Body["user"].(map[string]interface{})
	return u
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}) apiResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) apiResponse {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{Status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(raw, &out.Body))
	}
	return out
}

func login(t *testing.T, srv *httptest.Server, email, password string) string {
	t.Helper()
	res := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, res.Status, res.message())
	return res.token()
}

func TestAccountScenario(t *testing.T) {
	Convey("Given a running API with a bootstrap admin", t, func() {
		srv := newTestServer(t, false)
		adminToken := login(t, srv, adminEmail, adminPassword)

		Convey("When alice registers", func() {
			reg := doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
				map[string]string{"username": "alice", "email": "a@x.com", "password": "secret"})

			So(reg.Status, ShouldEqual, http.StatusCreated)
			So(reg.token(), ShouldNotBeEmpty)
			So(reg.user()["username"], ShouldEqual, "alice")
			So(reg.user(), ShouldNotContainKey, "passwordHash")
			So(reg.user(), ShouldNotContainKey, "PasswordHash")
			aliceID := reg.user()["id"].(string)

			Convey("Registering the same email again is rejected", func() {
				again := doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
					map[string]string{"username": "alice-b", "email": "a@x.com", "password": "secret"})
				So(again.Status, ShouldEqual, http.StatusBadRequest)
				So(again.message(), ShouldEqual, "User already exists")
			})

			Convey("She can log in as the same identity", func() {
				res := doJSON(t, srv, http.MethodPost, "/api/auth/login", "",
					map[string]string{"email": "a@x.com", "password": "secret"})
				So(res.Status, ShouldEqual, http.StatusOK)
				So(res.user()["id"], ShouldEqual, aliceID)
			})

			Convey("A wrong password and an unknown email look the same", func() {
				wrong := doJSON(t, srv, http.MethodPost, "/api/auth/login", "",
					map[string]string{"email": "a@x.com", "password": "wrong"})
				unknown := doJSON(t, srv, http.MethodPost, "/api/auth/login", "",
					map[string]string{"email": "nobody@x.com", "password": "secret"})
				So(wrong.Status, ShouldEqual, http.StatusBadRequest)
				So(wrong.Body, ShouldResemble, unknown.Body)
				So(wrong.message(), ShouldEqual, "Invalid credentials")
			})

			Convey("She can rename herself", func() {
				res := doJSON(t, srv, http.MethodPatch, "/api/users/"+aliceID, reg.token(),
					map[string]string{"username": "alice2"})
				So(res.Status, ShouldEqual, http.StatusOK)
				So(res.user()["username"], ShouldEqual, "alice2")
			})

			Convey("She cannot change her own role or active flag", func() {
				res := doJSON(t, srv, http.MethodPatch, "/api/users/"+aliceID, reg.token(),
					map[string]string{"role": "admin"})
				So(res.Status, ShouldEqual, http.StatusForbidden)

				res = doJSON(t, srv, http.MethodPatch, "/api/users/"+aliceID, reg.token(),
					map[string]bool{"active": false})
				So(res.Status, ShouldEqual, http.StatusForbidden)
			})

			Convey("She cannot toggle account status", func() {
				res := doJSON(t, srv, http.MethodPatch, "/api/auth/users/"+aliceID+"/status", reg.token(), nil)
				So(res.Status, ShouldEqual, http.StatusForbidden)
			})

			Convey("After an admin deactivates her, login reports the inactive account", func() {
				res := doJSON(t, srv, http.MethodPatch, "/api/auth/users/"+aliceID+"/status", adminToken, nil)
				So(res.Status, ShouldEqual, http.StatusOK)
				So(res.user()["active"], ShouldEqual, false)

				again := doJSON(t, srv, http.MethodPost, "/api/auth/login", "",
					map[string]string{"email": "a@x.com", "password": "secret"})
				So(again.Status, ShouldEqual, http.StatusBadRequest)
				So(again.message(), ShouldEqual, "User is inactive")
			})

			Convey("Deleting tells a malformed id from an absent one", func() {
				bad := doJSON(t, srv, http.MethodDelete, "/api/users/not-an-id", adminToken, nil)
				So(bad.Status, ShouldEqual, http.StatusBadRequest)

				absent := doJSON(t, srv, http.MethodDelete, "/api/users/4b0c7d4e-63a3-4d52-9a4e-2a7f0c1b9d11", adminToken, nil)
				So(absent.Status, ShouldEqual, http.StatusNotFound)

				ok := doJSON(t, srv, http.MethodDelete, "/api/users/"+aliceID, reg.token(), nil)
				So(ok.Status, ShouldEqual, http.StatusOK)
				So(ok.message(), ShouldEqual, "User deleted successfully")
			})
		})
	})
}

func TestRoutes_RequireToken(t *testing.T) {
	srv := newTestServer(t, false)

	res := doJSON(t, srv, http.MethodGet, "/api/users/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "Missing auth token", res.message())

	res = doJSON(t, srv, http.MethodGet, "/api/users", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "Invalid auth token", res.message())
}

func TestRoutes_ProfileAndList(t *testing.T) {
	srv := newTestServer(t, false)
	adminToken := login(t, srv, adminEmail, adminPassword)
	reg := doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		map[string]string{"username": "bob", "email": "b@x.com", "password": "secret"})
	require.Equal(t, http.StatusCreated, reg.Status)

	res := doJSON(t, srv, http.MethodGet, "/api/users/profile", reg.token(), nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "b@x.com", res.Body["email"])

	res = doJSON(t, srv, http.MethodGet, "/api/users?page=1&limit=10", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Len(t, res.Body["users"], 2)
	assert.EqualValues(t, 2, res.Body["total"])

	res = doJSON(t, srv, http.MethodGet, "/api/users", reg.token(), nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Len(t, res.Body["users"], 1)

	res = doJSON(t, srv, http.MethodGet, "/api/users?page=1000000000000000000&limit=10", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Empty(t, res.Body["users"])
	assert.EqualValues(t, 2, res.Body["total"])

	res = doJSON(t, srv, http.MethodGet, "/api/users?page=abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestRoutes_RegisterBlankUsername(t *testing.T) {
	srv := newTestServer(t, false)

	res := doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		map[string]string{"username": "   ", "email": "blank@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		map[string]string{"username": "bob", "email": " Bob@X.com ", "password": "secret1"})
	require.Equal(t, http.StatusCreated, res.Status, res.message())
	assert.Equal(t, "bob@x.com", res.user()["email"])
}

func TestRoutes_Create(t *testing.T) {
	srv := newTestServer(t, false)
	adminToken := login(t, srv, adminEmail, adminPassword)
	body := map[string]string{"username": "carol", "email": "c@x.com", "mobile": "+12015550123", "password": "secret"}

	res := doJSON(t, srv, http.MethodPost, "/api/users/create", "", body)
	require.Equal(t, http.StatusCreated, res.Status, res.message())
	assert.Equal(t, "+12015550123", res.user()["mobile"])
	assert.Equal(t, "user", res.user()["role"])

	res = doJSON(t, srv, http.MethodPost, "/api/users/create", "", map[string]string{"username": "dan"})
	assert.Equal(t, http.StatusBadRequest, res.Status)

	admin := map[string]string{"username": "eve", "email": "e@x.com", "mobile": "+12015550124", "password": "secret", "role": "admin"}
	res = doJSON(t, srv, http.MethodPost, "/api/users/create", "", admin)
	assert.Equal(t, http.StatusForbidden, res.Status)

	res = doJSON(t, srv, http.MethodPost, "/api/users/create", "not-a-token", admin)
	assert.Equal(t, http.StatusUnauthorized, res.Status)

	res = doJSON(t, srv, http.MethodPost, "/api/users/create", adminToken, admin)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, "admin", res.user()["role"])
}

func multipartUpload(t *testing.T, srv *httptest.Server, path, token, contentType string, data []byte) apiResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="avatar.png"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return send(t, req)
}

func TestRoutes_UploadProfileImage(t *testing.T) {
	srv := newTestServer(t, false)
	reg := doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		map[string]string{"username": "bob", "email": "b@x.com", "password": "secret"})
	require.Equal(t, http.StatusCreated, reg.Status)
	id := reg.user()["id"].(string)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	res := multipartUpload(t, srv, "/api/users/uploadprofile/"+id, reg.token(), "image/png", png)
	require.Equal(t, http.StatusOK, res.Status, res.message())
	assert.Contains(t, res.user()["profileImage"], "https://cdn.example.com/profile_images/"+id+"/")

	res = multipartUpload(t, srv, "/api/users/uploadprofile/"+id, reg.token(), "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, res.Status)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/users/uploadprofile/"+id, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+reg.token())
	res = send(t, req)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "No file uploaded", res.message())
}

func TestRoutes_RecheckActive(t *testing.T) {
	srv := newTestServer(t, true)
	adminToken := login(t, srv, adminEmail, adminPassword)
	reg := doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		map[string]string{"username": "bob", "email": "b@x.com", "password": "secret"})
	require.Equal(t, http.StatusCreated, reg.Status)
	id := reg.user()["id"].(string)

	res := doJSON(t, srv, http.MethodPatch, "/api/auth/users/"+id+"/status", adminToken, nil)
	require.Equal(t, http.StatusOK, res.Status)

	// the token predates the deactivation but is refused anyway
	res = doJSON(t, srv, http.MethodGet, "/api/users/profile", reg.token(), nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, false)
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
