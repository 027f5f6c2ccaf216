package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cookieName = "ds_session"

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestRouter(t *testing.T) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedisStore(rdb, "", time.Hour, testKey)

	router := gin.New()
	router.Use(sessions.Sessions(cookieName, store), Preload(cookieName, store))
	router.GET("/set", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Set("user_id", int64(42))
		if err := s.Save(); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	router.GET("/get", func(c *gin.Context) {
		v := sessions.Default(c).Get("user_id")
		_, typed := v.(int64)
		c.JSON(http.StatusOK, gin.H{"user_id": v, "typed": typed})
	})
	router.GET("/clear", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Clear()
		s.Options(sessions.Options{Path: "/", MaxAge: -1})
		if err := s.Save(); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	return router, mr
}

func do(router *gin.Engine, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("cookie %s not set", cookieName)
	return nil
}

func readUserID(t *testing.T, rec *httptest.ResponseRecorder) (any, bool) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID any  `json:"user_id"`
		Typed  bool `json:"typed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.UserID, body.Typed
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	router, mr := newTestRouter(t)

	rec := do(router, "/set")
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], DefaultKeyPrefix))
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))

	// クッキーにはトークンのみが載り、ペイロードは含まれない
	token := strings.TrimPrefix(keys[0], DefaultKeyPrefix)
	assert.NotContains(t, cookie.Value, "user_id")
	assert.Len(t, token, 2*tokenBytes)

	userID, typed := readUserID(t, do(router, "/get", cookie))
	assert.Equal(t, float64(42), userID)
	assert.True(t, typed)
}

func TestRedisStore_AnonymousDoesNotPersist(t *testing.T) {
	router, mr := newTestRouter(t)

	rec := do(router, "/get")
	userID, _ := readUserID(t, rec)
	assert.Nil(t, userID)
	assert.Empty(t, rec.Result().Cookies())
	assert.Empty(t, mr.Keys())
}

func TestRedisStore_ClearDeletesRecord(t *testing.T) {
	router, mr := newTestRouter(t)

	cookie := sessionCookie(t, do(router, "/set"))
	require.Len(t, mr.Keys(), 1)

	rec := do(router, "/clear", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, mr.Keys())
	assert.Less(t, sessionCookie(t, rec).MaxAge, 0)

	userID, _ := readUserID(t, do(router, "/get", cookie))
	assert.Nil(t, userID)
}

func TestRedisStore_TamperedCookie(t *testing.T) {
	router, _ := newTestRouter(t)

	cookie := sessionCookie(t, do(router, "/set"))
	forged := &http.Cookie{Name: cookieName, Value: cookie.Value + "x"}

	userID, _ := readUserID(t, do(router, "/get", forged))
	assert.Nil(t, userID)
}

func TestRedisStore_ExpiredRecord(t *testing.T) {
	router, mr := newTestRouter(t)

	cookie := sessionCookie(t, do(router, "/set"))
	mr.FastForward(2 * time.Hour)

	userID, _ := readUserID(t, do(router, "/get", cookie))
	assert.Nil(t, userID)
}

func TestRedisStore_CorruptPayload(t *testing.T) {
	router, mr := newTestRouter(t)

	cookie := sessionCookie(t, do(router, "/set"))
	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.NoError(t, mr.Set(keys[0], "not-gob"))

	userID, _ := readUserID(t, do(router, "/get", cookie))
	assert.Nil(t, userID)
}

func TestPreload_StoreUnavailable(t *testing.T) {
	router, mr := newTestRouter(t)

	cookie := sessionCookie(t, do(router, "/set"))
	mr.Close()

	rec := do(router, "/get", cookie)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SESSION_LOAD_FAILED", body["code"])
}
