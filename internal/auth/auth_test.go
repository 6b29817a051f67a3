package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

func newSigner() *Signer {
	return NewSigner("campus-test", "secret", time.Minute, time.Hour)
}

func TestSigner_RoundTrip(t *testing.T) {
	s := newSigner()
	pair, err := s.Issue("dev-1", RoleDevice)
	require.NoError(t, err)

	claims, err := s.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)

	_, err = s.ParseAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrWrongTokenKind)
}

func TestSigner_RejectsOtherIssuerAndKey(t *testing.T) {
	pair, err := NewSigner("someone-else", "secret", time.Minute, time.Hour).Issue("dev-1", RoleDevice)
	require.NoError(t, err)
	_, err = newSigner().ParseAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	pair, err = NewSigner("campus-test", "other", time.Minute, time.Hour).Issue("dev-1", RoleDevice)
	require.NoError(t, err)
	_, err = newSigner().ParseAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_Expired(t *testing.T) {
	s := newSigner()
	s.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	pair, err := s.Issue("dev-1", RoleDevice)
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.ParseAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegistry_RegisterAndRotate(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	reg := NewRegistry(docs, newSigner())

	pair, err := reg.Register(ctx, " dev-1 ", "Gate A", "")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "dev-1", "Gate A", RoleDevice)
	require.NoError(t, err)

	devices, err := docs.Find(ctx, collectionDevices, store.Where())
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	next, err := reg.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = reg.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegistry_BlankDevice(t *testing.T) {
	_, err := NewRegistry(store.NewMemory(), newSigner()).Register(context.Background(), "  ", "", "")
	assert.ErrorIs(t, err, ErrDeviceIDRequired)
}

func TestRegistry_UnknownRole(t *testing.T) {
	_, err := NewRegistry(store.NewMemory(), newSigner()).Register(context.Background(), "dev-1", "", "admin")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestDeviceAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newSigner()
	r := gin.New()
	r.GET("/x", DeviceAuth(s), RequireRole(RoleOperator), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	device, err := s.Issue("dev-1", RoleDevice)
	require.NoError(t, err)
	operator, err := s.Issue("op-1", RoleOperator)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"refresh token", "Bearer " + operator.RefreshToken, http.StatusUnauthorized},
		{"wrong role", "Bearer " + device.AccessToken, http.StatusForbidden},
		{"ok", "bearer " + operator.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRegistry_RefreshIsSingleUseUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(store.NewMemory(), newSigner())
	pair, err := reg.Register(ctx, "dev-1", "", "")
	require.NoError(t, err)

	const callers = 8
	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Refresh(ctx, pair.RefreshToken); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrInvalidToken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestOperatorOrBootstrap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newSigner()
	r := gin.New()
	r.POST("/x", OperatorOrBootstrap(s, "boot"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	device, err := s.Issue("dev-1", RoleDevice)
	require.NoError(t, err)
	operator, err := s.Issue("op-1", RoleOperator)
	require.NoError(t, err)

	tests := []struct {
		name      string
		authz     string
		bootstrap string
		want      int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"wrong key", "", "boots", http.StatusUnauthorized},
		{"bootstrap key", "", "boot", http.StatusNoContent},
		{"device token", "Bearer " + device.AccessToken, "", http.StatusForbidden},
		{"operator token", "Bearer " + operator.AccessToken, "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			if tt.bootstrap != "" {
				req.Header.Set(BootstrapHeader, tt.bootstrap)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
