package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deadlock-vault/internal/application/deadman"
	"github.com/deadlock-vault/internal/application/dispatch"
	"github.com/deadlock-vault/internal/application/mutate"
	"github.com/deadlock-vault/internal/application/nominee"
	"github.com/deadlock-vault/internal/application/vault"
	"github.com/deadlock-vault/internal/config"
	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/infrastructure/escrow"
	jwtinfra "github.com/deadlock-vault/internal/infrastructure/jwt"
	"github.com/deadlock-vault/internal/infrastructure/memstore"
	"github.com/deadlock-vault/internal/pkg/keylock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	notices []domain.NomineeNotice
}

func (s *recordingSink) Notify(_ context.Context, n domain.NomineeNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	return nil
}

type testServer struct {
	srv  *httptest.Server
	jwt  *jwtinfra.Provider
	sink *recordingSink
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	esc, err := escrow.New(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwt := jwtinfra.NewProviderFromKeys(priv, &priv.PublicKey, time.Hour)

	repo := memstore.NewVaultRepo()
	blobs := memstore.NewBlobs()
	locks := keylock.New()
	mut := mutate.New(repo, locks, nil)
	sink := &recordingSink{}
	disp := dispatch.New(dispatch.Deps{Store: repo, Mutator: mut, Escrow: esc, Sink: sink, Locks: locks})

	deps := &Deps{
		Vaults: vault.NewService(vault.ServiceDeps{
			Store: repo, Mutator: mut, Escrow: esc, Dispatcher: disp, Blobs: blobs, Locks: locks,
		}),
		Nominees: nominee.NewService(nominee.ServiceDeps{Store: repo, Mutator: mut, Escrow: esc, Blobs: blobs}),
		Sweeper:  deadman.New(deadman.Deps{Store: repo, Mutator: mut, Dispatcher: disp}),
		Verifier: jwt,
	}
	cfg := &config.Config{AllowedOrigins: []string{"*"}, NomineeRateLimit: 100, NomineeRateBurst: 100}
	for _, o := range opts {
		o(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewRouter(ctx, cfg, deps))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testServer{srv: srv, jwt: jwt, sink: sink}
}

func (ts *testServer) do(t *testing.T, method, path, role string, body interface{}, headers ...string) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	if role != "" {
		tok, err := ts.jwt.Sign("owner-1", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRouter_UnlockFlow(t *testing.T) {
	ts := newTestServer(t)
	nominees := []string{"a@example.com", "b@example.com", "c@example.com"}
	shares := []string{"share-one", "share-two", "share-three"}

	resp := ts.do(t, http.MethodPost, "/v1/vault/me", "user", domain.VaultInput{VaultName: "estate", Nominees: nominees})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[domain.VaultSummary](t, resp)
	assert.Equal(t, domain.StatusActive, v.Status)

	resp = ts.do(t, http.MethodPost, "/v1/vault/me/shares", "user", domain.StoreSharesInput{Shares: shares, Threshold: 3, TotalShares: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := base64.StdEncoding.EncodeToString([]byte("ciphertext"))
	resp = ts.do(t, http.MethodPost, "/v1/vault/me/files", "user", domain.UploadFileInput{FileName: "will.pdf", Base64: payload})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	file := decode[domain.VaultFile](t, resp)

	base := "/v1/vault/" + v.VaultID
	resp = ts.do(t, http.MethodPost, base+"/submit-share", "", domain.SubmitShareInput{Nominee: nominees[0], Share: shares[0]})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "no submissions before notification")

	resp = ts.do(t, http.MethodPost, "/v1/vault/me/request-unlock", "user", domain.UnlockRequestInput{Reason: "travel"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[vault.UnlockResult](t, resp)
	assert.Equal(t, domain.StatusNomineesNotified, res.Vault.Status)
	assert.Equal(t, 3, res.Notifications.Sent)

	revealed := map[string]string{}
	for _, n := range ts.sink.notices {
		revealed[n.NomineeEmail] = n.RevealedShare
	}
	assert.Equal(t, shares[1], revealed[nominees[1]])

	resp = ts.do(t, http.MethodGet, base+"/files?nominee="+nominees[0]+"&share="+shares[0], "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "files stay closed until unlock")

	for i := range nominees {
		resp = ts.do(t, http.MethodPost, base+"/submit-share", "", domain.SubmitShareInput{Nominee: nominees[i], Share: shares[i]})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		cp := decode[domain.CheckpointResult](t, resp)
		assert.Equal(t, i+1, cp.SubmittedCount)
		assert.Equal(t, i == 2, cp.CanAccess)
	}

	resp = ts.do(t, http.MethodGet, base+"/files/"+file.FileID+"/download", "", nil,
		"X-Nominee-Email", nominees[2], "X-Nominee-Share", shares[2])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", buf.String())

	resp = ts.do(t, http.MethodPost, "/v1/vault/me/check-in", "user", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRouter_Auth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/v1/vault/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/vault/me", "user", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/vault/evaluate-deadman", "user", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/vault/evaluate-deadman", "admin", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/health-check/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_NomineeRateLimitKeysOnConnection(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.NomineeRateLimit = 0.001
		c.NomineeRateBurst = 2
	})

	codes := make([]int, 0, 4)
	for _, fwd := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3", "198.51.100.4"} {
		resp := ts.do(t, http.MethodGet, "/v1/vault/v1/checkpoint", "", nil, "X-Forwarded-For", fwd)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestRouter_TrustedProxyHeaders(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.NomineeRateLimit = 0.001
		c.NomineeRateBurst = 1
		c.TrustProxyHeaders = true
	})

	resp := ts.do(t, http.MethodGet, "/v1/vault/v1/checkpoint", "", nil, "X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/v1/vault/v1/checkpoint", "", nil, "X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/v1/vault/v1/checkpoint", "", nil, "X-Forwarded-For", "198.51.100.2")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
