package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scanbridge/internal/adapter"
	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/encoder"
)

func TestNewServer_RequiresFacade(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
}

func TestServer_HealthHandler(t *testing.T) {
	s := memoryServer(t, "health")

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request success", http.MethodGet, http.StatusOK},
		{"POST request not allowed", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request not allowed", http.MethodPut, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.healthHandler(w, httptest.NewRequest(tt.method, "/health", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			resp := decodeBody[HealthResponse](t, w)
			assert.Equal(t, "healthy", resp.Status)
			assert.Equal(t, adapter.NameMemory, resp.Adapter)
			assert.Equal(t, "idle", resp.State)
			assert.Nil(t, resp.DeviceConnected)
			assert.NotEmpty(t, resp.Time)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_HealthReportsRemoteDevice(t *testing.T) {
	remote := adapter.NewRemoteAdapter(quietLogger(), nil)
	s := newTestServer(t, remote, func(c *Config) { c.Remote = remote })

	w := httptest.NewRecorder()
	s.healthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	resp := decodeBody[HealthResponse](t, w)
	require.NotNil(t, resp.DeviceConnected)
	assert.False(t, *resp.DeviceConnected)
	assert.Equal(t, adapter.NameRemote, resp.Adapter)
}

func TestServer_FormatsHandler(t *testing.T) {
	s := memoryServer(t, "formats")
	w := doJSON(t, newRouter(s), http.MethodGet, "/formats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[FormatsResponse](t, w)
	assert.Equal(t, len(barcode.AllFormats()), resp.Count)
	assert.Contains(t, resp.Formats, FormatInfo{Code: 12, Name: "QR_CODE"})
	assert.Equal(t, "AZTEC", resp.Formats[0].Name)

	w = doJSON(t, newRouter(s), http.MethodPost, "/formats", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ScanHandler(t *testing.T) {
	s := memoryServer(t, "from the server")
	router := newRouter(s)

	w := doJSON(t, router, http.MethodPost, "/scan", bridge.ScanRequest{Formats: []string{"QR_CODE"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[ScanResponse](t, w)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "from the server", resp.Result.TextValue())
	assert.Equal(t, "QR_CODE", resp.Result.FormatValue())
	assert.False(t, resp.Result.Cancelled)

	// An empty body is a scan with default options.
	w = doJSON(t, router, http.MethodPost, "/scan", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/scan", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ScanHandler_BadJSON(t *testing.T) {
	s := memoryServer(t, "x")
	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.scanHandler(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeBody[ScanResponse](t, w).ErrorType)
}

func TestServer_ScanHandler_NoAdapter(t *testing.T) {
	s := newTestServer(t, nil)
	w := doJSON(t, newRouter(s), http.MethodPost, "/scan", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeBody[ScanResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "no_hardware", resp.ErrorType)
}

func TestServer_ScanHandler_Timeout(t *testing.T) {
	s := blockingServer(t)
	s.timeout = 50 * time.Millisecond

	w := doJSON(t, newRouter(s), http.MethodPost, "/scan", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	resp := decodeBody[ScanResponse](t, w)
	assert.Equal(t, "timeout", resp.ErrorType)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Cancelled)
	assert.Nil(t, resp.Result.Text)
}

func TestServer_ScanConflictAndCancel(t *testing.T) {
	s := blockingServer(t)
	router := newRouter(s)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- doJSON(t, router, http.MethodPost, "/scan", nil) }()

	require.Eventually(t, func() bool {
		return s.facade.Coordinator().State() != bridge.StateIdle
	}, eventTimeout, pollInterval)

	w := doJSON(t, router, http.MethodPost, "/scan", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_scanning", decodeBody[ScanResponse](t, w).ErrorType)

	w = doJSON(t, router, http.MethodPost, "/scan/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[CancelResponse](t, w).Cancelled)

	select {
	case w := <-first:
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody[ScanResponse](t, w)
		assert.True(t, resp.Result.Cancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled scan did not return")
	}

	w = doJSON(t, router, http.MethodPost, "/scan/cancel", nil)
	resp := decodeBody[CancelResponse](t, w)
	assert.False(t, resp.Cancelled)
	assert.Equal(t, "idle", resp.State)
}

func TestServer_EncodeHandler(t *testing.T) {
	s := memoryServer(t, "x")
	router := newRouter(s)

	w := doJSON(t, router, http.MethodPost, "/encode", bridge.EncodeRequest{
		Type: bridge.TextType,
		Data: "encode me",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[EncodeResponse](t, w)
	assert.True(t, resp.Success)
	require.True(t, strings.HasPrefix(resp.Image, encoder.DataURIPrefix))

	// The rendered symbol decodes back through the same facade.
	res, err := s.facade.DecodeImage(context.Background(), []byte(resp.Image), bridge.ScanRequest{})
	require.NoError(t, err)
	assert.Equal(t, "encode me", res.TextValue())
}

func TestServer_EncodeHandler_PNG(t *testing.T) {
	s := memoryServer(t, "x")
	req := httptest.NewRequest(http.MethodPost, "/encode?output=png",
		strings.NewReader(`{"type":"PHONE_TYPE","data":"5551234","options":{"size":128}}`))
	w := httptest.NewRecorder()
	newRouter(s).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
}

func TestServer_EncodeHandler_Errors(t *testing.T) {
	s := memoryServer(t, "x")
	router := newRouter(s)

	w := doJSON(t, router, http.MethodPost, "/encode", bridge.EncodeRequest{Type: bridge.TextType})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, bridge.ErrEncodeDataMissing.Error(), decodeBody[EncodeResponse](t, w).Error)

	w = doJSON(t, router, http.MethodPost, "/encode", bridge.EncodeRequest{
		Data:    "x",
		Options: map[string]any{"format": "MAXICODE"},
	})
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/encode",
		strings.NewReader(`{"type":"TEXT_TYPE","data":"x","options":{"size":200000}}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody[EncodeResponse](t, w)
	assert.Contains(t, resp.Error, "size too large")
	assert.Equal(t, "invalid_request", resp.ErrorType)

	req = httptest.NewRequest(http.MethodPost, "/encode", strings.NewReader("nope"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{bridge.ErrAlreadyScanning, http.StatusConflict, "already_scanning"},
		{bridge.ErrNoWindowOrHardware, http.StatusServiceUnavailable, "no_hardware"},
		{bridge.ErrEncodeDataMissing, http.StatusBadRequest, "invalid_request"},
		{&bridge.NativeError{Reason: "too large", Err: encoder.ErrSizeTooLarge}, http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("wrap: %w", bridge.ErrNotImplemented), http.StatusNotImplemented, "not_implemented"},
		{&bridge.NativeError{Reason: "No barcode found", Err: barcode.ErrNotFound}, http.StatusUnprocessableEntity, "not_found"},
		{&bridge.NativeError{Reason: "camera busy"}, http.StatusUnprocessableEntity, "native_error"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			status, kind := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestServer_MetricsRoute(t *testing.T) {
	s := memoryServer(t, "x")
	router := newRouter(s)
	doJSON(t, router, http.MethodGet, "/health", nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scanbridge_http_requests_total")
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	s := memoryServer(t, "x")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
