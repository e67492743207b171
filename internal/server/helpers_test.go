package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scanbridge/internal/adapter"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/encoder"
	"github.com/MeKo-Tech/scanbridge/internal/testutil"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

const (
	eventTimeout = 5 * time.Second
	pollInterval = 5 * time.Millisecond
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a server around a facade using a.
func newTestServer(t *testing.T, a bridge.Adapter, mutate ...func(*Config)) *Server {
	t.Helper()
	f, err := bridge.New(bridge.Config{
		Adapter: a,
		Encoder: encoder.New(encoder.DefaultOptions()),
		Logger:  quietLogger(),
	})
	require.NoError(t, err)

	cfg := Config{Facade: f, CORSOrigin: "*", MaxUploadMB: 5, TimeoutSec: 10, Logger: quietLogger()}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// memoryServer serves scans from a single in-memory QR image holding text.
func memoryServer(t *testing.T, text string) *Server {
	t.Helper()
	a, err := adapter.NewMemoryAdapter(testutil.PNGBytes(t, testutil.QRImage(t, text, 240)),
		adapter.FrameConfig{Frame: utils.DefaultFrameOptions(), Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(a.Wait)
	return newTestServer(t, a)
}

// blockingServer serves scans from a prompt that never answers.
func blockingServer(t *testing.T, mutate ...func(*Config)) *Server {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	a := adapter.NewPromptAdapter(pr, io.Discard, quietLogger())
	t.Cleanup(a.Wait)
	return newTestServer(t, a, mutate...)
}

func newRouter(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func multipartImage(t *testing.T, field string, data []byte, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, "frame.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
