package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/scanbridge/internal/adapter"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/encoder"
	"github.com/MeKo-Tech/scanbridge/internal/server"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

const (
	requestTimeout = 10 * time.Second
	pollInterval   = 10 * time.Millisecond
)

// HTTPTestServerWrapper wraps httptest.Server around a scanbridge API server.
type HTTPTestServerWrapper struct {
	Server *httptest.Server
	API    *server.Server
	Facade *bridge.Facade
	Remote *adapter.RemoteAdapter

	// Operator is the stdin of the prompt adapter, when one is used.
	Operator *io.PipeWriter
	wait     func()
}

type httpResult struct {
	status  int
	body    string
	headers http.Header
	err     error
}

// RegisterServerSteps registers steps that run the API server in-process.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a scan server using the files adapter on "([^"]*)"$`, testCtx.aScanServerUsingFiles)
	sc.Step(`^a scan server with an operator prompt$`, testCtx.aScanServerWithOperatorPrompt)
	sc.Step(`^a scan server with a remote device adapter$`, testCtx.aScanServerWithRemoteDevices)
	sc.Step(`^a scan server without an adapter$`, testCtx.aScanServerWithoutAdapter)

	sc.Step(`^I send a (GET|POST) request to "([^"]*)"$`, testCtx.iSendRequest)
	sc.Step(`^I send a POST request to "([^"]*)" with JSON:$`, testCtx.iSendJSONRequest)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadFixture)
	sc.Step(`^I start a scan$`, testCtx.iStartAScan)
	sc.Step(`^the scan response should arrive$`, testCtx.theScanResponseShouldArrive)
	sc.Step(`^the operator types "([^"]*)"$`, testCtx.theOperatorTypes)
	sc.Step(`^the server state should become "([^"]*)"$`, testCtx.theServerStateShouldBecome)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer wraps a facade around a and serves it from httptest.
func (testCtx *TestContext) startServer(a bridge.Adapter, remote *adapter.RemoteAdapter) error {
	if testCtx.HTTPTestServer != nil {
		return errors.New("a server is already running in this scenario")
	}
	facade, err := bridge.New(bridge.Config{
		Adapter:    a,
		Encoder:    encoder.New(encoder.DefaultOptions()),
		AckTimeout: 2 * time.Second,
		Logger:     quietLogger(),
	})
	if err != nil {
		return fmt.Errorf("failed to create facade: %w", err)
	}
	api, err := server.NewServer(server.Config{
		Facade:      facade,
		Remote:      remote,
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		TimeoutSec:  int(requestTimeout / time.Second),
		Logger:      quietLogger(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	api.SetupRoutes(mux)

	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server: httptest.NewServer(mux),
		API:    api,
		Facade: facade,
		Remote: remote,
	}
	return nil
}

func (testCtx *TestContext) aScanServerUsingFiles(fixtures string) error {
	var paths []string
	for _, name := range strings.Split(fixtures, ",") {
		p, err := testCtx.fixturePath(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		paths = append(paths, p)
	}
	a, err := adapter.NewFileAdapter(paths, adapter.FrameConfig{
		Frame:  utils.DefaultFrameOptions(),
		Logger: quietLogger(),
	})
	if err != nil {
		return err
	}
	if err := testCtx.startServer(a, nil); err != nil {
		return err
	}
	testCtx.HTTPTestServer.wait = a.Wait
	return nil
}

func (testCtx *TestContext) aScanServerWithOperatorPrompt() error {
	pr, pw := io.Pipe()
	a := adapter.NewPromptAdapter(pr, io.Discard, quietLogger())
	if err := testCtx.startServer(a, nil); err != nil {
		return err
	}
	testCtx.HTTPTestServer.Operator = pw
	testCtx.HTTPTestServer.wait = a.Wait
	return nil
}

func (testCtx *TestContext) aScanServerWithRemoteDevices() error {
	a := adapter.NewRemoteAdapter(quietLogger(), nil)
	return testCtx.startServer(a, a)
}

func (testCtx *TestContext) aScanServerWithoutAdapter() error {
	return testCtx.startServer(nil, nil)
}

// StopServer closes the device, the API server and the httptest listener.
func (testCtx *TestContext) StopServer() error {
	w := testCtx.HTTPTestServer
	if w == nil {
		return nil
	}
	if testCtx.Device != nil {
		_ = testCtx.Device.Close()
		testCtx.Device = nil
	}
	var errs []error
	if w.API != nil {
		errs = append(errs, w.API.Close())
	}
	if w.Operator != nil {
		errs = append(errs, w.Operator.Close())
	}
	if w.Server != nil {
		w.Server.Close()
	}
	if w.wait != nil {
		w.wait()
	}
	testCtx.HTTPTestServer = nil
	return errors.Join(errs...)
}

func (testCtx *TestContext) serverURL(path string) (string, error) {
	if testCtx.HTTPTestServer == nil || testCtx.HTTPTestServer.Server == nil {
		return "", errors.New("no server is running")
	}
	return testCtx.HTTPTestServer.Server.URL + path, nil
}

// do sends a request and returns its outcome without touching the context.
func (testCtx *TestContext) do(method, path, contentType string, body io.Reader) httpResult {
	url, err := testCtx.serverURL(path)
	if err != nil {
		return httpResult{err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout+5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return httpResult{err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return httpResult{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResult{err: fmt.Errorf("failed to read response: %w", err)}
	}
	return httpResult{status: resp.StatusCode, body: string(data), headers: resp.Header}
}

func (testCtx *TestContext) record(res httpResult) error {
	if res.err != nil {
		return res.err
	}
	testCtx.LastHTTPStatusCode = res.status
	testCtx.LastHTTPResponse = res.body
	testCtx.LastHTTPHeaders = make(map[string]string, len(res.headers))
	for k := range res.headers {
		testCtx.LastHTTPHeaders[k] = res.headers.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iSendRequest(method, path string) error {
	return testCtx.record(testCtx.do(method, path, "", nil))
}

func (testCtx *TestContext) iSendJSONRequest(path string, doc *godog.DocString) error {
	return testCtx.record(testCtx.do(http.MethodPost, path, "application/json", strings.NewReader(doc.Content)))
}

// iUploadFixture posts a fixture as the "image" field of a multipart form.
func (testCtx *TestContext) iUploadFixture(fixture, path string) error {
	src, err := testCtx.fixturePath(fixture)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src) //nolint:gosec // G304: fixture path
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", filepath.Base(src))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return testCtx.record(testCtx.do(http.MethodPost, path, mw.FormDataContentType(), &buf))
}

// iStartAScan posts /scan in the background; the response is collected by
// theScanResponseShouldArrive.
func (testCtx *TestContext) iStartAScan() error {
	if _, err := testCtx.serverURL("/scan"); err != nil {
		return err
	}
	ch := make(chan httpResult, 1)
	testCtx.pendingScan = ch
	go func() {
		ch <- testCtx.do(http.MethodPost, "/scan", "application/json", strings.NewReader("{}"))
	}()
	return testCtx.waitForState("a live session", func(state string) bool {
		return state != "" && state != "idle"
	})
}

func (testCtx *TestContext) theScanResponseShouldArrive() error {
	if testCtx.pendingScan == nil {
		return errors.New("no scan was started")
	}
	select {
	case res := <-testCtx.pendingScan:
		testCtx.pendingScan = nil
		return testCtx.record(res)
	case <-time.After(requestTimeout):
		return errors.New("scan response did not arrive")
	}
}

func (testCtx *TestContext) theOperatorTypes(line string) error {
	if testCtx.HTTPTestServer == nil || testCtx.HTTPTestServer.Operator == nil {
		return errors.New("the server has no operator prompt")
	}
	_, err := io.WriteString(testCtx.HTTPTestServer.Operator, line+"\n")
	return err
}

func (testCtx *TestContext) theServerStateShouldBecome(state string) error {
	return testCtx.waitForState(fmt.Sprintf("%q", state), func(s string) bool { return s == state })
}

// waitForState polls /health until the coordinator state satisfies ok.
func (testCtx *TestContext) waitForState(want string, ok func(string) bool) error {
	deadline := time.Now().Add(requestTimeout)
	var last string
	for time.Now().Before(deadline) {
		res := testCtx.do(http.MethodGet, "/health", "", nil)
		if res.err != nil {
			return res.err
		}
		var health server.HealthResponse
		if err := json.Unmarshal([]byte(res.body), &health); err != nil {
			return fmt.Errorf("invalid health response: %w", err)
		}
		if ok(health.State) {
			return nil
		}
		last = health.State
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("server state is %q, expected %s", last, want)
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("response status is %d, expected %d\nBody: %s",
			testCtx.LastHTTPStatusCode, status, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, expected string) error {
	var data any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &data); err != nil {
		return fmt.Errorf("response is not JSON: %w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	return checkJSONValue(data, field, expected)
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != expected {
		return fmt.Errorf("header %s is %q, expected %q", name, got, expected)
	}
	return nil
}
