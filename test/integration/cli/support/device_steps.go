package support

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
)

// DeviceClient plays a phone or handheld scanner attached at /ws/device.
type DeviceClient struct {
	conn *websocket.Conn
	// session is the request id of the last startRead received.
	session string
}

// Close disconnects the device.
func (d *DeviceClient) Close() error {
	return d.conn.Close()
}

func (d *DeviceClient) send(msg string) error {
	_ = d.conn.SetWriteDeadline(time.Now().Add(requestTimeout))
	return d.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (d *DeviceClient) read() (string, error) {
	_ = d.conn.SetReadDeadline(time.Now().Add(requestTimeout))
	_, data, err := d.conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("device read failed: %w", err)
	}
	return string(data), nil
}

// RegisterDeviceSteps registers the remote device conversation steps.
func (testCtx *TestContext) RegisterDeviceSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a remote device connects$`, testCtx.aRemoteDeviceConnects)
	sc.Step(`^a second device should be rejected with status (\d+)$`, testCtx.aSecondDeviceShouldBeRejected)
	sc.Step(`^the device should receive a "([^"]*)" command$`, testCtx.theDeviceShouldReceiveCommand)
	sc.Step(`^the device reports "([^"]*)"$`, testCtx.theDeviceReports)
	sc.Step(`^the device reports the code "([^"]*)" in format "([^"]*)"$`, testCtx.theDeviceReportsCode)
	sc.Step(`^the device reports the error "([^"]*)"$`, testCtx.theDeviceReportsError)
	sc.Step(`^the device disconnects$`, testCtx.theDeviceDisconnects)
}

func (testCtx *TestContext) deviceURL() (string, error) {
	url, err := testCtx.serverURL("/ws/device")
	if err != nil {
		return "", err
	}
	return "ws" + strings.TrimPrefix(url, "http"), nil
}

func (testCtx *TestContext) aRemoteDeviceConnects() error {
	url, err := testCtx.deviceURL()
	if err != nil {
		return err
	}
	remote := testCtx.HTTPTestServer.Remote
	if remote == nil {
		return errors.New("the server has no remote device adapter")
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("device failed to connect: %w", err)
	}
	testCtx.Device = &DeviceClient{conn: conn}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return remote.WaitForDevice(ctx)
}

func (testCtx *TestContext) aSecondDeviceShouldBeRejected(status int) error {
	url, err := testCtx.deviceURL()
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		_ = conn.Close()
		return errors.New("second device was accepted")
	}
	if resp == nil {
		return fmt.Errorf("second device failed without a response: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != status {
		return fmt.Errorf("second device got status %d, expected %d", resp.StatusCode, status)
	}
	return nil
}

// theDeviceShouldReceiveCommand reads "<command> <id> ..." and remembers the id.
func (testCtx *TestContext) theDeviceShouldReceiveCommand(command string) error {
	if testCtx.Device == nil {
		return errors.New("no device is connected")
	}
	msg, err := testCtx.Device.read()
	if err != nil {
		return err
	}
	fields := strings.Fields(msg)
	if len(fields) < 2 || fields[0] != command {
		return fmt.Errorf("device received %q, expected a %s command", msg, command)
	}
	testCtx.Device.session = fields[1]
	return nil
}

// theDeviceReports sends "<id> <event>" for the current session.
func (testCtx *TestContext) theDeviceReports(event string) error {
	if testCtx.Device == nil || testCtx.Device.session == "" {
		return errors.New("the device has no session")
	}
	return testCtx.Device.send(testCtx.Device.session + " " + event)
}

func (testCtx *TestContext) theDeviceReportsCode(text, format string) error {
	return testCtx.theDeviceReports(bridge.EventCodeFound.NativeName() + " " + bridge.CodePayload(text, format))
}

func (testCtx *TestContext) theDeviceReportsError(reason string) error {
	return testCtx.theDeviceReports(bridge.EventError.String() + " " + reason)
}

func (testCtx *TestContext) theDeviceDisconnects() error {
	if testCtx.Device == nil {
		return errors.New("no device is connected")
	}
	err := testCtx.Device.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = testCtx.Device.Close()
	testCtx.Device = nil
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}

	deadline := time.Now().Add(requestTimeout)
	for testCtx.HTTPTestServer.Remote.Connected() {
		if time.Now().After(deadline) {
			return errors.New("server still reports the device as connected")
		}
		time.Sleep(pollInterval)
	}
	return nil
}
