// Package simlink speaks to the simulated multirotor bridge over a single
// websocket carrying JSON request/response pairs. It exposes the two faces
// of the simulator this module needs: the camera feed and the actuator
// command surface. The bridge's own flight controller integrates dynamics
// continuously, so issued commands are fire-and-forget and every state read
// is a fresh query.
package simlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/model"
)

// ErrNotConnected reports a call made before Connect or after Disconnect.
var ErrNotConnected = errors.New("simlink: not connected")

// Actuator is the command surface of the simulated multirotor. The
// executor and the continuous-input controller both hold this interface.
type Actuator interface {
	State(ctx context.Context) (model.DroneState, error)
	MoveToPosition(ctx context.Context, x, y, z, velocity float64) error
	MoveByVelocity(ctx context.Context, vx, vy, vz float64, duration time.Duration) error
	RotateByYawRate(ctx context.Context, rate float64, duration time.Duration) error
	Hover(ctx context.Context) error
	Reset(ctx context.Context) error
	Connected() bool
}

// Client is the websocket bridge client. All calls serialise on one
// connection; the bridge answers each request before the next is sent.
type Client struct {
	addr string
	log  logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// NewClient prepares a client for the bridge at addr (host:port). No network
// activity happens until Connect.
func NewClient(addr string, log logging.Logger) *Client {
	if log == nil {
		log = logging.Noop()
	}
	return &Client{addr: addr, log: log}
}

type request struct {
	ID     uint64         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Connect dials the bridge and takes API control of the vehicle.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/api/v1"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial simulator bridge %s: %w", c.addr, err)
	}
	c.conn = conn

	for _, m := range []struct {
		method string
		params map[string]any
	}{
		{"confirmConnection", nil},
		{"enableApiControl", map[string]any{"enabled": true}},
		{"armDisarm", map[string]any{"arm": true}},
	} {
		if err := c.callLocked(ctx, m.method, m.params, nil); err != nil {
			conn.Close()
			c.conn = nil
			return fmt.Errorf("handshake %s: %w", m.method, err)
		}
	}

	c.log.Info(ctx, "connected to simulator bridge", logging.String("addr", c.addr))
	return nil
}

// Disconnect releases API control and closes the websocket. Idempotent;
// release failures are logged, not returned, so teardown always completes.
func (c *Client) Disconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.callLocked(ctx, "armDisarm", map[string]any{"arm": false}, nil); err != nil {
		c.log.Warn(ctx, "disarm on disconnect failed", logging.Err(err))
	}
	if err := c.callLocked(ctx, "enableApiControl", map[string]any{"enabled": false}, nil); err != nil {
		c.log.Warn(ctx, "api control release failed", logging.Err(err))
	}
	c.conn.Close()
	c.conn = nil
	c.log.Info(ctx, "disconnected from simulator bridge")
}

// Connected reports whether the websocket is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLocked(ctx, method, params, out)
}

func (c *Client) callLocked(ctx context.Context, method string, params map[string]any, out any) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	c.conn.SetReadDeadline(deadline)

	c.nextID++
	req := request{ID: c.nextID, Method: method, Params: params}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%s: write: %w", method, err)
	}

	var resp response
	if err := c.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("%s: read: %w", method, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("%s: response id %d does not match request id %d", method, resp.ID, req.ID)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s: bridge error: %s", method, resp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// wireState matches the bridge's state payload. The bridge reports position
// in the simulator's NED frame: z is down-positive.
type wireState struct {
	Position    model.Vector3     `json:"position"`
	Velocity    model.Vector3     `json:"velocity"`
	Orientation model.Orientation `json:"orientation"`
	Collision   bool              `json:"collision"`
}

// State queries the current vehicle state. Z is converted to altitude,
// positive up.
func (c *Client) State(ctx context.Context) (model.DroneState, error) {
	var ws wireState
	if err := c.call(ctx, "getMultirotorState", nil, &ws); err != nil {
		return model.DroneState{}, err
	}
	st := model.DroneState{
		Position:    ws.Position,
		Velocity:    ws.Velocity,
		Orientation: ws.Orientation,
		Collision:   ws.Collision,
	}
	st.Position.Z = -ws.Position.Z
	return st, nil
}

// wireImage matches the bridge's camera payload; Data is base64 in JSON.
type wireImage struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// CameraImage fetches one frame from the named simulator camera.
func (c *Client) CameraImage(ctx context.Context, camera string) (model.Frame, error) {
	var img wireImage
	if err := c.call(ctx, "simGetImage", map[string]any{"camera": camera}, &img); err != nil {
		return model.Frame{}, err
	}
	if len(img.Data) == 0 {
		return model.Frame{}, fmt.Errorf("simGetImage: empty image payload")
	}
	return model.Frame{Width: img.Width, Height: img.Height, Data: img.Data}, nil
}

// MoveToPosition commands a positioning move. z is altitude, positive up;
// the call converts back to the simulator's down-positive frame.
func (c *Client) MoveToPosition(ctx context.Context, x, y, z, velocity float64) error {
	return c.call(ctx, "moveToPosition", map[string]any{
		"x": x, "y": y, "z": -z, "velocity": velocity,
	}, nil)
}

// MoveByVelocity commands a velocity move for the given duration. vz is
// positive up, converted to the simulator frame on the wire.
func (c *Client) MoveByVelocity(ctx context.Context, vx, vy, vz float64, duration time.Duration) error {
	return c.call(ctx, "moveByVelocity", map[string]any{
		"vx": vx, "vy": vy, "vz": -vz, "duration": duration.Seconds(),
	}, nil)
}

// RotateByYawRate commands a yaw-rate rotation in degrees per second.
func (c *Client) RotateByYawRate(ctx context.Context, rate float64, duration time.Duration) error {
	return c.call(ctx, "rotateByYawRate", map[string]any{
		"rate": rate, "duration": duration.Seconds(),
	}, nil)
}

// Hover commands the vehicle to hold position.
func (c *Client) Hover(ctx context.Context) error {
	return c.call(ctx, "hover", nil, nil)
}

// Reset resets the simulation environment.
func (c *Client) Reset(ctx context.Context) error {
	return c.call(ctx, "reset", nil, nil)
}
