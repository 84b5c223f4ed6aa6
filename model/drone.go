package model

// Vector3 is a position or velocity in metres / metres-per-second. Z is
// altitude, positive up: the simulator bridge converts from the simulator's
// down-positive convention before this type is populated.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Orientation holds attitude in radians.
type Orientation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// DroneState is a point-in-time reading of the actuator. The platform is
// continuously integrated by its own flight controller, so a DroneState is
// stale the moment it is returned; callers that care must re-query.
type DroneState struct {
	Position    Vector3     `json:"position"`
	Velocity    Vector3     `json:"velocity"`
	Orientation Orientation `json:"orientation"`
	Collision   bool        `json:"collision"`
}
