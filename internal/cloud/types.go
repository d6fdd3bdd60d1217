package cloud

import (
	"encoding/json"
	"time"
)

// Session is an authenticated cloud session.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Valid reports whether the session has a token that has not expired at now.
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && (s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt))
}

// Device is one entry of the cloud inventory. Properties hold decoded JSON
// scalars (bool, json.Number, string) keyed by bridge property name.
type Device struct {
	Serial        string
	Name          string
	Model         string
	StationSerial string

	// Address is the LAN address reported for stations; empty for devices.
	Address    string
	Properties map[string]any
}

// Inventory is the result of one ListDevices call.
type Inventory struct {
	Devices   []Device
	FetchedAt time.Time
}

// envelope is the common response wrapper of the vendor API.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginData struct {
	AuthToken      string `json:"auth_token"`
	TokenExpiresAt int64  `json:"token_expires_at"`
	UserID         string `json:"user_id"`
}

type param struct {
	ParamType  int    `json:"param_type"`
	ParamValue string `json:"param_value"`
}

type deviceEntry struct {
	DeviceSN      string  `json:"device_sn"`
	DeviceName    string  `json:"device_name"`
	DeviceModel   string  `json:"device_model"`
	StationSN     string  `json:"station_sn"`
	MainSWVersion string  `json:"main_sw_version"`
	Params        []param `json:"params"`
}

type hubEntry struct {
	StationSN     string  `json:"station_sn"`
	StationName   string  `json:"station_name"`
	StationModel  string  `json:"station_model"`
	IPAddr        string  `json:"ip_addr"`
	MainSWVersion string  `json:"main_sw_version"`
	Params        []param `json:"params"`
}

type pushTokenRequest struct {
	IsNotificationEnable bool   `json:"is_notification_enable"`
	Token                string `json:"token"`
	UserID               string `json:"user_id"`
}
