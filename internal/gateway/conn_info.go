package gateway

import "time"

type ConnInfo struct {
	ConnID      string
	UserID      string
	UserName    string
	DeviceID    string
	IP          string
	ConnectedAt time.Time
}
