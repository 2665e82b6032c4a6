package server

import (
	"time"

	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
)

// mDNS service discovery constants
var (
	MDNSServiceType = "_nfc-reader._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// HTTP routes
const (
	APIPrefix     = "/api/v1"
	RouteHealth   = APIPrefix + "/health"
	RouteRead     = APIPrefix + "/read"
	RouteStop     = APIPrefix + "/stop"
	RouteTag      = APIPrefix + "/tag"
	RouteSession  = APIPrefix + "/session"
	RouteWS       = "/ws"
	RoutePlatform = APIPrefix + "/platform"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

// WebSocket connection tuning
const (
	clientSendBuffer = 32
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
	maxMessageSize   = 64 * 1024
)
