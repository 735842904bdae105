package icon

import _ "embed"

// Logo is the tray and notification icon
//
//go:embed assets/logo.ico
var Logo []byte

// EditConfig is the cog icon in the edit config menu option
//
//go:embed assets/edit-config.ico
var EditConfig []byte

// RefreshSessions is the reload icon in the refresh sessions menu option
//
//go:embed assets/refresh-sessions.ico
var RefreshSessions []byte
