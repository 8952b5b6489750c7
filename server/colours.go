package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ANSI colours for DEV console output.
const (
	red     = "\033[31m"
	green   = "\033[32m"
	yellow  = "\033[33m"
	blue    = "\033[34m"
	magenta = "\033[35m"
	cyan    = "\033[36m"
	gray    = "\033[90m"
	reset   = "\033[0m"
)

var methodColours = map[string]string{
	http.MethodGet:    green,
	http.MethodPost:   blue,
	http.MethodPut:    cyan,
	http.MethodDelete: yellow,
	http.MethodPatch:  magenta,
}

func methodColour(method string) string {
	if c, ok := methodColours[method]; ok {
		return c
	}
	return gray
}

func statusColour(code int) string {
	switch {
	case code >= 500:
		return red
	case code >= 400:
		return yellow
	case code >= 300:
		return cyan
	default:
		return green
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%s %-7s%s] %s", methodColour(method), method, reset, path)
}

func logRequest(method, path string, status int, took time.Duration) {
	log.Info().Msgf("[%s %-7s%s] %s %s%d%s %s",
		methodColour(method), method, reset,
		path,
		statusColour(status), status, reset,
		fmt.Sprint(took.Round(time.Microsecond)))
}
