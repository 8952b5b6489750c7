package config

import (
	"fmt"
	"strings"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	baseURLVar     = "BASE_URL"
	logLevelVar    = "LOG_LEVEL"
	environmentVar = "ENV"
)

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetLogLevel() string
	GetEnv() string
}

type EnvVars struct {
	src *source
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.src.get(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.src.get(appNameVar, "CIDS")
}

// GetBaseURL returns the externally visible URL of the service. It is used as
// the token issuer.
func (e EnvVars) GetBaseURL() string {
	return strings.TrimSuffix(e.src.get(baseURLVar, "http://localhost:8080"), "/")
}

func (e EnvVars) GetLogLevel() string {
	return e.src.get(logLevelVar, "info")
}

func (e EnvVars) GetEnv() string {
	return e.src.get(environmentVar, "DEV")
}
