package hub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kursadbilgin/telemetry-engine/internal/domain"
)

// ConnectionString is the parsed form of
// Endpoint=sb://<namespace>.servicebus.windows.net/;SharedAccessKeyName=<name>;SharedAccessKey=<key>.
type ConnectionString struct {
	// Endpoint is the https base URL of the namespace, without trailing slash.
	Endpoint string
	KeyName  string
	Key      string
}

func ParseConnectionString(raw string) (ConnectionString, error) {
	var cs ConnectionString

	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("%w: malformed connection string segment %q", domain.ErrValidation, part)
		}

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			cs.Endpoint = strings.TrimSpace(value)
		case "sharedaccesskeyname":
			cs.KeyName = strings.TrimSpace(value)
		case "sharedaccesskey":
			cs.Key = strings.TrimSpace(value)
		}
	}

	if cs.Endpoint == "" {
		return ConnectionString{}, fmt.Errorf("%w: connection string has no Endpoint", domain.ErrValidation)
	}
	if cs.KeyName == "" || cs.Key == "" {
		return ConnectionString{}, fmt.Errorf("%w: connection string has no shared access key", domain.ErrValidation)
	}

	endpoint, err := url.Parse(cs.Endpoint)
	if err != nil || endpoint.Host == "" {
		return ConnectionString{}, fmt.Errorf("%w: invalid endpoint %q", domain.ErrValidation, cs.Endpoint)
	}
	if endpoint.Scheme == "sb" {
		endpoint.Scheme = "https"
	}
	cs.Endpoint = strings.TrimRight(endpoint.String(), "/")

	return cs, nil
}
