package schema

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// checkFormat validates the supported string formats: "uri" (scheme + host
// required) and "date-time" (ISO-8601, with a trailing "Z" normalized to
// "+00:00" before parsing). Unknown formats are treated as unconstrained so
// registries may carry annotations the runtime does not interpret.
func checkFormat(value, format string) error {
	switch format {
	case "uri":
		return checkURI(value)
	case "date-time":
		return checkDateTime(value)
	default:
		return nil
	}
}

func checkURI(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid uri: %v", err)
	}
	if u.Scheme == "" {
		return errors.New("uri is missing a scheme")
	}
	if u.Host == "" {
		return errors.New("uri is missing a host")
	}
	return nil
}

func checkDateTime(value string) error {
	normalized := value
	if strings.HasSuffix(normalized, "Z") {
		normalized = strings.TrimSuffix(normalized, "Z") + "+00:00"
	}
	if _, err := time.Parse(time.RFC3339Nano, normalized); err != nil {
		return fmt.Errorf("invalid date-time: %v", err)
	}
	return nil
}
