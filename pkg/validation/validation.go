package validation

import (
	"fmt"
	"net/url"
	"regexp"
)

const (
	MinWorkers = 1
	MaxWorkers = 32

	maxChannelNameLen = 128
)

var channelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]*$`)

func ValidateWorkerCount(workers int) error {
	if workers < MinWorkers || workers > MaxWorkers {
		return fmt.Errorf("worker count must be between %d and %d, got %d", MinWorkers, MaxWorkers, workers)
	}
	return nil
}

func ValidateNonEmptyString(fieldName, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

// ValidateEndpoint requires an absolute http(s) URL.
func ValidateEndpoint(fieldName, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", fieldName, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}
	return nil
}

// ValidateChannelName keeps channel names usable as Redis channel keys.
func ValidateChannelName(name string) error {
	if name == "" {
		return fmt.Errorf("channel name cannot be empty")
	}
	if len(name) > maxChannelNameLen {
		return fmt.Errorf("channel name must be at most %d characters, got %d", maxChannelNameLen, len(name))
	}
	if !channelNamePattern.MatchString(name) {
		return fmt.Errorf("invalid channel name: %q", name)
	}
	return nil
}
