package bot

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"rss_watch/internal/model"
)

// ParseFilterArgs parses arguments for /addfilter.
// Format: <name> <regex...>; the pattern keeps its inner spacing.
func ParseFilterArgs(args string) (model.FilterRule, error) {
	name, pattern, _ := strings.Cut(strings.TrimSpace(args), " ")
	pattern = strings.TrimSpace(pattern)
	if name == "" || pattern == "" {
		return model.FilterRule{}, errors.New("usage: /addfilter <name> <regex>")
	}
	return model.FilterRule{Name: name, Pattern: pattern, Enabled: true}, nil
}

// ParseFeedURL extracts an http(s) feed URL from command arguments.
func ParseFeedURL(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", errors.New("feed URL is required")
	}
	u, err := url.Parse(fields[0])
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid feed URL %q", fields[0])
	}
	return fields[0], nil
}

// ParseNameArg extracts a single filter name from command arguments.
func ParseNameArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", errors.New("filter name is required")
	}
	return fields[0], nil
}
