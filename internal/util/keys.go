package util

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const keyPrefix = "lateral"

// StoreKey namespaces key under region for a flat byte store.
func StoreKey(region, key string) string {
	return keyPrefix + ":" + region + ":" + key
}

// RegionKey names the hash (or index) holding every key of a region.
func RegionKey(region string) string {
	return keyPrefix + ":{" + region + "}"
}

// EventChannel is the pub/sub channel mutations of region are published on.
func EventChannel(region string) string {
	return keyPrefix + ":events:" + region
}

// EventChannelPattern matches every EventChannel.
const EventChannelPattern = keyPrefix + ":events:*"

// CompilePattern compiles a key pattern. Patterns are regular expressions
// matched against the whole key.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("lateral: bad key pattern %q: %w", pattern, err)
	}
	return re, nil
}

// MatchKeys returns the keys matching re, sorted.
func MatchKeys(re *regexp.Regexp, keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if re.MatchString(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// PeerLabel shortens a host:port list for log fields.
func PeerLabel(peers []string) string {
	s := make([]string, len(peers))
	copy(s, peers)
	sort.Strings(s)
	return strings.Join(s, ",")
}
