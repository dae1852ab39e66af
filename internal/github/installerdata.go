package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexString accepts both JSON strings and numbers, since the pack
// maintainers hand-edit installer-data.json and have shipped both.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = FlexString(num.String())
		return nil
	}
	return fmt.Errorf("expected string or number, got %s", string(data))
}

// InstallerData is the metadata file published at the repository root.
type InstallerData struct {
	// MinAppVersion is the minimum tool version the pack supports.
	MinAppVersion FlexString `json:"min_downloader_app_version"`
	// TotalSize is the human-readable size of the full pack.
	TotalSize FlexString `json:"total_size"`
}

// FetchInstallerData retrieves installer-data.json from the repository
// root on the given ref.
func (c *HTTPClient) FetchInstallerData(ctx context.Context, ref string) (*InstallerData, error) {
	body, err := c.DownloadBlob(ctx, ref, "installer-data.json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch installer data: %w", err)
	}

	var data InstallerData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse installer data: %w", err)
	}
	return &data, nil
}

// CompareVersions compares two dotted version strings numerically.
// It returns -1 when v1 < v2, 0 when equal, and 1 when v1 > v2.
// Missing components compare as zero; non-numeric components are skipped.
func CompareVersions(v1, v2 string) int {
	p1 := parseVersion(v1)
	p2 := parseVersion(v2)

	n := len(p1)
	if len(p2) > n {
		n = len(p2)
	}
	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(p1) {
			a = p1[i]
		}
		if i < len(p2) {
			b = p2[i]
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}
	return 0
}

func parseVersion(v string) []int {
	var parts []int
	for _, s := range strings.Split(v, ".") {
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		parts = append(parts, n)
	}
	return parts
}
