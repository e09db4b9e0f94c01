package harvest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ChannelHealth is one row of the verify report.
type ChannelHealth struct {
	Name       string
	Exists     bool
	LastUpload time.Time
	Inactive   bool
}

// VerifyChannels produces a reachability/activity report for every channel
// without fetching any comments. A channel is flagged inactive when its last
// upload is older than cutoffDays (or when it has no resolvable uploads).
func VerifyChannels(
	ctx context.Context,
	stats ChannelStats,
	clock Clock,
	channels map[string]ChannelSource,
	cutoffDays int,
) ([]ChannelHealth, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	cutoff := clock.Now().UTC().AddDate(0, 0, -cutoffDays)

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	report := make([]ChannelHealth, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		src := channels[name]

		exists, err := stats.ChannelExists(ctx, src.ChannelID)
		if err != nil {
			return report, fmt.Errorf("verify %s: %w", name, err)
		}
		if !exists {
			report = append(report, ChannelHealth{Name: name, Inactive: true})
			continue
		}

		last, ok, err := stats.LastUploadDate(ctx, src.ChannelID)
		if err != nil {
			return report, fmt.Errorf("last upload for %s: %w", name, err)
		}
		report = append(report, ChannelHealth{
			Name:       name,
			Exists:     true,
			LastUpload: last,
			Inactive:   !ok || last.Before(cutoff),
		})
	}
	return report, nil
}

// FormatHealthReport renders the verify report as aligned text lines.
func FormatHealthReport(report []ChannelHealth) string {
	var b strings.Builder
	for _, row := range report {
		upload := "never"
		if !row.LastUpload.IsZero() {
			upload = row.LastUpload.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%-30s exists:%-5v inactive:%-5v last_upload:%s\n",
			row.Name, row.Exists, row.Inactive, upload)
	}
	return b.String()
}
