package files

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"myxcli/internal/dataset"
)

var dateRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// ExtractDay returns the first YYYY-MM-DD date embedded in a file name, or
// false when none is present.
func ExtractDay(name string) (string, bool) {
	m := dateRe.FindString(name)
	if m == "" {
		return "", false
	}
	if _, err := time.ParseInLocation(dataset.DayFormat, m, time.UTC); err != nil {
		return "", false
	}
	return m, true
}

// PartitionPath builds the path of a partition file inside a stage directory:
//
//	<stageDir>/domain=<domain>/<source>__<step>__<day>.parquet
//	<stageDir>/domain=<domain>/<source>__<step>__<window>__<day>.parquet
func PartitionPath(stageDir, step string, key dataset.PartitionKey) string {
	parts := []string{key.Source, step}
	if key.Window != "" {
		parts = append(parts, key.Window)
	}
	parts = append(parts, key.Day)
	name := strings.Join(parts, "__") + ".parquet"
	return filepath.Join(stageDir, "domain="+key.Domain, name)
}

// ParsePartitionPath reverses PartitionPath. It returns the partition key and
// the step label embedded in the stem.
func ParsePartitionPath(path string) (dataset.PartitionKey, string, error) {
	domain := ""
	if parent := filepath.Base(filepath.Dir(path)); strings.HasPrefix(parent, "domain=") {
		domain = strings.TrimPrefix(parent, "domain=")
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(stem, "__")
	switch len(parts) {
	case 3: // source__step__day
		return dataset.PartitionKey{
			Source: parts[0],
			Domain: domain,
			Day:    parts[2],
		}, parts[1], nil
	case 4: // source__step__window__day
		return dataset.PartitionKey{
			Source: parts[0],
			Domain: domain,
			Day:    parts[3],
			Window: parts[2],
		}, parts[1], nil
	}
	return dataset.PartitionKey{}, "", fmt.Errorf(
		"cannot parse partition file name %s (expected 3 or 4 '__'-separated parts)", filepath.Base(path))
}

// ParseRawStem splits a raw CSV stem <source>_<YYYY-MM-DD> into source and
// day. Substitutions normalize awkward source names before splitting.
func ParseRawStem(stem string, substitutions map[string]string) (source, day string, err error) {
	name := stem
	for src, target := range substitutions {
		name = strings.ReplaceAll(name, src, target)
	}

	loc := dateRe.FindStringIndex(name)
	if loc == nil {
		return "", "", fmt.Errorf("no date found in raw file name %q", stem)
	}
	day = name[loc[0]:loc[1]]
	source = strings.TrimRight(name[:loc[0]], "_")
	if source == "" {
		return "", "", fmt.Errorf("no source prefix in raw file name %q", stem)
	}
	return source, day, nil
}
