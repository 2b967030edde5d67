package artifact

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// timestampLayout is the UTC stamp used in bundle names and meta.json.
const timestampLayout = "20060102_150405"

// Key identifies one crash bundle.
// Directory format: crash_[UTC stamp]_pid[PID]_[Seq]_[ID]
// Example: crash_20261018_140322_pid4312_000007_9f86d081
type Key struct {
	Time time.Time
	PID  int
	Seq  uint64
	ID   string
}

// nameRegex matches: crash_20261018_140322_pid4312_000007_9f86d081
var nameRegex = regexp.MustCompile(`^crash_(\d{8}_\d{6})_pid(\d+)_(\d{6,})_([a-f0-9]{8})$`)

// Name renders the bundle directory name.
func (k Key) Name() string {
	return fmt.Sprintf("crash_%s_pid%d_%06d_%s",
		k.Time.UTC().Format(timestampLayout),
		k.PID,
		k.Seq,
		k.ID,
	)
}

// ParseName recovers a Key from a bundle directory name.
func ParseName(name string) (Key, error) {
	matches := nameRegex.FindStringSubmatch(name)
	if matches == nil {
		return Key{}, fmt.Errorf("bundle name does not match expected format: %s", name)
	}

	ts, err := time.ParseInLocation(timestampLayout, matches[1], time.UTC)
	if err != nil {
		return Key{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	pid, err := strconv.Atoi(matches[2])
	if err != nil {
		return Key{}, fmt.Errorf("failed to parse pid: %w", err)
	}

	seq, err := strconv.ParseUint(matches[3], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("failed to parse sequence: %w", err)
	}

	return Key{Time: ts, PID: pid, Seq: seq, ID: matches[4]}, nil
}
