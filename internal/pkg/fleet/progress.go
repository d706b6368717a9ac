package fleet

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress is the mission progress parsed from a workload's log tail.
type Progress struct {
	Current  int     `json:"current_waypoint"`
	Total    int     `json:"total_waypoints"`
	Percent  float64 `json:"progress_percent"`
	Complete bool    `json:"mission_complete"`
}

var waypointRe = regexp.MustCompile(`Waypoint (\d+)/(\d+):`)

const completeMarker = "MISSION COMPLETE!"

// ParseProgress scans log output for the latest waypoint marker. The mission
// emits lines like "Waypoint 5/25: (x, y)"; the last occurrence wins. The
// completion marker forces Complete and 100% regardless of the waypoint
// numbers, which can lag one line behind.
func ParseProgress(logs string) Progress {
	var p Progress

	matches := waypointRe.FindAllStringSubmatch(logs, -1)
	if len(matches) > 0 {
		last := matches[len(matches)-1]
		p.Current, _ = strconv.Atoi(last[1])
		p.Total, _ = strconv.Atoi(last[2])
		if p.Total > 0 {
			p.Percent = round1(float64(p.Current) / float64(p.Total) * 100)
		}
	}

	if strings.Contains(logs, completeMarker) {
		p.Complete = true
		p.Percent = 100
	}
	return p
}
