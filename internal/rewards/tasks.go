package rewards

import (
	"sort"
	"time"
)

// Task is an out-of-band action that earns credits when proven.
type Task struct {
	Type     string        `json:"type"`
	Name     string        `json:"name"`
	Points   int64         `json:"points"`
	Duration time.Duration `json:"duration"`
}

var tasks = map[string]Task{
	"video_watch":   {Type: "video_watch", Name: "Watch a sponsored video", Points: 1, Duration: 30 * time.Second},
	"daily_checkin": {Type: "daily_checkin", Name: "Daily check-in", Points: 1},
	"share_app":     {Type: "share_app", Name: "Share the app", Points: 1},
}

func LookupTask(taskType string) (Task, bool) {
	t, ok := tasks[taskType]
	return t, ok
}

// Tasks returns the task catalogue ordered by type.
func Tasks() []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
