package pathmap

import (
	"context"

	"loomis/scheduler"
)

// Tasks returns the two scheduled tasks a refresher registers with the
// scheduler: a cheap quick-check every 5 minutes, and a daily full rebuild
// as a backstop against the quick-check's probe ever being wrong.
func (m *Map) Tasks(taskNamePrefix string) []scheduler.Task {
	return []scheduler.Task{
		{
			Name:     taskNamePrefix + ".pathmap.quickcheck",
			CronExpr: "30 */5 * * * *",
			Work: func(ctx context.Context) error {
				return m.QuickCheck(ctx)
			},
		},
		{
			Name:     taskNamePrefix + ".pathmap.fullrebuild",
			CronExpr: "0 45 3 * * *",
			Work: func(ctx context.Context) error {
				return m.FullRebuild(ctx)
			},
		},
	}
}
