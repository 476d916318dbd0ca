package scheduler

import (
	"fmt"
	"strings"

	"github.com/observalabs/mirador/internal/apperr"
	"github.com/observalabs/mirador/internal/config"
	"github.com/observalabs/mirador/internal/jobqueue"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Entry is one schedule line. Schedule lines are data, not code.
type Entry struct {
	Name  string         `mapstructure:"name"`
	Cron  string         `mapstructure:"cron"`
	Queue string         `mapstructure:"queue"`
	Job   string         `mapstructure:"job"`
	Args  map[string]any `mapstructure:"args"`
}

// defaultEntries are the two built-in schedules: six-hourly full
// ingestion and the 03:00 metrics recompute.
func defaultEntries() []Entry {
	return []Entry{
		{Name: "ingest-all", Cron: "0 */6 * * *", Queue: string(jobqueue.QueueIngest), Job: "ingest:all"},
		{Name: "metrics-recompute-all", Cron: "0 3 * * *", Queue: string(jobqueue.QueueMetrics), Job: "metrics:recompute-all"},
	}
}

// LoadEntries reads the schedule file; a missing file falls back to
// the built-ins, a malformed one is a startup fatal.
func LoadEntries(cfg config.Config) ([]Entry, error) {
	v := viper.New()
	v.SetConfigFile(cfg.ScheduleFile)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || isNotExist(err) {
			return validateEntries(defaultEntries())
		}
		return nil, apperr.Wrap(apperr.KindConfig, "schedule file unreadable", err)
	}

	var entries []Entry
	if err := v.UnmarshalKey("schedules", &entries); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "schedule file malformed", err)
	}
	if len(entries) == 0 {
		entries = defaultEntries()
	}
	return validateEntries(entries)
}

func validateEntries(entries []Entry) ([]Entry, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, apperr.New(apperr.KindConfig, fmt.Sprintf("schedule %d has no name", i))
		}
		if seen[e.Name] {
			return nil, apperr.New(apperr.KindConfig, fmt.Sprintf("duplicate schedule %q", e.Name))
		}
		seen[e.Name] = true
		if _, err := parser.Parse(e.Cron); err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, fmt.Sprintf("schedule %q has malformed cron %q", e.Name, e.Cron), err)
		}
		switch jobqueue.QueueName(e.Queue) {
		case jobqueue.QueueIngest, jobqueue.QueueNormalize, jobqueue.QueueMetrics, jobqueue.QueueFeed:
		default:
			return nil, apperr.New(apperr.KindConfig, fmt.Sprintf("schedule %q names unknown queue %q", e.Name, e.Queue))
		}
		if strings.TrimSpace(e.Job) == "" {
			return nil, apperr.New(apperr.KindConfig, fmt.Sprintf("schedule %q has no job", e.Name))
		}
	}
	return entries, nil
}

func isNotExist(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file")
}
