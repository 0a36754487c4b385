package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// cronStopTimeout bounds how long Stop waits for in-flight jobs.
const cronStopTimeout = 30 * time.Second

// CronHandler fires a flow on a six-field cron expression (with seconds).
//
// trigger config:
//
//	expression: schedule, e.g. "0 */5 * * * *" ("cron" accepted as a
//	            legacy key)
type CronHandler struct {
	proc     *flow.Process
	runner   Runner
	schedule string
	cron     *cron.Cron
	log      *logrus.Entry
}

// NewCronHandler validates the schedule expression up front so a bad
// definition fails at deploy time, not at first firing.
func NewCronHandler(proc *flow.Process, runner Runner) (*CronHandler, error) {
	schedule, _ := proc.Trigger.Config["expression"].(string)
	if schedule == "" {
		schedule, _ = proc.Trigger.Config["cron"].(string)
	}
	if schedule == "" {
		return nil, fmt.Errorf("trigger: cron trigger of %q needs config field 'expression'", proc.Definition.ID)
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("trigger: invalid cron expression %q: %w", schedule, err)
	}

	return &CronHandler{
		proc:     proc,
		runner:   runner,
		schedule: schedule,
		log: logrus.WithFields(logrus.Fields{
			"component": "triggers",
			"trigger":   "cron",
			"process":   proc.Definition.ID,
		}),
	}, nil
}

func (h *CronHandler) Type() string { return "cron" }

func (h *CronHandler) Start() error {
	h.cron = cron.New(cron.WithSeconds())
	_, err := h.cron.AddFunc(h.schedule, h.fire)
	if err != nil {
		return err
	}
	h.cron.Start()
	h.log.WithField("schedule", h.schedule).Info("cron trigger started")
	return nil
}

// Stop halts the scheduler and waits for running jobs, but no longer than
// cronStopTimeout.
func (h *CronHandler) Stop() error {
	if h.cron == nil {
		return nil
	}
	done := h.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(cronStopTimeout):
		h.log.Warn("cron jobs still running at stop timeout")
	}
	return nil
}

func (h *CronHandler) fire() {
	data := map[string]interface{}{
		"datetime": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := h.runner.Execute(context.Background(), h.proc, data); err != nil {
		h.log.WithError(err).Warn("scheduled run failed")
	}
}
