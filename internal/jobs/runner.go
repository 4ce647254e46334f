package jobs

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	cron "github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

type Job interface {
	Run()
}

type CronJob interface {
	Schedule() string
	Job
}

// TaskExecutor runs jobs on the cron scheduler. A job never overlaps with
// itself: a tick that finds the previous run still going is skipped.
type TaskExecutor struct {
	cron            *cron.Cron
	jobs            []Job
	cronJobs        []CronJob
	runningJobs     mapset.Set[Job]
	runningCronJobs mapset.Set[CronJob]
	muJobs          sync.Mutex
	muCronJobs      sync.Mutex
}

func NewTaskExecutor(jobs []Job, cronJobs []CronJob) *TaskExecutor {
	return &TaskExecutor{
		cron:            cron.New(),
		jobs:            jobs,
		cronJobs:        cronJobs,
		runningCronJobs: mapset.NewSet[CronJob](),
		runningJobs:     mapset.NewSet[Job](),
	}
}

// Run schedules every job and starts the cron in its own goroutine.
func (t *TaskExecutor) Run() error {
	for _, job := range t.cronJobs {
		job := job
		err := t.cron.AddFunc(job.Schedule(), func() {
			if !claim(&t.muCronJobs, t.runningCronJobs, job) {
				logrus.Warn("task is already running")
				return
			}
			defer release(&t.muCronJobs, t.runningCronJobs, job)

			job.Run()
		})

		if err != nil {
			logrus.Errorf("failed to add task to cron: %v", err)
			return err
		}
	}

	for _, job := range t.jobs {
		job := job
		err := t.cron.AddFunc("@every 1s", func() {
			if !claim(&t.muJobs, t.runningJobs, job) {
				logrus.Debug("task is already running")
				return
			}
			defer release(&t.muJobs, t.runningJobs, job)

			job.Run()
		})

		if err != nil {
			logrus.Errorf("failed to add task to cron: %v", err)
			return err
		}
	}

	t.cron.Start()
	return nil
}

func (t *TaskExecutor) Stop() {
	logrus.Infof("stopping all tasks")
	t.cron.Stop()
}

func claim[T comparable](mu *sync.Mutex, running mapset.Set[T], job T) bool {
	mu.Lock()
	defer mu.Unlock()

	if running.Contains(job) {
		return false
	}
	running.Add(job)
	return true
}

func release[T comparable](mu *sync.Mutex, running mapset.Set[T], job T) {
	mu.Lock()
	defer mu.Unlock()
	running.Remove(job)
}
