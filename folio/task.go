package folio

import (
	"context"
	"time"

	"github.com/golang/glog"
)

const taskQueueSize = 256

// Task is one unit of recompute work on an account's serial queue.
type Task struct {
	taskId Id
	name   string
	run    func(ctx context.Context) error
	done   func(err error)
}

// TaskRunner executes an account's recompute work one task at a time.
// Both the invalidation cascade and the scheduler enqueue here, so
// overlapping triggers serialize instead of interleaving. Task state is
// broadcast on the task-list and task-progress channels.
type TaskRunner struct {
	ctx    context.Context
	cancel context.CancelFunc

	accountName string
	registry    *SubscriptionRegistry

	queue chan *Task
}

func NewTaskRunner(ctx context.Context, accountName string, registry *SubscriptionRegistry) *TaskRunner {
	cancelCtx, cancel := context.WithCancel(ctx)
	runner := &TaskRunner{
		ctx:         cancelCtx,
		cancel:      cancel,
		accountName: accountName,
		registry:    registry,
		queue:       make(chan *Task, taskQueueSize),
	}
	go runner.run()
	return runner
}

// Enqueue adds a task. `done`, when set, observes the task's terminal
// error (nil on success); it also fires with a cancellation error if the
// runner shuts down first.
func (self *TaskRunner) Enqueue(name string, run func(ctx context.Context) error, done func(err error)) Id {
	task := &Task{
		taskId: NewId(),
		name:   name,
		run:    run,
		done:   done,
	}
	select {
	case <-self.ctx.Done():
		if done != nil {
			done(context.Canceled)
		}
		return task.taskId
	case self.queue <- task:
	}

	self.registry.Publish(self.accountName, ChannelTaskList, TaskListEvent{
		TaskId: task.taskId,
		Name:   name,
		Done:   false,
	})
	return task.taskId
}

func (self *TaskRunner) run() {
	for {
		select {
		case <-self.ctx.Done():
			self.drain()
			return
		case task := <-self.queue:
			self.runOne(task)
		}
	}
}

func (self *TaskRunner) runOne(task *Task) {
	self.registry.Publish(self.accountName, ChannelTaskProgress, TaskProgressEvent{
		TaskId:   task.taskId,
		Name:     task.name,
		Fraction: 0,
	})

	startTime := time.Now()
	err := task.run(self.ctx)
	if err != nil {
		// one failed task must not stop the ones behind it
		glog.Infof("[task]%s %s error = %s\n", self.accountName, task.name, err)
	} else {
		glog.V(1).Infof("[task]%s %s done in %s\n", self.accountName, task.name, time.Since(startTime))
	}

	self.registry.Publish(self.accountName, ChannelTaskProgress, TaskProgressEvent{
		TaskId:   task.taskId,
		Name:     task.name,
		Fraction: 1,
	})
	self.registry.Publish(self.accountName, ChannelTaskList, TaskListEvent{
		TaskId: task.taskId,
		Name:   task.name,
		Done:   true,
	})

	if task.done != nil {
		task.done(err)
	}
}

func (self *TaskRunner) drain() {
	for {
		select {
		case task := <-self.queue:
			if task.done != nil {
				task.done(context.Canceled)
			}
		default:
			return
		}
	}
}

func (self *TaskRunner) Close() {
	self.cancel()
}
