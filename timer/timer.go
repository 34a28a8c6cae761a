// timer/timer.go
package timer

import (
	"container/heap"
	"time"
)

// TimerTask 以 tick 为单位调度的任务
type TimerTask struct {
	Id       int64
	Due      uint64
	Interval uint64
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	if q[i].Due == q[j].Due {
		return q[i].Id < q[j].Id
	}
	return q[i].Due < q[j].Due
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// Scheduler runs callbacks on the host tick. It has no goroutine of its
// own and is not safe for concurrent use: Advance and the callbacks run on
// the owner's single mutation thread.
type Scheduler struct {
	queue  TimerQueue
	tasks  map[int64]*TimerTask
	now    uint64
	nextId int64
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		queue:  make(TimerQueue, 0),
		tasks:  make(map[int64]*TimerTask),
		nextId: 1,
	}
	heap.Init(&s.queue)
	return s
}

// After schedules callback to run on the tick that is `ticks` ticks from now.
// Zero ticks runs on the next Advance.
func (s *Scheduler) After(ticks uint64, callback func()) int64 {
	return s.add(ticks, 0, callback)
}

func (s *Scheduler) Every(ticks uint64, callback func()) int64 {
	if ticks == 0 {
		ticks = 1
	}
	return s.add(ticks, ticks, callback)
}

func (s *Scheduler) add(delay, interval uint64, callback func()) int64 {
	if delay == 0 {
		delay = 1
	}
	task := &TimerTask{
		Id:       s.nextId,
		Due:      s.now + delay,
		Interval: interval,
		Callback: callback,
	}
	s.nextId++

	heap.Push(&s.queue, task)
	s.tasks[task.Id] = task
	return task.Id
}

// Cancel reports whether a pending task was removed.
func (s *Scheduler) Cancel(timerId int64) bool {
	task, ok := s.tasks[timerId]
	if !ok {
		return false
	}
	delete(s.tasks, timerId)
	if task.index >= 0 {
		heap.Remove(&s.queue, task.index)
	}
	return true
}

func (s *Scheduler) CancelAll() {
	s.queue = s.queue[:0]
	s.tasks = make(map[int64]*TimerTask)
}

// Advance moves time forward one tick and runs every task that is due.
// Callbacks may schedule or cancel tasks.
func (s *Scheduler) Advance() {
	s.now++

	for s.queue.Len() > 0 {
		task := s.queue[0]
		if task.Due > s.now {
			break
		}

		heap.Pop(&s.queue)
		if task.Interval > 0 {
			task.Due = s.now + task.Interval
			heap.Push(&s.queue, task)
		} else {
			delete(s.tasks, task.Id)
		}

		task.Callback()
	}
}

func (s *Scheduler) Now() uint64 {
	return s.now
}

func (s *Scheduler) Pending() int {
	return len(s.tasks)
}

// Ticks converts a duration to a whole number of ticks, rounding up.
func Ticks(d, tick time.Duration) uint64 {
	if d <= 0 || tick <= 0 {
		return 0
	}
	return uint64((d + tick - 1) / tick)
}

// Countdown 按 tick 递减的倒计时
type Countdown struct {
	tick      time.Duration
	remaining uint64
}

func NewCountdown(d, tick time.Duration) *Countdown {
	n := Ticks(d, tick)
	return &Countdown{tick: tick, remaining: n}
}

// Tick decrements the counter and reports whether it has expired.
func (c *Countdown) Tick() bool {
	if c.remaining > 0 {
		c.remaining--
	}
	return c.remaining == 0
}

func (c *Countdown) Remaining() time.Duration {
	return time.Duration(c.remaining) * c.tick
}

// SecondsRemaining rounds up, so the display reads 1 until the very end.
func (c *Countdown) SecondsRemaining() int {
	r := c.Remaining()
	return int((r + time.Second - 1) / time.Second)
}
