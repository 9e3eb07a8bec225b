package fetch

import (
	"sync"
	"time"
)

// Job 是一次下载任务：URL 及其请求头。创建后不再修改。
type Job struct {
	URL     string
	Headers map[string]string
}

// Queue 是可被多个 worker 并发消费的有序任务缓冲，每个任务只会被交付一次。
type Queue struct {
	mu     sync.Mutex
	items  []Job
	notify chan struct{}
}

// NewQueue 以 jobs 为初始内容构建队列。
func NewQueue(jobs ...Job) *Queue {
	items := make([]Job, len(jobs))
	copy(items, jobs)
	return &Queue{
		items:  items,
		notify: make(chan struct{}, 1),
	}
}

// Push 将任务追加到队尾并唤醒一个等待者。
func (q *Queue) Push(job Job) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop 取出队首任务；队列为空时最多等待 timeout，仍为空则返回 false。
func (q *Queue) Pop(timeout time.Duration) (Job, bool) {
	if job, ok := q.tryPop(); ok {
		return job, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if job, ok := q.tryPop(); ok {
				return job, true
			}
		case <-timer.C:
			return q.tryPop()
		}
	}
}

// Len 返回尚未被取走的任务数。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) tryPop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Job{}, false
	}
	job := q.items[0]
	q.items[0] = Job{}
	q.items = q.items[1:]
	return job, true
}
