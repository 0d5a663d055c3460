package processing

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// eventLoop owns a runtime for the lifetime of one asynchronous invocation.
// goja is not goroutine safe, so every callback runs on the loop goroutine.
type eventLoop struct {
	vm       *goja.Runtime
	jobs     chan func()
	stopped  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	onPanic  func(err error)
}

func newEventLoop(vm *goja.Runtime) *eventLoop {
	return &eventLoop{
		vm:      vm,
		jobs:    make(chan func(), 64),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// enqueue hands job to the loop. It returns false once the loop is stopped.
func (l *eventLoop) enqueue(job func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	select {
	case l.jobs <- job:
		return true
	case <-l.stopped:
		return false
	}
}

func (l *eventLoop) start(first func()) {
	go func() {
		defer close(l.done)
		defer func() {
			if r := recover(); r != nil && l.onPanic != nil {
				l.onPanic(fmt.Errorf("processing panic: %v", r))
			}
		}()

		first()
		for {
			select {
			case <-l.stopped:
				return
			case job := <-l.jobs:
				select {
				case <-l.stopped:
					return
				default:
				}
				job()
			}
		}
	}()
}

// stop prevents further jobs and interrupts any code still running.
func (l *eventLoop) stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		l.vm.Interrupt(errLoopStopped)
	})
}

func (l *eventLoop) wait() {
	<-l.done
}
