//go:build linux

package linux

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// pollDesc describes a file descriptor being polled.
type pollDesc struct {
	fd       int                // File descriptor
	events   uint32             // Events to watch for
	callback func(uint32) error // Callback when events occur
}

// poller multiplexes readiness of a device fd and a wakeup eventfd.
type poller struct {
	epfd   int               // epoll file descriptor
	wakefd int               // eventfd for waking the poller
	mu     sync.Mutex        // Protects fds map
	fds    map[int]*pollDesc // Tracked file descriptors
}

// newPoller creates a new poller instance.
func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &poller{
		epfd:   epfd,
		wakefd: wakefd,
		fds:    make(map[int]*pollDesc),
	}

	if err := p.addFD(wakefd, unix.EPOLLIN, nil); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}

	return p, nil
}

// close releases the epoll and eventfd descriptors.
func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.wakefd >= 0 {
		errs = append(errs, unix.Close(p.wakefd))
		p.wakefd = -1
	}
	if p.epfd >= 0 {
		errs = append(errs, unix.Close(p.epfd))
		p.epfd = -1
	}
	p.fds = map[int]*pollDesc{}
	return errors.Join(errs...)
}

// addFD adds a file descriptor to the poller.
func (p *poller) addFD(fd int, events uint32, callback func(uint32) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	event := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return err
	}

	p.fds[fd] = &pollDesc{
		fd:       fd,
		events:   events,
		callback: callback,
	}
	return nil
}

// delFD removes a file descriptor from the poller.
func (p *poller) delFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.fds, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wake makes a blocked pollOnce return early.
func (p *poller) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wakefd, buf[:])
	return err
}

// pollOnce waits at most timeout milliseconds (-1 for infinite) and runs the
// callbacks of ready descriptors. It returns the number of callbacks run and
// the first callback error.
func (p *poller) pollOnce(timeout int) (int, error) {
	var events [MaxEpollEvents]unix.EpollEvent

	n, err := unix.EpollWait(p.epfd, events[:], timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}

	processed := 0
	var first error
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)

		if fd == p.wakefd {
			var buf [8]byte
			unix.Read(p.wakefd, buf[:])
			continue
		}

		p.mu.Lock()
		desc, ok := p.fds[fd]
		p.mu.Unlock()

		if ok && desc.callback != nil {
			if err := desc.callback(events[i].Events); err != nil && first == nil {
				first = err
			}
			processed++
		}
	}

	return processed, first
}
