package ptp

import (
	"errors"
	"sync"
)

// Pipe returns two connected in-memory Transports, host side and device
// side. Used by tests and the fake camera.
func Pipe() (host, device Transport) {
	h2d := make(chan []byte, 16)
	d2h := make(chan []byte, 16)
	done := make(chan struct{})
	var once sync.Once
	closer := func() { once.Do(func() { close(done) }) }
	host = &pipeEnd{send: h2d, recv: d2h, done: done, close: closer}
	device = &pipeEnd{send: d2h, recv: h2d, done: done, close: closer}
	return
}

var errPipeClosed = errors.New("ptp: pipe closed")

type pipeEnd struct {
	send  chan []byte
	recv  chan []byte
	done  chan struct{}
	close func()
}

func (p *pipeEnd) Write(b []byte) error {
	select {
	case p.send <- b:
		return nil
	case <-p.done:
		return errPipeClosed
	}
}

func (p *pipeEnd) Read() ([]byte, error) {
	select {
	case b := <-p.recv:
		return b, nil
	case <-p.done:
		return nil, errPipeClosed
	}
}

func (p *pipeEnd) Close() error {
	p.close()
	return nil
}
