package realtime

import (
	"context"
	"sync"
)

// MemorySource is an in-process Source. Notify delivers a change to every
// open stream on a channel, the way pg_notify reaches every listening
// session. Used by tests in place of PGSource.
type MemorySource struct {
	mu      sync.Mutex
	streams map[string]map[*memoryStream]struct{}
	held    map[string]chan struct{}
	failErr error
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		streams: make(map[string]map[*memoryStream]struct{}),
		held:    make(map[string]chan struct{}),
	}
}

func (s *MemorySource) Listen(ctx context.Context, channel string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	gate := s.held[channel]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return nil, s.failErr
	}
	st := &memoryStream{
		source:  s,
		channel: channel,
		ch:      make(chan Change, 64),
		lost:    make(chan struct{}),
	}
	if s.streams[channel] == nil {
		s.streams[channel] = make(map[*memoryStream]struct{})
	}
	s.streams[channel][st] = struct{}{}
	return st, nil
}

// FailListen makes subsequent Listen calls return err. Pass nil to recover.
func (s *MemorySource) FailListen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Hold stalls Listen on channel, like a backend waiting for a free
// connection, until the returned func is called.
func (s *MemorySource) Hold(channel string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.held[channel] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.held, channel)
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Notify delivers change to every stream open on channel and returns how
// many received it.
func (s *MemorySource) Notify(channel string, change Change) int {
	s.mu.Lock()
	targets := make([]*memoryStream, 0, len(s.streams[channel]))
	for st := range s.streams[channel] {
		targets = append(targets, st)
	}
	s.mu.Unlock()

	n := 0
	for _, st := range targets {
		select {
		case st.ch <- change:
			n++
		case <-st.lost:
		}
	}
	return n
}

// Drop severs every stream on channel; their Next returns ErrConnectionLost.
func (s *MemorySource) Drop(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for st := range s.streams[channel] {
		st.sever()
	}
	delete(s.streams, channel)
}

// Listeners returns the number of open streams on channel.
func (s *MemorySource) Listeners(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[channel])
}

func (s *MemorySource) remove(st *memoryStream) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.streams[st.channel]; ok {
		delete(set, st)
		if len(set) == 0 {
			delete(s.streams, st.channel)
		}
	}
}

type memoryStream struct {
	source  *MemorySource
	channel string
	ch      chan Change
	lost    chan struct{}
	once    sync.Once
}

func (st *memoryStream) sever() {
	st.once.Do(func() { close(st.lost) })
}

func (st *memoryStream) Next(ctx context.Context) (Change, error) {
	select {
	case c := <-st.ch:
		return c, nil
	case <-st.lost:
		return Change{}, ErrConnectionLost
	case <-ctx.Done():
		return Change{}, ctx.Err()
	}
}

func (st *memoryStream) Close(context.Context) error {
	st.source.remove(st)
	st.sever()
	return nil
}
