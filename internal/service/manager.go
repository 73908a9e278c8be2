package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"roadsafety/internal/logger"
	"roadsafety/internal/metrics"

	"github.com/google/uuid"
)

// ErrManagerStopped is returned by Subscribe after Stop.
var ErrManagerStopped = errors.New("feed manager stopped")

// Runner produces the frames of one camera until ctx is cancelled. It calls
// opened once the device is actually open and must release the device before
// returning.
type Runner interface {
	Run(ctx context.Context, emit func([]byte), opened func()) error
}

// RunnerFactory builds the runner for a camera index.
type RunnerFactory func(camera int) Runner

// Subscription is one consumer's view of a camera feed. Frames is closed when
// the subscription ends or the feed stops.
type Subscription struct {
	ID     uuid.UUID
	Camera int
	Frames <-chan []byte
}

type feed struct {
	camera      int
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers map[uuid.UUID]chan []byte
	opened      bool // the runner holds the open device
}

// Manager owns at most one running feed per camera and fans its frames out to
// every subscriber of that camera.
type Manager struct {
	newRunner RunnerFactory
	buffer    int
	metrics   *metrics.Metrics
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	feeds    map[int]*feed
	draining map[int]*feed // cancelled feeds that have not returned yet
	stopped  bool
	wg       sync.WaitGroup
}

func NewManager(newRunner RunnerFactory, buffer int, metrics *metrics.Metrics, logger *logger.Logger) *Manager {
	if buffer < 1 {
		buffer = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		newRunner: newRunner,
		buffer:    buffer,
		metrics:   metrics,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		feeds:     make(map[int]*feed),
		draining:  make(map[int]*feed),
	}

	manager.logger.Info("🎬 Feed manager started - %d frame(s) buffered per viewer", buffer)
	return manager
}

// Subscribe attaches a consumer to the feed of camera, starting the feed when
// it is the first one. A feed still releasing the same device is waited for
// before the new one opens it.
func (m *Manager) Subscribe(camera int) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}

	f, ok := m.feeds[camera]
	if !ok {
		f = m.startFeedLocked(camera)
	}

	id := uuid.New()
	frames := make(chan []byte, m.buffer)
	f.subscribers[id] = frames
	m.logger.Info("👀 Viewer %s joined camera %d (%d watching)", id, camera, len(f.subscribers))

	return &Subscription{ID: id, Camera: camera, Frames: frames}, nil
}

func (m *Manager) startFeedLocked(camera int) *feed {
	ctx, cancel := context.WithCancel(m.ctx)
	f := &feed{
		camera:      camera,
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[uuid.UUID]chan []byte),
	}
	m.feeds[camera] = f

	var prev <-chan struct{}
	if d, ok := m.draining[camera]; ok {
		prev = d.done
	}
	m.wg.Add(1)
	go m.runFeed(ctx, f, prev)
	return f
}

func (m *Manager) runFeed(ctx context.Context, f *feed, prev <-chan struct{}) {
	defer m.wg.Done()
	defer close(f.done)
	defer f.cancel()

	// prev is already cancelled; done must not close before the device is free.
	if prev != nil {
		m.logger.Info("⏳ Camera %d: waiting for previous feed to release the device", f.camera)
		<-prev
	}
	if ctx.Err() != nil {
		m.finish(f)
		return
	}

	err := m.newRunner(f.camera).Run(ctx, func(frame []byte) {
		m.broadcast(f, frame)
	}, func() {
		m.markOpened(f)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warning("Feed for camera %d ended: %v", f.camera, err)
	}

	m.finish(f)
}

// broadcast hands frame to every subscriber without blocking. Subscribers
// with a full buffer miss the frame.
func (m *Manager) broadcast(f *feed, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range f.subscribers {
		select {
		case ch <- frame:
		default:
			m.metrics.FramesDropped.Add(1)
		}
	}
}

func (m *Manager) markOpened(f *feed) {
	m.mu.Lock()
	f.opened = true
	m.mu.Unlock()
}

// finish detaches a feed whose runner returned and closes its subscribers.
func (m *Manager) finish(f *feed) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f.opened = false
	if m.feeds[f.camera] == f {
		delete(m.feeds, f.camera)
	}
	if m.draining[f.camera] == f {
		delete(m.draining, f.camera)
	}
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
	m.logger.Info("📴 Feed for camera %d closed", f.camera)
}

// Unsubscribe detaches sub. When it was the last subscriber the feed is
// cancelled. It is safe to call more than once.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[sub.Camera]
	if !ok {
		return
	}
	ch, ok := f.subscribers[sub.ID]
	if !ok {
		return
	}
	delete(f.subscribers, sub.ID)
	close(ch)
	m.logger.Info("👋 Viewer %s left camera %d (%d watching)", sub.ID, sub.Camera, len(f.subscribers))

	if len(f.subscribers) == 0 {
		delete(m.feeds, f.camera)
		m.draining[f.camera] = f
		f.cancel()
	}
}

// IsActive reports whether a feed for camera is running or still shutting
// down, whether or not its device opened.
func (m *Manager) IsActive(camera int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.feeds[camera]; ok {
		return true
	}
	_, ok := m.draining[camera]
	return ok
}

// Owns reports whether a feed currently holds camera open. A feed whose device
// failed to open does not own it.
func (m *Manager) Owns(camera int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.feeds[camera]; ok && f.opened {
		return true
	}
	f, ok := m.draining[camera]
	return ok && f.opened
}

// ActiveCameras lists cameras with a running feed in ascending order.
func (m *Manager) ActiveCameras() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cameras := make([]int, 0, len(m.feeds))
	for camera := range m.feeds {
		cameras = append(cameras, camera)
	}
	sort.Ints(cameras)
	return cameras
}

// Stop cancels every feed and waits for all devices to be released.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info("🛑 Feed manager stopped")
}
