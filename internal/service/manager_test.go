package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"roadsafety/internal/logger"
	"roadsafety/internal/metrics"
)

const waitTimeout = 2 * time.Second

type fakeRunner struct {
	camera   int
	unopened bool // the device never opens
	frames   chan []byte
	end      chan error
	release  chan struct{} // when non-nil, Run holds the device until it is closed
	started  chan struct{}
	stopped  chan struct{}
}

func newFakeRunner(camera int) *fakeRunner {
	return &fakeRunner{
		camera:  camera,
		frames:  make(chan []byte),
		end:     make(chan error, 1),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (r *fakeRunner) Run(ctx context.Context, emit func([]byte), opened func()) error {
	if !r.unopened {
		opened()
	}
	close(r.started)
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			if r.release != nil {
				<-r.release
			}
			return nil
		case frame := <-r.frames:
			emit(frame)
		case err := <-r.end:
			return err
		}
	}
}

type runnerLog struct {
	created  chan *fakeRunner
	release  chan struct{}
	unopened map[int]bool
}

func newRunnerLog() *runnerLog {
	return &runnerLog{created: make(chan *fakeRunner, 16)}
}

func (l *runnerLog) factory(camera int) Runner {
	r := newFakeRunner(camera)
	r.release = l.release
	r.unopened = l.unopened[camera]
	l.created <- r
	return r
}

func (l *runnerLog) next(t *testing.T) *fakeRunner {
	t.Helper()
	select {
	case r := <-l.created:
		waitFor(t, r.started, "runner start")
		return r
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for a runner to be created")
		return nil
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func receive(t *testing.T, sub *Subscription) ([]byte, bool) {
	t.Helper()
	select {
	case frame, ok := <-sub.Frames:
		return frame, ok
	case <-time.After(waitTimeout):
		t.Fatalf("Timed out waiting for a frame on camera %d", sub.Camera)
		return nil, false
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Condition never met: %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestManager(log *runnerLog, buffer int) (*Manager, *metrics.Metrics) {
	m := metrics.New()
	return NewManager(log.factory, buffer, m, logger.Discard()), m
}

func TestManager_SharesOneFeedPerCamera(t *testing.T) {
	log := newRunnerLog()
	manager, _ := newTestManager(log, 2)
	defer manager.Stop()

	first, err := manager.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	second, err := manager.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if first.ID == second.ID {
		t.Error("Subscriptions share an ID")
	}

	runner := log.next(t)
	runner.frames <- []byte("a")

	for _, sub := range []*Subscription{first, second} {
		frame, ok := receive(t, sub)
		if !ok || string(frame) != "a" {
			t.Errorf("Subscriber got %q, %v", frame, ok)
		}
	}

	select {
	case <-log.created:
		t.Error("A second runner was started for the same camera")
	default:
	}
}

func TestManager_LastUnsubscribeStopsFeed(t *testing.T) {
	log := newRunnerLog()
	manager, _ := newTestManager(log, 2)
	defer manager.Stop()

	first, _ := manager.Subscribe(1)
	second, _ := manager.Subscribe(1)
	runner := log.next(t)

	manager.Unsubscribe(first)
	if _, ok := receive(t, first); ok {
		t.Error("Unsubscribed channel should be closed")
	}
	if !manager.IsActive(1) {
		t.Fatal("Feed stopped while a viewer remained")
	}

	manager.Unsubscribe(second)
	manager.Unsubscribe(second)
	waitFor(t, runner.stopped, "runner stop")
	eventually(t, func() bool { return !manager.IsActive(1) }, "camera 1 released")

	if got := manager.ActiveCameras(); len(got) != 0 {
		t.Errorf("ActiveCameras() = %v, expected none", got)
	}
}

func TestManager_FeedEndingClosesSubscribers(t *testing.T) {
	log := newRunnerLog()
	manager, _ := newTestManager(log, 2)
	defer manager.Stop()

	sub, _ := manager.Subscribe(0)
	runner := log.next(t)
	runner.end <- errors.New("camera produced no frames")

	if _, ok := receive(t, sub); ok {
		t.Fatal("Expected subscriber channel to close when the feed ends")
	}
	eventually(t, func() bool { return !manager.IsActive(0) }, "camera 0 released")

	// A later viewer starts a fresh feed.
	again, err := manager.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	fresh := log.next(t)
	fresh.frames <- []byte("b")
	if frame, ok := receive(t, again); !ok || string(frame) != "b" {
		t.Errorf("Got %q, %v from the new feed", frame, ok)
	}
	manager.Unsubscribe(sub)
}

func TestManager_NewFeedWaitsForPreviousRelease(t *testing.T) {
	log := newRunnerLog()
	log.release = make(chan struct{})
	manager, _ := newTestManager(log, 2)
	defer manager.Stop()

	sub, _ := manager.Subscribe(0)
	first := log.next(t)
	manager.Unsubscribe(sub)

	if !manager.IsActive(0) {
		t.Error("Camera should stay active until the device is released")
	}

	next, err := manager.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case <-log.created:
		t.Fatal("New runner started before the previous one released the camera")
	case <-time.After(50 * time.Millisecond):
	}

	close(log.release)
	waitFor(t, first.stopped, "first runner stop")
	second := log.next(t)

	second.frames <- []byte("c")
	if frame, ok := receive(t, next); !ok || string(frame) != "c" {
		t.Errorf("Got %q, %v from the new feed", frame, ok)
	}
}

func TestManager_SlowSubscriberDropsFrames(t *testing.T) {
	log := newRunnerLog()
	manager, m := newTestManager(log, 2)
	defer manager.Stop()

	sub, _ := manager.Subscribe(0)
	runner := log.next(t)

	for i := 0; i < 5; i++ {
		runner.frames <- []byte{byte(i)}
	}
	eventually(t, func() bool { return m.FramesDropped.Load() == 3 }, "three frames dropped")

	for i := 0; i < 2; i++ {
		frame, ok := receive(t, sub)
		if !ok || frame[0] != byte(i) {
			t.Errorf("Frame %d = %v, %v", i, frame, ok)
		}
	}
}

func TestManager_ActiveCamerasSorted(t *testing.T) {
	log := newRunnerLog()
	manager, _ := newTestManager(log, 1)
	defer manager.Stop()

	manager.Subscribe(2)
	manager.Subscribe(0)
	manager.Subscribe(2)

	if got := manager.ActiveCameras(); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Errorf("ActiveCameras() = %v, expected [0 2]", got)
	}
}

func TestManager_StopReleasesFeedsAndRejectsSubscribers(t *testing.T) {
	log := newRunnerLog()
	manager, _ := newTestManager(log, 2)

	sub, _ := manager.Subscribe(3)
	runner := log.next(t)

	manager.Stop()

	select {
	case <-runner.stopped:
	default:
		t.Fatal("Stop returned before the runner finished")
	}
	if _, ok := <-sub.Frames; ok {
		t.Error("Expected subscriber channel to be closed after Stop")
	}
	if _, err := manager.Subscribe(3); !errors.Is(err, ErrManagerStopped) {
		t.Errorf("Subscribe after Stop = %v, expected ErrManagerStopped", err)
	}
	manager.Stop()
}

func TestManager_OwnsOnlyOpenedDevices(t *testing.T) {
	log := newRunnerLog()
	log.unopened = map[int]bool{3: true}
	log.release = make(chan struct{})
	manager, _ := newTestManager(log, 2)
	defer manager.Stop()
	defer close(log.release)

	good, _ := manager.Subscribe(0)
	log.next(t)
	bad, _ := manager.Subscribe(3)
	log.next(t)

	if !manager.Owns(0) {
		t.Error("Camera 0 opened and should be owned")
	}
	if manager.Owns(3) {
		t.Error("Camera 3 never opened and must not be owned")
	}
	if !manager.IsActive(3) {
		t.Error("Camera 3 still has a running feed")
	}

	// Still shutting down: ownership follows whether the device opened.
	manager.Unsubscribe(good)
	manager.Unsubscribe(bad)
	if !manager.Owns(0) {
		t.Error("Draining camera 0 still holds the device")
	}
	if manager.Owns(3) {
		t.Error("Draining camera 3 never held the device")
	}
}
