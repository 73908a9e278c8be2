package camera

import (
	"roadsafety/internal/logger"

	"gocv.io/x/gocv"
)

// Device is the part of a capture handle the enumerator needs.
type Device interface {
	IsOpened() bool
	Close() error
}

// DeviceOpener opens a capture handle for probing.
type DeviceOpener func(index int) (Device, error)

// BusyChecker reports devices a running feed holds open.
type BusyChecker interface {
	Owns(camera int) bool
}

// OpenDevice opens a gocv capture handle for probing.
func OpenDevice(index int) (Device, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		return nil, err
	}
	return vc, nil
}

// Enumerator finds which device indices can be opened.
type Enumerator struct {
	bound  int
	open   DeviceOpener
	busy   BusyChecker
	logger *logger.Logger
}

// NewEnumerator probes indices 0..bound-1 with open. busy may be nil.
func NewEnumerator(bound int, open DeviceOpener, busy BusyChecker, logger *logger.Logger) *Enumerator {
	if open == nil {
		open = OpenDevice
	}
	return &Enumerator{
		bound:  bound,
		open:   open,
		busy:   busy,
		logger: logger,
	}
}

// List opens each index in turn, releases it right away and returns the ones
// that opened, in ascending order. Devices a running feed holds open are listed
// without being probed; any other device is probed. The result is never nil.
func (e *Enumerator) List() []int {
	available := make([]int, 0, e.bound)

	for i := 0; i < e.bound; i++ {
		if e.busy != nil && e.busy.Owns(i) {
			available = append(available, i)
			continue
		}

		dev, err := e.open(i)
		if err != nil || dev == nil {
			continue
		}

		opened := dev.IsOpened()
		if err := dev.Close(); err != nil {
			e.logger.Warning("Failed to release camera %d after probe: %v", i, err)
		}
		if opened {
			available = append(available, i)
		}
	}

	return available
}
