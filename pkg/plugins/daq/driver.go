// Package daq provides the device-driver adapter plugin: it bridges
// hardware analog/digital acquisition channels into graph ports. Vendor
// APIs are reached exclusively through the Driver contract; the engine
// never depends on a vendor library. A deterministic mock driver
// implements the identical contract for development without hardware.
package daq

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// Channels is the result of hardware channel discovery, one physical
// channel name per entry.
type Channels struct {
	AnalogIn   []string
	AnalogOut  []string
	DigitalIn  []string
	DigitalOut []string
}

// TaskConfig fixes a hardware task's shape before it is started.
type TaskConfig struct {
	SampleRate        float64
	SamplesPerChannel int
	Channels          Channels
}

// Task is a started hardware acquisition task. The adapter opens one
// task at Open and holds it across ticks rather than reopening per tick.
// Buffer lengths are fixed by TaskConfig: analog buffers carry
// SamplesPerChannel samples per channel, channel-major; digital buffers
// carry one line state per channel.
type Task interface {
	// ReadAnalog fills buf with one batch from every analog input.
	ReadAnalog(buf []float64) error

	// WriteAnalog drains buf, one batch per analog output.
	WriteAnalog(buf []float64) error

	// ReadDigital fills buf with current digital input line states.
	ReadDigital(buf []float64) error

	// WriteDigital applies buf to the digital output lines.
	WriteDigital(buf []float64) error

	// Close stops the task and releases the hardware handle.
	// Idempotent.
	Close() error
}

// Driver is the vendor contract: channel enumeration and task creation.
type Driver interface {
	// Enumerate discovers the channels of a device.
	Enumerate(ctx context.Context, device string) (Channels, error)

	// OpenTask acquires the device and starts a task with the given
	// configuration.
	OpenTask(ctx context.Context, device string, cfg TaskConfig) (Task, error)
}

// MockDriver is a deterministic software driver: analog inputs produce a
// per-channel sine sequence, digital inputs alternate, writes are
// captured for inspection. Safe for concurrent tasks.
type MockDriver struct {
	// AnalogInCount etc. shape the enumerated device. Zero values fall
	// back to a 2/1/1/1 device.
	AnalogInCount   int
	AnalogOutCount  int
	DigitalInCount  int
	DigitalOutCount int

	// FailEnumerate and FailOpen force discovery or acquisition
	// failures.
	FailEnumerate bool
	FailOpen      bool

	mu        sync.Mutex
	lastTasks []*MockTask
}

// NewMockDriver returns a mock device with 2 analog inputs, 1 analog
// output, 1 digital input, and 1 digital output.
func NewMockDriver() *MockDriver {
	return &MockDriver{AnalogInCount: 2, AnalogOutCount: 1, DigitalInCount: 1, DigitalOutCount: 1}
}

// Enumerate implements Driver.
func (d *MockDriver) Enumerate(_ context.Context, device string) (Channels, error) {
	if d.FailEnumerate {
		return Channels{}, fmt.Errorf("device %q not present", device)
	}
	ch := Channels{}
	for i := 0; i < d.AnalogInCount; i++ {
		ch.AnalogIn = append(ch.AnalogIn, fmt.Sprintf("%s/ai%d", device, i))
	}
	for i := 0; i < d.AnalogOutCount; i++ {
		ch.AnalogOut = append(ch.AnalogOut, fmt.Sprintf("%s/ao%d", device, i))
	}
	for i := 0; i < d.DigitalInCount; i++ {
		ch.DigitalIn = append(ch.DigitalIn, fmt.Sprintf("%s/di%d", device, i))
	}
	for i := 0; i < d.DigitalOutCount; i++ {
		ch.DigitalOut = append(ch.DigitalOut, fmt.Sprintf("%s/do%d", device, i))
	}
	return ch, nil
}

// OpenTask implements Driver.
func (d *MockDriver) OpenTask(_ context.Context, device string, cfg TaskConfig) (Task, error) {
	if d.FailOpen {
		return nil, fmt.Errorf("device %q busy", device)
	}
	t := &MockTask{cfg: cfg}
	d.mu.Lock()
	d.lastTasks = append(d.lastTasks, t)
	d.mu.Unlock()
	return t, nil
}

// Tasks returns every task the driver has opened, for test inspection.
func (d *MockDriver) Tasks() []*MockTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockTask(nil), d.lastTasks...)
}

// MockTask produces synthetic deterministic samples.
type MockTask struct {
	cfg    TaskConfig
	reads  uint64
	closed bool

	mu          sync.Mutex
	LastAnalog  []float64
	LastDigital []float64
}

// ReadAnalog fills buf channel-major: channel c, sample s gets
// sin(2π·(batch·spc+s)/64 + c).
func (t *MockTask) ReadAnalog(buf []float64) error {
	if t.closed {
		return fmt.Errorf("task closed: %w", plugin.ErrFatal)
	}
	spc := t.cfg.SamplesPerChannel
	for c := range t.cfg.Channels.AnalogIn {
		base := c * spc
		for s := 0; s < spc; s++ {
			idx := float64(t.reads)*float64(spc) + float64(s)
			buf[base+s] = math.Sin(2*math.Pi*idx/64 + float64(c))
		}
	}
	t.reads++
	return nil
}

// WriteAnalog captures the written batch.
func (t *MockTask) WriteAnalog(buf []float64) error {
	if t.closed {
		return fmt.Errorf("task closed: %w", plugin.ErrFatal)
	}
	t.mu.Lock()
	if cap(t.LastAnalog) < len(buf) {
		t.LastAnalog = make([]float64, len(buf))
	}
	t.LastAnalog = t.LastAnalog[:len(buf)]
	copy(t.LastAnalog, buf)
	t.mu.Unlock()
	return nil
}

// ReadDigital alternates every line each batch.
func (t *MockTask) ReadDigital(buf []float64) error {
	if t.closed {
		return fmt.Errorf("task closed: %w", plugin.ErrFatal)
	}
	v := float64(t.reads % 2)
	for i := range t.cfg.Channels.DigitalIn {
		buf[i] = v
	}
	return nil
}

// WriteDigital captures the line states.
func (t *MockTask) WriteDigital(buf []float64) error {
	if t.closed {
		return fmt.Errorf("task closed: %w", plugin.ErrFatal)
	}
	t.mu.Lock()
	if cap(t.LastDigital) < len(buf) {
		t.LastDigital = make([]float64, len(buf))
	}
	t.LastDigital = t.LastDigital[:len(buf)]
	copy(t.LastDigital, buf)
	t.mu.Unlock()
	return nil
}

// Close implements Task. Idempotent.
func (t *MockTask) Close() error {
	t.closed = true
	return nil
}
