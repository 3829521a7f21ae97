// Package recorder provides the CSV recorder plugin. Samples are handed
// to a writer goroutine through a bounded queue with overwrite-oldest
// discipline, so disk latency never stalls the tick loop.
package recorder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// Kind is the registry identifier.
const Kind = "csv_recorder"

// row is one recorded tick: sequence, time in seconds, then one value
// per input port. Rows are preallocated and recycled through a free
// list; the hot path never allocates.
type row struct {
	seq    uint64
	t      float64
	values []float64
}

// Recorder appends one CSV line per tick for its configured inputs.
type Recorder struct {
	path     string
	channels int
	depth    int

	file   *os.File
	writer *bufio.Writer

	queue chan *row
	free  chan *row
	done  chan struct{}
	wg    sync.WaitGroup

	dropped uint64
}

// New returns an unconfigured recorder.
func New() *Recorder {
	return &Recorder{channels: 1, depth: 256}
}

// Register adds the kind to a registry.
func Register(r *plugin.Registry) {
	r.MustRegister(Kind, func() plugin.Plugin { return New() })
}

// Manifest implements plugin.Plugin. Input ports are in_0..in_<n-1>.
func (r *Recorder) Manifest() plugin.Manifest {
	ports := make([]plugin.PortSpec, 0, r.channels)
	for i := 0; i < r.channels; i++ {
		ports = append(ports, plugin.PortSpec{
			Name: fmt.Sprintf("in_%d", i), Direction: plugin.DirectionInput, Type: plugin.TypeScalar,
		})
	}
	return plugin.Manifest{
		Name:  "CSV Recorder",
		Kind:  Kind,
		Ports: ports,
		Variables: []plugin.VariableSpec{
			{Name: "path", Type: "string", Required: true},
			{Name: "channels", Type: "int", Default: 1, Constraints: "gte=1,lte=256"},
			{Name: "queue_depth", Type: "int", Default: 256, Constraints: "gte=16,lte=65536"},
		},
	}
}

// Configure implements plugin.Plugin.
func (r *Recorder) Configure(values plugin.Values) error {
	resolved, err := plugin.ResolveValues(r.Manifest(), values)
	if err != nil {
		return err
	}
	r.path = resolved.String("path", "")
	r.channels = resolved.Int("channels", 1)
	r.depth = resolved.Int("queue_depth", 256)
	return nil
}

// Open creates the output file, writes the header, preallocates the row
// pool, and starts the writer goroutine.
func (r *Recorder) Open(context.Context) error {
	file, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", r.path, err)
	}
	r.file = file
	r.writer = bufio.NewWriterSize(file, 64*1024)

	header := "tick,t"
	for i := 0; i < r.channels; i++ {
		header += fmt.Sprintf(",in_%d", i)
	}
	if _, err := r.writer.WriteString(header + "\n"); err != nil {
		_ = r.Close()
		return fmt.Errorf("write header: %w", err)
	}

	r.queue = make(chan *row, r.depth)
	r.free = make(chan *row, r.depth)
	for i := 0; i < r.depth; i++ {
		r.free <- &row{values: make([]float64, r.channels)}
	}
	r.done = make(chan struct{})
	r.dropped = 0

	r.wg.Add(1)
	go r.drain()
	return nil
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	var buf []byte
	for rw := range r.queue {
		buf = buf[:0]
		buf = strconv.AppendUint(buf, rw.seq, 10)
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, rw.t, 'g', -1, 64)
		for _, v := range rw.values {
			buf = append(buf, ',')
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '\n')
		_, _ = r.writer.Write(buf)
		r.free <- rw
	}
	close(r.done)
}

// Process queues one row. When the queue is full the oldest queued row
// is discarded so the tick thread never blocks on the disk.
func (r *Recorder) Process(tick plugin.Tick, ex *plugin.Exchange) error {
	var rw *row
	select {
	case rw = <-r.free:
	default:
		// Pool exhausted: reclaim the oldest queued row.
		select {
		case rw = <-r.queue:
			r.dropped++
		default:
			return nil
		}
	}

	rw.seq = tick.Seq
	rw.t = float64(tick.Seq) * tick.Target.Seconds()
	for i := 0; i < r.channels && i < len(ex.In); i++ {
		rw.values[i] = ex.In[i].Scalar
	}

	select {
	case r.queue <- rw:
	default:
		r.free <- rw
	}
	return nil
}

// Close stops the writer, flushes, and closes the file. Idempotent.
func (r *Recorder) Close() error {
	if r.queue != nil {
		close(r.queue)
		<-r.done
		r.wg.Wait()
		r.queue = nil
	}
	var err error
	if r.writer != nil {
		err = r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
		r.file = nil
	}
	return err
}

// Dropped reports rows discarded under backpressure. Valid after Close.
func (r *Recorder) Dropped() uint64 { return r.dropped }
