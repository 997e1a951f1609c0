package fs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Traced wraps an [FS] and records a bounded trace of recent operations,
// including the ones made through handles it opened. Injected faults are
// marked as such.
type Traced struct {
	fs    FS
	trace *traceLog
}

// DefaultTraceCapacity is used by [NewTraced] when capacity is negative.
const DefaultTraceCapacity = 200

// NewTraced wraps fsys. A negative capacity selects [DefaultTraceCapacity];
// zero disables recording.
func NewTraced(fsys FS, capacity int) *Traced {
	if capacity < 0 {
		capacity = DefaultTraceCapacity
	}

	return &Traced{fs: fsys, trace: newTraceLog(capacity)}
}

// Trace returns the recorded operations, oldest first, one per line.
func (t *Traced) Trace() string {
	return t.trace.String()
}

// Len returns the number of operations currently held.
func (t *Traced) Len() int {
	return len(t.trace.snapshot())
}

func (t *Traced) ShareModel() ShareModel { return ModelOf(t.fs) }

func (t *Traced) OpenFile(path string, opts OpenOptions) (File, error) {
	f, err := t.fs.OpenFile(path, opts)

	attrs := []kv{
		attr("access", opts.Access.String()),
		attr("share", opts.Share.String()),
		attr("disposition", opts.Disposition.String()),
	}

	if err != nil {
		t.trace.add("open", path, err, attrs...)

		return nil, err
	}

	attrs = append(attrs, attr("handle", fmt.Sprintf("%#x", f.Handle())))
	t.trace.add("open", path, nil, attrs...)

	return &tracedFile{f: f, trace: t.trace, path: path}, nil
}

func (t *Traced) Rename(oldpath, newpath string) error {
	err := t.fs.Rename(oldpath, newpath)
	t.trace.add("rename", oldpath, err, attr("dest", newpath))

	return err
}

func (t *Traced) Remove(path string) error {
	err := t.fs.Remove(path)
	t.trace.add("remove", path, err)

	return err
}

func (t *Traced) Exists(path string) (bool, error) {
	exists, err := t.fs.Exists(path)
	t.trace.add("exists", path, err, attr("exists", strconv.FormatBool(exists)))

	return exists, err
}

func (t *Traced) MkdirAll(path string) error {
	err := t.fs.MkdirAll(path)
	t.trace.add("mkdirall", path, err)

	return err
}

func (t *Traced) WriteFile(path string, data []byte) error {
	err := t.fs.WriteFile(path, data)
	t.trace.add("writefile", path, err, attr("n", strconv.Itoa(len(data))))

	return err
}

// kv is a key-value pair for trace context.
type kv struct {
	k string
	v string
}

func attr(k, v string) kv {
	return kv{k: k, v: v}
}

// traceEvent records a single FS operation.
type traceEvent struct {
	seq      uint64
	op       string
	path     string
	err      error
	injected bool
	attrs    []kv
}

func (e traceEvent) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "#%d %s", e.seq, e.op)

	if e.path != "" {
		fmt.Fprintf(&b, " path=%q", e.path)
	}

	for _, a := range e.attrs {
		fmt.Fprintf(&b, " %s=%s", a.k, a.v)
	}

	if e.err == nil {
		b.WriteString(" ok")

		return b.String()
	}

	fmt.Fprintf(&b, " err=%v injected=%t", e.err, e.injected)

	return b.String()
}

// traceLog is a bounded circular buffer of [traceEvent].
type traceLog struct {
	mu       sync.Mutex
	capacity int
	events   []traceEvent
	next     int
	full     bool
	seq      uint64
}

func newTraceLog(capacity int) *traceLog {
	return &traceLog{
		capacity: capacity,
		events:   make([]traceEvent, 0, capacity),
	}
}

func (t *traceLog) add(op, path string, err error, attrs ...kv) {
	if t.capacity == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++

	event := traceEvent{
		seq:      t.seq,
		op:       op,
		path:     path,
		err:      err,
		injected: IsInjected(err),
		attrs:    attrs,
	}

	if len(t.events) < t.capacity {
		t.events = append(t.events, event)

		return
	}

	t.events[t.next] = event
	t.next = (t.next + 1) % t.capacity
	t.full = true
}

func (t *traceLog) snapshot() []traceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]traceEvent(nil), t.events...)
	}

	out := make([]traceEvent, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	out = append(out, t.events[:t.next]...)

	return out
}

func (t *traceLog) String() string {
	events := t.snapshot()
	if len(events) == 0 {
		return ""
	}

	var b strings.Builder

	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}

		b.WriteString(e.String())
	}

	return b.String()
}

// tracedFile records operations made through a handle.
type tracedFile struct {
	f     File
	trace *traceLog
	path  string
}

func (tf *tracedFile) Read(p []byte) (int, error) {
	n, err := tf.f.Read(p)
	tf.trace.add("file.read", tf.path, err, attr("n", strconv.Itoa(n)))

	return n, err
}

func (tf *tracedFile) Write(p []byte) (int, error) {
	n, err := tf.f.Write(p)
	tf.trace.add("file.write", tf.path, err, attr("n", strconv.Itoa(n)))

	return n, err
}

func (tf *tracedFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := tf.f.Seek(offset, whence)
	tf.trace.add("file.seek", tf.path, err, attr("offset", strconv.FormatInt(offset, 10)), attr("pos", strconv.FormatInt(pos, 10)))

	return pos, err
}

func (tf *tracedFile) Close() error {
	err := tf.f.Close()
	tf.trace.add("file.close", tf.path, err)

	return err
}

func (tf *tracedFile) Handle() uintptr { return tf.f.Handle() }

func (tf *tracedFile) Identity() (Identity, error) {
	id, err := tf.f.Identity()
	tf.trace.add("file.identity", tf.path, err, attr("id", id.String()))

	return id, err
}

func (tf *tracedFile) FinalPath() (string, error) {
	p, err := tf.f.FinalPath()
	tf.trace.add("file.finalpath", tf.path, err, attr("resolved", strconv.Quote(p)))

	return p, err
}

func (tf *tracedFile) RenameTo(newpath string, replace bool) error {
	err := tf.f.RenameTo(newpath, replace)
	tf.trace.add("file.rename", tf.path, err, attr("dest", newpath), attr("replace", strconv.FormatBool(replace)))

	if err == nil {
		tf.path = newpath
	}

	return err
}

func (tf *tracedFile) MarkDelete() error {
	err := tf.f.MarkDelete()
	tf.trace.add("file.markdelete", tf.path, err)

	return err
}

// Compile-time interface checks.
var (
	_ FS           = (*Traced)(nil)
	_ ShareModeler = (*Traced)(nil)
	_ File         = (*tracedFile)(nil)
)
