// Table engine: lifecycle, row reads, and the FIFO flush queue.
//
// A Table owns exactly one File, one decoded Header, one row cache, and
// one flush worker. Reads consult the cache first and fall back to a
// positioned disk read; the byte offset of row i is the header region
// length plus the sum of the on-disk lengths of rows 0..i-1.
//
// Two gates serialise access: the lock file (cross-process, acquired at
// open) and the io gate (in-process, a coarse single-flight around row
// I/O). Readers poll the io gate with a timeout and surface ErrLocked on
// expiry; the flush worker blocks on it. Mutations are applied strictly in
// submission order, one at a time, and a row's bytes are written and
// synced before the header is rewritten so the header on disk never
// references bytes that are not durable.
package tabfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Lifecycle states.
const (
	stateOpening int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

const (
	// gatePollInterval is how often a reader re-tries the io gate.
	gatePollInterval = 375 * time.Millisecond

	// DefaultReadTimeout bounds how long ReadRow waits for the io gate.
	DefaultReadTimeout = 4 * time.Second

	defaultQueueDepth = 128

	// defaultMaskSeed feeds the XOR mask derivation. Changing it makes
	// existing files unreadable.
	defaultMaskSeed = "tabfile.mask.v1"
)

// Options configures Open. The zero value of every optional field selects
// a default.
type Options struct {
	Filepath      string
	EncryptionKey string        // passphrase; empty disables encryption
	Schema        *Schema       // required when creating; must match the on-disk schema when the file exists
	Compression   bool          // zstd-compress row payloads
	CacheBytes    int64         // row cache budget, default DefaultCacheBytes
	LockTimeout   time.Duration // lock file wait, default DefaultLockTimeout
	DisableLock   bool
	QueueDepth    int // flush queue depth, default 128
	Logger        *slog.Logger
}

type flushOp int

const (
	opInsert flushOp = iota
	opUpdate
	opDelete
)

func (op flushOp) String() string {
	switch op {
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	}
	return "unknown"
}

type flushEntry struct {
	op     flushOp
	index  int            // target row for update/delete; -1 for insert
	row    *Row           // insert payload
	values map[string]any // update patch, merged when the update is applied
}

// Table is an open table file.
type Table struct {
	file     *File
	header   *Header
	schema   *Schema
	key      *cipherKey
	cache    *rowCache
	log      *slog.Logger
	compress bool
	rowBase  int64 // file offset of row 0: preambleSize + on-disk body length

	state atomic.Int32
	gate  sync.Mutex // io gate: row reads vs flushes

	qmu        sync.Mutex
	queue      chan flushEntry
	workerDone chan struct{}

	flushMu   sync.Mutex
	flushIdle *sync.Cond // signalled when queued drains to zero
	queued    int
	flushErr  error

	closeOnce sync.Once
	closeErr  error
}

// Open opens a table file, creating it (header only) when absent. Creation
// requires Options.Schema; on an existing file the schema is read from the
// header. Any failure after the file handle is acquired closes the handle,
// which also removes the lock file.
func Open(opts Options) (*Table, error) {
	if opts.Filepath == "" {
		return nil, fmt.Errorf("%w: empty filepath", ErrInvalidArgument)
	}
	path, err := filepath.Abs(opts.Filepath)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrInvalidArgument, opts.Filepath, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir: %w", ErrUnknown, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var key *cipherKey
	if opts.EncryptionKey != "" {
		key = deriveKey(opts.EncryptionKey)
	}

	_, statErr := os.Stat(path)
	creating := os.IsNotExist(statErr)
	if creating && opts.Schema == nil {
		return nil, fmt.Errorf("%w: creating %s requires a schema", ErrInvalidArgument, opts.Filepath)
	}

	f, err := openStorage(path, fileOptions{
		noLock:       opts.DisableLock,
		lockTimeout:  opts.LockTimeout,
		transformers: []Transformer{newMaskTransform(defaultMaskSeed)},
	})
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Table, error) {
		f.Close()
		return nil, err
	}

	t := &Table{file: f, key: key, log: logger, compress: opts.Compression}
	t.flushIdle = sync.NewCond(&t.flushMu)
	t.state.Store(stateOpening)

	if creating {
		t.schema = opts.Schema
		t.header = &Header{RowsLength: []uint32{}, Schema: opts.Schema.Fields()}
		region, err := encodeHeader(t.header, key)
		if err != nil {
			return fail(err)
		}
		if _, err := f.WriteAt(region, 0); err != nil {
			return fail(err)
		}
		if err := f.Sync(); err != nil {
			return fail(err)
		}
		t.rowBase = int64(len(region))
	} else {
		pre, err := f.ReadAt(preambleSize, 0)
		if err != nil {
			return fail(fmt.Errorf("%w: header preamble: %w", ErrCorruptHeader, err))
		}
		bodyLen, err := headerBodyLen(pre)
		if err != nil {
			return fail(err)
		}
		// The length field comes from disk; cap it before sizing the body
		// read so a garbled preamble fails cleanly instead of allocating.
		if int64(preambleSize+bodyLen) > f.Size() {
			return fail(fmt.Errorf("%w: body length %d exceeds file size %d", ErrCorruptHeader, bodyLen, f.Size()))
		}
		body, err := f.ReadAt(bodyLen, preambleSize)
		if err != nil {
			return fail(fmt.Errorf("%w: header body: %w", ErrCorruptHeader, err))
		}
		hdr, err := decodeHeader(append(pre, body...), key)
		if err != nil {
			return fail(err)
		}
		// On-disk schema wins; it already carries any injected timestamp
		// columns verbatim.
		schema, err := NewSchema(hdr.Schema, SchemaOptions{NoTimestamps: true})
		if err != nil {
			return fail(err)
		}
		if opts.Schema != nil && !opts.Schema.Equal(schema) {
			return fail(fmt.Errorf("%w: supplied schema does not match the schema on disk", ErrInvalidArgument))
		}
		t.header = hdr
		t.schema = schema
		t.rowBase = int64(preambleSize + bodyLen)
	}

	cache, err := newRowCache(opts.CacheBytes)
	if err != nil {
		return fail(err)
	}
	t.cache = cache

	depth := opts.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	t.queue = make(chan flushEntry, depth)
	t.workerDone = make(chan struct{})
	go t.flushWorker()

	t.state.Store(stateOpen)
	t.log.Debug("table open",
		"path", path, "rows", len(t.header.RowsLength),
		"encrypted", key != nil, "created", creating)
	return t, nil
}

// Schema returns the table's schema.
func (t *Table) Schema() *Schema {
	return t.schema
}

// ReadRow returns row index, waiting up to DefaultReadTimeout for the io
// gate.
func (t *Table) ReadRow(index int) (*Row, error) {
	return t.ReadRowWait(index, DefaultReadTimeout)
}

// ReadRowWait returns row index. A cache hit returns immediately. On a
// miss the io gate is acquired (polled every gatePollInterval up to
// timeout, then ErrLocked), the row's bytes are read at their computed
// offset, unsealed and decompressed as configured, parsed, revived per the
// schema, cached, and returned. The gate is released on every path.
func (t *Table) ReadRowWait(index int, timeout time.Duration) (*Row, error) {
	if t.state.Load() != stateOpen {
		return nil, ErrClosed
	}
	if row, ok := t.cache.get(index); ok {
		return row, nil
	}

	if err := t.acquireGate(timeout); err != nil {
		return nil, err
	}
	defer t.gate.Unlock()

	if t.state.Load() != stateOpen {
		return nil, ErrClosed
	}
	return t.readRowLocked(index)
}

// readRowLocked reads, decodes, and caches row index. The caller holds the
// io gate.
func (t *Table) readRowLocked(index int) (*Row, error) {
	// A flush may have populated the cache while the caller waited.
	if row, ok := t.cache.get(index); ok {
		return row, nil
	}
	if index < 0 || index >= len(t.header.RowsLength) {
		return nil, fmt.Errorf("%w: row %d of %d", ErrOutOfBounds, index, len(t.header.RowsLength))
	}

	length := int(t.header.RowsLength[index])
	offset := t.rowBase + t.header.RowOffset(index)
	raw, err := t.file.ReadAt(length, offset)
	if err != nil {
		return nil, err
	}
	row, err := t.decodeRow(raw)
	if err != nil {
		return nil, err
	}
	row.size = int64(length)
	t.cache.put(index, row, int64(length))
	return row, nil
}

// Insert validates values against the schema, stamps the timestamp
// columns, and queues the row for flush. Serialisation to disk happens on
// the flush worker in submission order; Flush or Close waits for it.
func (t *Table) Insert(values map[string]any) error {
	if t.state.Load() != stateOpen {
		return ErrClosed
	}
	row, err := t.buildRow(values, nil)
	if err != nil {
		return err
	}
	return t.enqueue(flushEntry{op: opInsert, index: -1, row: row})
}

// Update queues a rewrite of row index with values applied on top of it.
// The merge against the current row happens when the update is applied,
// after every mutation queued ahead of it, so fields absent from values
// keep their value as of that moment; updated_at is refreshed. values is
// validated here, the index bound when the update lands.
func (t *Table) Update(index int, values map[string]any) error {
	if t.state.Load() != stateOpen {
		return ErrClosed
	}
	if index < 0 {
		return fmt.Errorf("%w: row %d", ErrOutOfBounds, index)
	}
	for name, v := range values {
		fd, err := t.schema.Describe(name)
		if err != nil {
			return err
		}
		if _, err := checkValue(&fd, v); err != nil {
			return err
		}
	}
	return t.enqueue(flushEntry{op: opUpdate, index: index, values: values})
}

// Delete queues removal of row index. Subsequent rows shift down one
// index once the flush lands.
func (t *Table) Delete(index int) error {
	if t.state.Load() != stateOpen {
		return ErrClosed
	}
	if index < 0 {
		return fmt.Errorf("%w: row %d", ErrOutOfBounds, index)
	}
	return t.enqueue(flushEntry{op: opDelete, index: index})
}

// Flush blocks until every queued mutation has been applied and returns
// the first flush error, if any.
func (t *Table) Flush() error {
	if t.state.Load() != stateOpen {
		return ErrClosed
	}
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	for t.queued > 0 {
		t.flushIdle.Wait()
	}
	return t.flushErr
}

// CountRows returns the number of rows recorded in the header.
func (t *Table) CountRows() (int, error) {
	if t.state.Load() != stateOpen {
		return 0, ErrClosed
	}
	t.gate.Lock()
	defer t.gate.Unlock()
	return len(t.header.RowsLength), nil
}

// ByteLength returns the logical file size: header region plus row
// payloads.
func (t *Table) ByteLength() (int64, error) {
	if t.state.Load() != stateOpen {
		return 0, ErrClosed
	}
	t.gate.Lock()
	defer t.gate.Unlock()
	return t.rowBase + int64(t.header.TotalSize), nil
}

// Close drains the flush queue, closes the file (removing the lock file),
// and releases the cache. Idempotent: repeated calls return the first
// call's result.
func (t *Table) Close() error {
	t.closeOnce.Do(func() {
		if !t.state.CompareAndSwap(stateOpen, stateClosing) {
			t.state.Store(stateClosed)
			return
		}
		t.qmu.Lock()
		close(t.queue)
		t.qmu.Unlock()
		<-t.workerDone

		err := t.file.Close()
		t.cache.close()
		if ferr := t.takeFlushErr(); err == nil {
			err = ferr
		}
		t.closeErr = err
		t.state.Store(stateClosed)
		t.log.Debug("table closed", "path", t.file.path)
	})
	return t.closeErr
}

// buildRow assembles a validated Row from values, falling back to base
// (update) for absent fields. Timestamp columns are stamped when absent;
// updated_at is always refreshed on update.
func (t *Table) buildRow(values map[string]any, base *Row) (*Row, error) {
	for name := range values {
		if _, err := t.schema.Describe(name); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	row := NewRow()
	for _, fd := range t.schema.Fields() {
		v, present := values[fd.Name]
		if !present {
			if base != nil {
				if bv, ok := base.Get(fd.Name); ok {
					row.Set(fd.Name, bv)
					continue
				}
			}
			if fd.Type == TypeDatetime && (fd.Name == FieldCreatedAt || fd.Name == FieldUpdatedAt) {
				row.Set(fd.Name, now)
				continue
			}
			if fd.Nullable || fd.Type == TypeNull {
				row.Set(fd.Name, nil)
				continue
			}
			return nil, fmt.Errorf("%w: missing value for field %q", ErrInvalidArgument, fd.Name)
		}
		checked, err := checkValue(&fd, v)
		if err != nil {
			return nil, err
		}
		row.Set(fd.Name, checked)
	}

	if base != nil {
		if fd, err := t.schema.Describe(FieldUpdatedAt); err == nil && fd.Type == TypeDatetime {
			row.Set(FieldUpdatedAt, now)
		}
	}
	return row, nil
}

func (t *Table) enqueue(e flushEntry) error {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if t.state.Load() != stateOpen {
		return ErrClosed
	}
	t.flushMu.Lock()
	t.queued++
	t.flushMu.Unlock()
	t.queue <- e
	return nil
}

func (t *Table) flushWorker() {
	defer close(t.workerDone)
	for e := range t.queue {
		err := t.flush(e)
		if err != nil {
			t.log.Error("flush failed", "op", e.op.String(), "row", e.index, "err", err)
		}
		t.flushMu.Lock()
		if err != nil && t.flushErr == nil {
			t.flushErr = err
		}
		t.queued--
		if t.queued == 0 {
			t.flushIdle.Broadcast()
		}
		t.flushMu.Unlock()
	}
}

func (t *Table) takeFlushErr() error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	return t.flushErr
}

// flush applies one queued mutation under the io gate.
func (t *Table) flush(e flushEntry) error {
	t.gate.Lock()
	defer t.gate.Unlock()

	switch e.op {
	case opInsert:
		return t.flushInsert(e.row)
	case opUpdate:
		return t.flushUpdate(e.index, e.values)
	case opDelete:
		return t.flushDelete(e.index)
	}
	return fmt.Errorf("%w: flush op %d", ErrUnknown, e.op)
}

// flushInsert appends the row payload, syncs, and only then rewrites the
// header, so rowsLength never references bytes that are not on disk.
func (t *Table) flushInsert(row *Row) error {
	payload, err := t.encodeRow(row)
	if err != nil {
		return err
	}
	offset := t.rowBase + int64(t.header.TotalSize)
	if _, err := t.file.WriteAt(payload, offset); err != nil {
		return err
	}
	if err := t.file.Sync(); err != nil {
		return err
	}

	t.header.RowsLength = append(t.header.RowsLength, uint32(len(payload)))
	t.header.TotalSize += uint32(len(payload))
	if err := t.rewriteHeader(); err != nil {
		return err
	}

	index := len(t.header.RowsLength) - 1
	row.size = int64(len(payload))
	t.cache.put(index, row, row.size)
	t.log.Debug("row flushed", "op", "insert", "row", index, "bytes", len(payload))
	return nil
}

// flushUpdate merges values onto the row as it stands now, so back-to-back
// updates to one row compose instead of the later one reverting the
// earlier.
func (t *Table) flushUpdate(index int, values map[string]any) error {
	if index < 0 || index >= len(t.header.RowsLength) {
		return fmt.Errorf("%w: row %d of %d", ErrOutOfBounds, index, len(t.header.RowsLength))
	}
	base, err := t.readRowLocked(index)
	if err != nil {
		return err
	}
	row, err := t.buildRow(values, base)
	if err != nil {
		return err
	}
	payload, err := t.encodeRow(row)
	if err != nil {
		return err
	}
	offset := t.rowBase + t.header.RowOffset(index)
	oldLen := int(t.header.RowsLength[index])

	if len(payload) == oldLen {
		// In-place rewrite; the header is untouched.
		if _, err := t.file.WriteAt(payload, offset); err != nil {
			return err
		}
		if err := t.file.Sync(); err != nil {
			return err
		}
		row.size = int64(len(payload))
		t.cache.put(index, row, row.size)
		return nil
	}

	// Length changed: rows are contiguous, so the tail after this row is
	// rewritten at its shifted offsets.
	tail, err := t.readTail(index + 1)
	if err != nil {
		return err
	}
	if _, err := t.file.WriteAt(payload, offset); err != nil {
		return err
	}
	if len(tail) > 0 {
		if _, err := t.file.WriteAt(tail, offset+int64(len(payload))); err != nil {
			return err
		}
	}
	if err := t.file.Truncate(offset + int64(len(payload)) + int64(len(tail))); err != nil {
		return err
	}
	if err := t.file.Sync(); err != nil {
		return err
	}

	t.header.RowsLength[index] = uint32(len(payload))
	t.header.recomputeTotal()
	if err := t.rewriteHeader(); err != nil {
		return err
	}
	row.size = int64(len(payload))
	t.cache.put(index, row, row.size)
	t.log.Debug("row flushed", "op", "update", "row", index, "bytes", len(payload))
	return nil
}

func (t *Table) flushDelete(index int) error {
	if index < 0 || index >= len(t.header.RowsLength) {
		return fmt.Errorf("%w: row %d of %d", ErrOutOfBounds, index, len(t.header.RowsLength))
	}
	offset := t.rowBase + t.header.RowOffset(index)
	tail, err := t.readTail(index + 1)
	if err != nil {
		return err
	}
	if len(tail) > 0 {
		if _, err := t.file.WriteAt(tail, offset); err != nil {
			return err
		}
	}
	if err := t.file.Truncate(offset + int64(len(tail))); err != nil {
		return err
	}
	if err := t.file.Sync(); err != nil {
		return err
	}

	t.header.RowsLength = slices.Delete(t.header.RowsLength, index, index+1)
	t.header.recomputeTotal()
	if err := t.rewriteHeader(); err != nil {
		return err
	}
	// Every index past the deleted row shifted down.
	t.cache.invalidate()
	t.log.Debug("row flushed", "op", "delete", "row", index)
	return nil
}

// readTail returns the logical payload bytes of rows from..end as one
// contiguous slice.
func (t *Table) readTail(from int) ([]byte, error) {
	var n int64
	for _, l := range t.header.RowsLength[from:] {
		n += int64(l)
	}
	if n == 0 {
		return nil, nil
	}
	return t.file.ReadAt(int(n), t.rowBase+t.header.RowOffset(from))
}

// rewriteHeader re-encodes the header region in full. When the body slot
// grows (or shrinks) the row region moves, so all row payloads are
// relocated first; the header that references the new offsets is written
// last.
func (t *Table) rewriteHeader() error {
	region, err := encodeHeader(t.header, t.key)
	if err != nil {
		return err
	}
	newBase := int64(len(region))
	if newBase != t.rowBase {
		rows, err := t.readTail(0)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			if _, err := t.file.WriteAt(rows, newBase); err != nil {
				return err
			}
		}
		if _, err := t.file.WriteAt(region, 0); err != nil {
			return err
		}
		if err := t.file.Truncate(newBase + int64(len(rows))); err != nil {
			return err
		}
		t.rowBase = newBase
		t.log.Debug("header slot resized", "rowBase", newBase)
		return t.file.Sync()
	}
	if _, err := t.file.WriteAt(region, 0); err != nil {
		return err
	}
	return t.file.Sync()
}

func (h *Header) recomputeTotal() {
	var n uint32
	for _, l := range h.RowsLength {
		n += l
	}
	h.TotalSize = n
}

func (t *Table) acquireGate(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !t.gate.TryLock() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: io gate held past %s", ErrLocked, timeout)
		}
		time.Sleep(gatePollInterval)
	}
	return nil
}

// encodeRow serialises a row to its on-disk payload: JSON array in column
// order, then optional compression, then optional sealing. Masking happens
// in the file layer.
func (t *Table) encodeRow(row *Row) ([]byte, error) {
	cols := make([]any, t.schema.Arity())
	for i, fd := range t.schema.Fields() {
		v, _ := row.Get(fd.Name)
		stored, err := storeValue(&fd, v)
		if err != nil {
			return nil, err
		}
		cols[i] = stored
	}
	payload, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	if t.compress {
		if payload, err = (zstdTransform{}).Encode(payload, 0); err != nil {
			return nil, err
		}
	}
	if t.key != nil {
		if payload, err = seal(payload, t.key); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// decodeRow is the inverse of encodeRow. The parsed arity must equal the
// schema arity exactly.
func (t *Table) decodeRow(raw []byte) (*Row, error) {
	var err error
	if t.key != nil {
		if raw, err = unseal(raw, t.key); err != nil {
			return nil, err
		}
	}
	// Duplex decode: passes uncompressed payloads through untouched.
	if raw, err = (zstdTransform{}).Decode(raw, 0); err != nil {
		return nil, err
	}

	var cols []any
	if err := json.Unmarshal(raw, &cols); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	if len(cols) != t.schema.Arity() {
		return nil, fmt.Errorf("%w: row arity %d, schema arity %d", ErrOutOfBounds, len(cols), t.schema.Arity())
	}

	row := NewRow()
	for i, fd := range t.schema.Fields() {
		v, err := reviveValue(&fd, cols[i])
		if err != nil {
			return nil, err
		}
		row.Set(fd.Name, v)
	}
	return row, nil
}
