// Package tabfile provides an embedded table storage engine backed by a
// single binary file per table. Rows are typed by a declarative schema,
// persisted as masked (and optionally encrypted) payloads behind a
// fixed-layout header, and served through an in-memory ordered index.
//
// The file starts with an 8-byte plaintext preamble (magic number plus
// header-body length) followed by the header body: fixed-width little-endian
// size fields and two length-prefixed JSON side-tables, one holding the
// on-disk byte length of every row and one holding the column schema. Row
// payloads follow the header contiguously in index order, each a JSON array
// whose arity equals the schema arity. Every byte written through the file
// layer passes an XOR masking transform; with an encryption key configured,
// the header body and each row are additionally sealed with
// XChaCha20-Poly1305.
//
// Access is single-writer, cooperative multi-reader: a sentinel lock file
// serialises processes, a coarse in-process gate serialises row I/O, and a
// FIFO flush queue applies mutations one at a time.
package tabfile

import "errors"

// Sentinel errors for programmatic handling. Callers use errors.Is to
// distinguish recoverable conditions (ErrLocked, ErrClosed) from validation
// failures (ErrInvalidArgument, ErrInvalidType, ErrOutOfBounds) and from
// corruption (ErrMagicMismatch, ErrCorruptHeader, ErrCorruptRow).
var (
	ErrMagicMismatch   = errors.New("magic number mismatch")
	ErrLocked          = errors.New("resource locked")
	ErrClosed          = errors.New("table is closed")
	ErrOutOfBounds     = errors.New("out of bounds")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidType     = errors.New("invalid type")
	ErrCorruptHeader   = errors.New("corrupt header")
	ErrCorruptRow      = errors.New("corrupt row")
	ErrUnknown         = errors.New("unknown error")
)
