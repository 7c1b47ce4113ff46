// Binary header codec.
//
// Region layout:
//
//	preamble := magic[4] | bodyLen u32le            (always plaintext)
//	body     := totalSize u32le | rowsLen u32le | schemaLen u32le
//	            | rowsJSON | schemaJSON | zero padding
//
// The two JSON side-tables are independent: rowsJSON indexes rows (on-disk
// byte length per row), schemaJSON indexes columns. Their lengths sit at
// fixed offsets so the codec can slice the side-tables without parsing
// them first.
//
// With an encryption key configured the body is sealed as a unit; the
// preamble stays plaintext because bodyLen must be readable before
// decryption and a corrupted magic number must be diagnosable without the
// key. The body plaintext is padded to a slot boundary (4096-byte file
// alignment including the preamble) and the slot grows in 4096-byte steps
// when the side-tables outgrow it, so bodyLen is load-bearing: row
// payloads start at preambleSize+bodyLen.
package tabfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	json "github.com/goccy/go-json"
)

const (
	// preambleSize is the plaintext prefix: 4 magic bytes + bodyLen.
	preambleSize = 8

	// headerFixedSize covers the three fixed-width body fields.
	headerFixedSize = 12

	// headerBaseSlot is the smallest body slot; with the preamble the
	// header region occupies one 4096-byte unit.
	headerBaseSlot = 4096 - preambleSize

	headerSlotStep = 4096
)

// headerMagic identifies the file format. Validated byte-for-byte; any
// mismatching byte fails decode outright.
var headerMagic = [4]byte{'T', 'B', 'F', '1'}

// Header is the decoded file header. TotalSize is the byte length of the
// row payload region; RowsLength holds the on-disk length of every row in
// index order; Schema holds the column descriptors in column order.
type Header struct {
	TotalSize  uint32
	RowsLength []uint32
	Schema     []FieldDescriptor
}

// RowOffset returns the byte offset of row index relative to the start of
// the row region: the sum of the lengths of all preceding rows.
func (h *Header) RowOffset(index int) int64 {
	var off int64
	for _, n := range h.RowsLength[:index] {
		off += int64(n)
	}
	return off
}

// bodySlot returns the padded body size for a plaintext body of need
// bytes.
func bodySlot(need int) int {
	slot := headerBaseSlot
	for slot < need {
		slot += headerSlotStep
	}
	return slot
}

// encodeHeader serialises h into a full header region. Both side-tables
// are re-serialised from scratch on every call; there is no incremental
// patching. The returned region is preamble + (optionally sealed) padded
// body.
func encodeHeader(h *Header, key *cipherKey) ([]byte, error) {
	rowsLength := h.RowsLength
	if rowsLength == nil {
		rowsLength = []uint32{}
	}
	rowsJSON, err := json.Marshal(rowsLength)
	if err != nil {
		return nil, fmt.Errorf("%w: rows side-table: %w", ErrCorruptHeader, err)
	}
	schemaJSON, err := json.Marshal(h.Schema)
	if err != nil {
		return nil, fmt.Errorf("%w: schema side-table: %w", ErrCorruptHeader, err)
	}

	need := headerFixedSize + len(rowsJSON) + len(schemaJSON)
	body := make([]byte, bodySlot(need))
	binary.LittleEndian.PutUint32(body[0:4], h.TotalSize)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(rowsJSON)))
	binary.LittleEndian.PutUint32(body[8:12], uint32(len(schemaJSON)))
	copy(body[headerFixedSize:], rowsJSON)
	copy(body[headerFixedSize+len(rowsJSON):], schemaJSON)

	if key != nil {
		if body, err = seal(body, key); err != nil {
			return nil, err
		}
	}

	region := make([]byte, preambleSize+len(body))
	copy(region[0:4], headerMagic[:])
	binary.LittleEndian.PutUint32(region[4:8], uint32(len(body)))
	copy(region[preambleSize:], body)
	return region, nil
}

// headerBodyLen validates the magic number in a preamble and returns the
// on-disk body length. This is the only information needed to size the
// second read when the header is loaded in two steps.
func headerBodyLen(preamble []byte) (int, error) {
	if len(preamble) < preambleSize {
		return 0, fmt.Errorf("%w: preamble truncated at %d bytes", ErrCorruptHeader, len(preamble))
	}
	if !bytes.Equal(preamble[:4], headerMagic[:]) {
		return 0, fmt.Errorf("%w: got % x, want % x", ErrMagicMismatch, preamble[:4], headerMagic[:])
	}
	return int(binary.LittleEndian.Uint32(preamble[4:8])), nil
}

// decodeHeader parses a full header region. Magic validation comes first,
// then decryption when keyed, then the fixed-width fields, then the two
// side-tables sliced by the lengths just read.
func decodeHeader(raw []byte, key *cipherKey) (*Header, error) {
	bodyLen, err := headerBodyLen(raw)
	if err != nil {
		return nil, err
	}
	if len(raw) < preambleSize+bodyLen {
		return nil, fmt.Errorf("%w: region %d bytes, body length claims %d", ErrCorruptHeader, len(raw), bodyLen)
	}
	body := raw[preambleSize : preambleSize+bodyLen]

	if key != nil {
		if body, err = unseal(body, key); err != nil {
			return nil, err
		}
	}
	if len(body) < headerFixedSize {
		return nil, fmt.Errorf("%w: body truncated at %d bytes", ErrCorruptHeader, len(body))
	}

	totalSize := binary.LittleEndian.Uint32(body[0:4])
	rowsLen := int(binary.LittleEndian.Uint32(body[4:8]))
	schemaLen := int(binary.LittleEndian.Uint32(body[8:12]))
	if headerFixedSize+rowsLen+schemaLen > len(body) {
		return nil, fmt.Errorf("%w: side-tables (%d+%d bytes) overflow body", ErrCorruptHeader, rowsLen, schemaLen)
	}

	rowsJSON := body[headerFixedSize : headerFixedSize+rowsLen]
	schemaJSON := body[headerFixedSize+rowsLen : headerFixedSize+rowsLen+schemaLen]

	h := &Header{TotalSize: totalSize}
	if err := json.Unmarshal(rowsJSON, &h.RowsLength); err != nil {
		return nil, fmt.Errorf("%w: rows side-table: %w", ErrCorruptHeader, err)
	}
	if err := json.Unmarshal(schemaJSON, &h.Schema); err != nil {
		return nil, fmt.Errorf("%w: schema side-table: %w", ErrCorruptHeader, err)
	}
	return h, nil
}
