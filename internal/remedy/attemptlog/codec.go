// SPDX-License-Identifier: Apache-2.0

package attemptlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"

	"github.com/kusari-oss/remedy/internal/core/models"
)

// Entries are stored as [4-byte big-endian CRC32][CBOR attempt]
const crcSize = 4

var encMode = func() cbor.EncMode {
	// RFC3339Nano keeps sub-second start times; the default drops them
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("attemptlog: invalid cbor options: %v", err))
	}
	return mode
}()

func encodeEntry(a *models.Attempt) ([]byte, error) {
	body, err := encMode.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}

	out := make([]byte, crcSize+len(body))
	binary.BigEndian.PutUint32(out[:crcSize], crc32.ChecksumIEEE(body))
	copy(out[crcSize:], body)
	return out, nil
}

func decodeEntry(data []byte) (models.Attempt, error) {
	var a models.Attempt
	if len(data) <= crcSize {
		return a, fmt.Errorf("%w: entry too short", ErrCorruptEntry)
	}

	stored := binary.BigEndian.Uint32(data[:crcSize])
	body := data[crcSize:]
	if computed := crc32.ChecksumIEEE(body); stored != computed {
		return a, fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorruptEntry, stored, computed)
	}

	if err := cbor.Unmarshal(body, &a); err != nil {
		return a, fmt.Errorf("%w: cbor decode: %v", ErrCorruptEntry, err)
	}
	return a, nil
}
