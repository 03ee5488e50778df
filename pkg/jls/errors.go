package jls

import (
	"errors"

	"github.com/jetperch/jls/pkg/chunkio"
)

// Sentinel errors returned by the engine. Match with errors.Is; returned
// errors wrap these with context.
var (
	// ErrParamInvalid indicates an argument outside its documented range.
	ErrParamInvalid = errors.New("jls: invalid parameter")

	// ErrNotFound indicates a source or signal id that was never defined.
	ErrNotFound = errors.New("jls: not found")

	// ErrAlreadyExists indicates a duplicate source or signal definition.
	ErrAlreadyExists = errors.New("jls: already exists")

	// ErrEmpty indicates a query over a signal with no samples.
	ErrEmpty = errors.New("jls: empty")

	// ErrUnavailable indicates data the file does not contain, such as a
	// timestamp query on a signal with no UTC track.
	ErrUnavailable = errors.New("jls: unavailable")

	// ErrTimedOut indicates a flush or close that exceeded its budget.
	ErrTimedOut = errors.New("jls: timed out")

	// ErrLocked indicates the file is locked by another process.
	ErrLocked = errors.New("jls: file locked")

	// ErrClosed indicates an operation on a closed writer or reader.
	ErrClosed = errors.New("jls: closed")

	// ErrCorruptHeader and ErrCorruptPayload surface chunk-level CRC
	// failures in an otherwise intact file.
	ErrCorruptHeader  = chunkio.ErrCorruptHeader
	ErrCorruptPayload = chunkio.ErrCorruptPayload
)
