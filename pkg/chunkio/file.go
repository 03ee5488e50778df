package chunkio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// File prefix layout: 8-byte magic, u32 version, 16 reserved bytes, and a
// CRC-32C over the preceding 28 bytes.
const (
	magic = "JLSFMT\r\n"

	// FormatVersion is major<<16 | minor.
	FormatVersion uint32 = 1 << 16
)

// Mode selects how a file is opened.
type Mode int

const (
	// ModeRead opens an existing file read-only.
	ModeRead Mode = iota

	// ModeWrite creates a new file. The file must not already exist.
	ModeWrite

	// ModeRepair opens an existing file read-write for crash recovery.
	ModeRepair
)

// File provides positioned chunk I/O over a random-access file.
//
// Two cursors are maintained in memory: fpos, the offset of the next
// sequential read, and fend, the monotonic high-water mark of written data.
// Keeping both avoids tell syscalls on the hot path.
type File struct {
	fs   afero.Fs
	f    afero.File
	mode Mode

	fpos int64
	fend int64

	// hdrBuf is scratch for header encode/decode.
	hdrBuf [HeaderSize]byte
}

// Open opens path through fs in the given mode.
//
// ModeWrite creates the file with O_EXCL: silently truncating an existing
// capture would destroy data, so an existing file is an error. Errors from
// the underlying open are wrapped and can be checked with errors.Is.
func Open(fs afero.Fs, path string, mode Mode) (*File, error) {
	var (
		f   afero.File
		err error
	)
	switch mode {
	case ModeRead:
		f, err = fs.Open(path)
	case ModeWrite:
		f, err = fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o666)
	case ModeRepair:
		f, err = fs.OpenFile(path, os.O_RDWR, 0o666)
	default:
		return nil, fmt.Errorf("chunkio: unknown mode %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("chunkio: error opening file: %w", err)
	}

	file := &File{fs: fs, f: f, mode: mode}

	if mode != ModeWrite {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("chunkio: error statting file: %w", err)
		}
		file.fend = info.Size()
	}

	return file, nil
}

// Close closes the underlying file.
func (fl *File) Close() error {
	if fl.f == nil {
		return errors.New("chunkio: file already closed")
	}
	err := fl.f.Close()
	fl.f = nil
	if err != nil {
		return fmt.Errorf("chunkio: error closing file: %w", err)
	}
	return nil
}

// Flush forces written data to stable storage.
func (fl *File) Flush() error {
	if err := fl.f.Sync(); err != nil {
		return fmt.Errorf("chunkio: error syncing file: %w", err)
	}
	return nil
}

// End returns the high-water mark: the offset one past the last written
// byte.
func (fl *File) End() int64 { return fl.fend }

// Pos returns the sequential read cursor.
func (fl *File) Pos() int64 { return fl.fpos }

// Seek positions the sequential read cursor.
func (fl *File) Seek(offset int64) { fl.fpos = offset }

// WritePrefix writes the file prefix. Must be the first write on a new
// file.
func (fl *File) WritePrefix() error {
	var buf [PrefixSize]byte
	copy(buf[0:8], magic)
	binary.LittleEndian.PutUint32(buf[8:12], FormatVersion)
	binary.LittleEndian.PutUint32(buf[28:32], CRC(buf[0:28]))

	if _, err := fl.f.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("chunkio: error writing prefix: %w", err)
	}
	if fl.fend < PrefixSize {
		fl.fend = PrefixSize
	}
	fl.fpos = PrefixSize
	return nil
}

// ReadPrefix validates the file prefix and positions the cursor after it.
//
// The major version must match; newer minor versions are readable.
func (fl *File) ReadPrefix() error {
	var buf [PrefixSize]byte
	if _, err := io.ReadFull(io.NewSectionReader(fl.f, 0, PrefixSize), buf[:]); err != nil {
		return fmt.Errorf("%w: short prefix: %v", ErrBadPrefix, err)
	}
	if !bytes.Equal(buf[0:8], []byte(magic)) {
		return fmt.Errorf("%w: invalid magic %q", ErrBadPrefix, buf[0:8])
	}
	if binary.LittleEndian.Uint32(buf[28:32]) != CRC(buf[0:28]) {
		return fmt.Errorf("%w: checksum mismatch", ErrBadPrefix)
	}
	version := binary.LittleEndian.Uint32(buf[8:12])
	if version>>16 != FormatVersion>>16 {
		return fmt.Errorf("%w: unsupported version %d.%d",
			ErrBadPrefix, version>>16, version&0xFFFF)
	}
	fl.fpos = PrefixSize
	return nil
}

// Reserve appends n zero bytes at the end of the file and returns their
// starting offset. Used to hold space for a chunk whose contents are only
// known at close time.
func (fl *File) Reserve(n int) (int64, error) {
	offset := fl.fend
	if _, err := fl.f.WriteAt(make([]byte, n), offset); err != nil {
		return 0, fmt.Errorf("chunkio: error reserving space: %w", err)
	}
	fl.fend += int64(n)
	return offset, nil
}

// WriteChunk appends a chunk at the end of the file and returns its offset.
//
// hdr.PayloadLength is set from payload. Both checksums are computed here;
// header, payload, and trailer go out in a single positioned write so a
// torn chunk is detectable by its checksums.
func (fl *File) WriteChunk(hdr *Header, payload []byte) (int64, error) {
	return fl.WriteChunkAt(hdr, payload, fl.fend)
}

// WriteChunkAt writes a chunk at the given offset. Writes past fend extend
// the file; writes into a reserved region do not move fend.
func (fl *File) WriteChunkAt(hdr *Header, payload []byte, offset int64) (int64, error) {
	hdr.PayloadLength = uint32(len(payload))

	buf := make([]byte, hdr.TotalSize())
	hdr.encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], payload)
	binary.LittleEndian.PutUint32(buf[len(buf)-TrailerSize:], CRC(payload))

	if _, err := fl.f.WriteAt(buf, offset); err != nil {
		return 0, fmt.Errorf("chunkio: error writing chunk: %w", err)
	}

	if end := offset + int64(len(buf)); end > fl.fend {
		fl.fend = end
	}
	return offset, nil
}

// PatchItemNext rewrites the header of the chunk at offset so its ItemNext
// field points to next. This is the only in-place mutation of a written
// chunk.
func (fl *File) PatchItemNext(offset int64, next uint64) error {
	hdr, err := fl.ReadHeaderAt(offset)
	if err != nil {
		return err
	}
	hdr.ItemNext = next
	hdr.encode(fl.hdrBuf[:])
	if _, err := fl.f.WriteAt(fl.hdrBuf[:], offset); err != nil {
		return fmt.Errorf("chunkio: error patching chunk header: %w", err)
	}
	return nil
}

// ReadHeaderAt reads and validates the chunk header at offset.
func (fl *File) ReadHeaderAt(offset int64) (Header, error) {
	if offset < PrefixSize || offset+HeaderSize > fl.fend {
		return Header{}, fmt.Errorf(
			"%w: header at %d outside file", ErrCorruptHeader, offset)
	}
	if _, err := fl.f.ReadAt(fl.hdrBuf[:], offset); err != nil {
		return Header{}, fmt.Errorf("chunkio: error reading header: %w", err)
	}
	return decodeHeader(fl.hdrBuf[:])
}

// ReadChunkAt reads and validates the chunk at offset, returning its header
// and payload. The sequential cursor moves past the chunk.
func (fl *File) ReadChunkAt(offset int64) (Header, []byte, error) {
	hdr, err := fl.ReadHeaderAt(offset)
	if err != nil {
		return Header{}, nil, err
	}

	end := offset + hdr.TotalSize()
	if end > fl.fend {
		return Header{}, nil, fmt.Errorf(
			"%w: payload at %d extends past end of file",
			ErrCorruptPayload, offset)
	}

	buf := make([]byte, int(hdr.PayloadLength)+TrailerSize)
	if _, err := fl.f.ReadAt(buf, offset+HeaderSize); err != nil {
		return Header{}, nil, fmt.Errorf("chunkio: error reading payload: %w", err)
	}

	payload := buf[:hdr.PayloadLength]
	stored := binary.LittleEndian.Uint32(buf[hdr.PayloadLength:])
	if stored != CRC(payload) {
		return Header{}, nil, fmt.Errorf(
			"%w: checksum mismatch at %d", ErrCorruptPayload, offset)
	}

	fl.fpos = end
	return hdr, payload, nil
}

// ReadNext reads the chunk at the sequential cursor. Returns io.EOF at the
// high-water mark.
func (fl *File) ReadNext() (int64, Header, []byte, error) {
	if fl.fpos >= fl.fend {
		return 0, Header{}, nil, io.EOF
	}
	offset := fl.fpos
	hdr, payload, err := fl.ReadChunkAt(offset)
	return offset, hdr, payload, err
}

// ReadPrev follows the ItemPrev link of the chunk at offset.
//
// Returns io.EOF at the head of a track.
func (fl *File) ReadPrev(offset int64) (int64, Header, []byte, error) {
	hdr, err := fl.ReadHeaderAt(offset)
	if err != nil {
		return 0, Header{}, nil, err
	}
	if hdr.ItemPrev == 0 {
		return 0, Header{}, nil, io.EOF
	}
	prev := int64(hdr.ItemPrev)
	prevHdr, payload, err := fl.ReadChunkAt(prev)
	return prev, prevHdr, payload, err
}

// Truncate discards all data at and after offset, resetting both cursors.
// Used by repair to cut a torn tail.
func (fl *File) Truncate(offset int64) error {
	if err := fl.f.Truncate(offset); err != nil {
		return fmt.Errorf("chunkio: error truncating file: %w", err)
	}
	fl.fend = offset
	if fl.fpos > offset {
		fl.fpos = offset
	}
	return nil
}
