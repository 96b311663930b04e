package pointio

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/pkg/occerr"
)

// streamMagic is the 4-byte magic prefixing every sorted point stream.
const streamMagic = "SRTP"

// streamVersion is the wire format version tag.
const streamVersion uint16 = 1

// StreamWriter appends records to a sorted point stream file: header
// {magic, version, record_layout, count} then count fixed-size
// records, uncompressed. The count field is rewritten on Close once
// the true total is known.
type StreamWriter struct {
	f      *os.File
	w      *bufio.Writer
	layout point.Layout
	count  uint64
}

// CreateStreamWriter creates (truncating) a sorted point stream at
// path for the given record layout.
func CreateStreamWriter(path string, layout point.Layout) (*StreamWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, occerr.Wrap(occerr.CodeStoreIO, "creating sorted stream", err)
	}
	sw := &StreamWriter{f: f, w: bufio.NewWriterSize(f, 1<<20), layout: layout}
	if err := sw.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return sw, nil
}

func (sw *StreamWriter) writeHeader() error {
	var hdr [4 + 2 + 2 + 8]byte
	copy(hdr[0:4], streamMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], streamVersion)
	binary.LittleEndian.PutUint16(hdr[6:8], sw.layout.Code())
	binary.LittleEndian.PutUint64(hdr[8:16], sw.count)
	_, err := sw.w.Write(hdr[:])
	if err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "writing sorted stream header", err)
	}
	return nil
}

// Write appends one record.
func (sw *StreamWriter) Write(p point.Point) error {
	buf := sw.layout.Write(make([]byte, 0, sw.layout.SerializedSize()), p)
	if _, err := sw.w.Write(buf); err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "writing sorted stream record", err)
	}
	sw.count++
	return nil
}

// Close flushes buffered writes and rewrites the count field in the
// header with the true total.
func (sw *StreamWriter) Close() error {
	if err := sw.w.Flush(); err != nil {
		sw.f.Close()
		return occerr.Wrap(occerr.CodeStoreIO, "flushing sorted stream", err)
	}
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], sw.count)
	if _, err := sw.f.WriteAt(countBuf[:], 8); err != nil {
		sw.f.Close()
		return occerr.Wrap(occerr.CodeStoreIO, "finalizing sorted stream count", err)
	}
	return sw.f.Close()
}

// StreamReader reads records sequentially from a sorted point stream.
type StreamReader struct {
	f      *os.File
	r      *bufio.Reader
	Layout point.Layout
	Count  uint64
	read   uint64
}

// OpenStreamReader opens a sorted point stream and validates its
// header.
func OpenStreamReader(path string) (*StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, occerr.Wrap(occerr.CodeStoreIO, "opening sorted stream", err)
	}
	sr := &StreamReader{f: f, r: bufio.NewReaderSize(f, 1<<20)}
	if err := sr.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return sr, nil
}

// streamHeaderSize is the fixed byte length of a sorted stream header.
const streamHeaderSize = 4 + 2 + 2 + 8

// OpenStreamReaderAt opens a sorted point stream positioned at record
// index start, so the first call to Next returns that record. Used by
// the parallel builder to hand each worker a disjoint record range of
// the same file without contention.
func OpenStreamReaderAt(path string, start uint64) (*StreamReader, error) {
	sr, err := OpenStreamReader(path)
	if err != nil {
		return nil, err
	}
	if start == 0 {
		return sr, nil
	}
	if start > sr.Count {
		sr.Close()
		return nil, occerr.Newf(occerr.CodeCorruptInput, "seek start %d beyond stream count %d", start, sr.Count)
	}
	offset := int64(streamHeaderSize) + int64(start)*int64(sr.Layout.SerializedSize())
	if _, err := sr.f.Seek(offset, io.SeekStart); err != nil {
		sr.Close()
		return nil, occerr.Wrap(occerr.CodeStoreIO, "seeking sorted stream", err)
	}
	sr.r.Reset(sr.f)
	sr.read = start
	return sr, nil
}

func (sr *StreamReader) readHeader() error {
	var hdr [16]byte
	if _, err := io.ReadFull(sr.r, hdr[:]); err != nil {
		return occerr.Wrap(occerr.CodeCorruptInput, "reading sorted stream header", err)
	}
	if string(hdr[0:4]) != streamMagic {
		return occerr.New(occerr.CodeCorruptInput, "sorted stream missing SRTP magic")
	}
	version := binary.LittleEndian.Uint16(hdr[4:6])
	if version != streamVersion {
		return occerr.Newf(occerr.CodeCorruptInput, "unsupported sorted stream version %d", version)
	}
	sr.Layout = point.LayoutFromCode(binary.LittleEndian.Uint16(hdr[6:8]))
	sr.Count = binary.LittleEndian.Uint64(hdr[8:16])
	return nil
}

// Next reads the next record, returning io.EOF once Count records have
// been consumed.
func (sr *StreamReader) Next() (point.Point, error) {
	if sr.read >= sr.Count {
		return point.Point{}, io.EOF
	}
	buf := make([]byte, sr.Layout.SerializedSize())
	if _, err := io.ReadFull(sr.r, buf); err != nil {
		return point.Point{}, occerr.Wrap(occerr.CodeCorruptInput, "reading sorted stream record", err)
	}
	p, _, err := sr.Layout.Read(buf)
	if err != nil {
		return point.Point{}, err
	}
	sr.read++
	return p, nil
}

// Close closes the underlying file.
func (sr *StreamReader) Close() error {
	return sr.f.Close()
}
