// Package persistence provides the binary serialization format shared by all
// persisted tenant artifacts. Every artifact carries a fixed header and a
// trailing CRC32 of the payload so that truncated or bit-rotted files are
// rejected at load time instead of producing silent garbage.
package persistence

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
)

// Writer writes artifacts in the simage binary format. All multi-byte values
// are little-endian. The checksum covers everything written after the header.
type Writer struct {
	w   io.Writer
	crc hash.Hash32
}

// NewWriter creates a new artifact writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, crc: crc32.NewIEEE()}
}

// WriteHeader writes the file header. Magic and Version are filled in.
func (bw *Writer) WriteHeader(header *FileHeader) error {
	header.Magic = MagicNumber
	header.Version = Version
	return binary.Write(bw.w, binary.LittleEndian, header)
}

func (bw *Writer) write(p []byte) error {
	if _, err := bw.w.Write(p); err != nil {
		return err
	}
	_, _ = bw.crc.Write(p)
	return nil
}

// WriteUint32 writes a single uint32.
func (bw *Writer) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return bw.write(buf[:])
}

// WriteUint32Slice writes a length-prefixed uint32 slice.
func (bw *Writer) WriteUint32Slice(slice []uint32) error {
	if err := bw.WriteUint32(uint32(len(slice))); err != nil {
		return err
	}
	buf := make([]byte, len(slice)*4)
	for i, v := range slice {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return bw.write(buf)
}

// WriteFloat32Slice writes a length-prefixed float32 slice.
func (bw *Writer) WriteFloat32Slice(vec []float32) error {
	if err := bw.WriteUint32(uint32(len(vec))); err != nil {
		return err
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return bw.write(buf)
}

// WriteBytes writes a length-prefixed byte slice.
func (bw *Writer) WriteBytes(p []byte) error {
	if err := bw.WriteUint32(uint32(len(p))); err != nil {
		return err
	}
	return bw.write(p)
}

// WriteString writes a length-prefixed string.
func (bw *Writer) WriteString(s string) error {
	return bw.WriteBytes([]byte(s))
}

// Finish writes the trailing payload checksum. No further writes are allowed.
func (bw *Writer) Finish() error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], bw.crc.Sum32())
	_, err := bw.w.Write(buf[:])
	return err
}

// Reader reads artifacts written by Writer.
type Reader struct {
	r   io.Reader
	crc hash.Hash32
}

// NewReader creates a new artifact reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, crc: crc32.NewIEEE()}
}

// ReadHeader reads and validates the file header.
func (br *Reader) ReadHeader() (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(br.r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}
	return &header, nil
}

func (br *Reader) read(p []byte) error {
	if _, err := io.ReadFull(br.r, p); err != nil {
		return err
	}
	_, _ = br.crc.Write(p)
	return nil
}

// ReadUint32 reads a single uint32.
func (br *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := br.read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadUint32Slice reads a length-prefixed uint32 slice.
func (br *Reader) ReadUint32Slice() ([]uint32, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int(n)*4)
	if err := br.read(buf); err != nil {
		return nil, err
	}
	slice := make([]uint32, n)
	for i := range slice {
		slice[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return slice, nil
}

// ReadFloat32Slice reads a length-prefixed float32 slice.
func (br *Reader) ReadFloat32Slice() ([]float32, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int(n)*4)
	if err := br.read(buf); err != nil {
		return nil, err
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// ReadBytes reads a length-prefixed byte slice.
func (br *Reader) ReadBytes() ([]byte, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := br.read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadString reads a length-prefixed string.
func (br *Reader) ReadString() (string, error) {
	p, err := br.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// Verify reads the trailing checksum and compares it against the payload
// read so far. It must be called exactly once, after the last payload read.
func (br *Reader) Verify() error {
	var buf [4]byte
	if _, err := io.ReadFull(br.r, buf[:]); err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(buf[:]) != br.crc.Sum32() {
		return ErrChecksum
	}
	return nil
}
