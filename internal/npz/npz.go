// Package npz reads and writes NumPy .npz archives: zip files whose entries
// are .npy arrays. Entries are written zstd-compressed (zip method 93, the
// method numpy's zipfile-zstd understands); stored, deflate and zstd entries
// are all accepted on read.
package npz

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/sbinet/npyio"
)

// ErrMissing is wrapped by LoadError when a required array is absent.
var ErrMissing = errors.New("array missing")

// LoadError reports a missing array or a malformed archive.
type LoadError struct {
	Path  string
	Array string
	Err   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("load ")
	if e.Path != "" {
		b.WriteString(e.Path)
	} else {
		b.WriteString("archive")
	}
	if e.Array != "" {
		fmt.Fprintf(&b, " [%s]", e.Array)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Writer appends arrays to an npz archive.
type Writer struct {
	zw     *zip.Writer
	method uint16
}

// NewWriter starts an archive on w. When compress is false entries are stored.
func NewWriter(w io.Writer, compress bool) *Writer {
	zw := zip.NewWriter(w)
	method := zip.Store
	if compress {
		zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(zstd.WithEncoderLevel(zstd.SpeedDefault)))
		method = zstd.ZipMethodWinZip
	}
	return &Writer{zw: zw, method: method}
}

// Add writes val (a slice of a numeric or bool type) as name.npy.
func (w *Writer) Add(name string, val any) error {
	f, err := w.create(name + ".npy")
	if err != nil {
		return err
	}
	if err := npyio.Write(f, val); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// AddShaped writes data as an array of the given shape in C order. data must
// hold exactly the product of shape elements. npyio writes flat slices as
// (len,) only, so arrays of more than one dimension get their header written
// here; one-dimensional shapes go through Add.
func (w *Writer) AddShaped(name string, shape []int, data any) error {
	descr, n, err := describe(data)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != n {
		return fmt.Errorf("write %s: shape %v needs %d elements, have %d", name, shape, total, n)
	}
	if len(shape) == 1 {
		return w.Add(name, data)
	}

	f, err := w.create(name + ".npy")
	if err != nil {
		return err
	}
	if err := writeHeader(f, descr, shape); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := binary.Write(f, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// AddRaw writes an entry verbatim. numpy exposes non-.npy entries as bytes.
func (w *Writer) AddRaw(name string, data []byte) error {
	f, err := w.create(name)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

func (w *Writer) create(name string) (io.Writer, error) {
	f, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Method: w.method})
	if err != nil {
		return nil, fmt.Errorf("create entry %s: %w", name, err)
	}
	return f, nil
}

// Close finishes the archive. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// Array is a decoded .npy entry widened to a common element type.
type Array[T int64 | float64] struct {
	Data  []T
	Shape []int
}

// Reader gives access to the arrays of an archive.
type Reader struct {
	path  string
	files map[string]*zip.File
	f     *os.File
}

// Open opens the archive at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &LoadError{Path: path, Err: err}
	}
	r, err := newReader(f, fi.Size(), path)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.f = f
	return r, nil
}

// NewReader reads an archive held in memory or any other io.ReaderAt.
func NewReader(ra io.ReaderAt, size int64) (*Reader, error) {
	return newReader(ra, size, "")
}

func newReader(ra io.ReaderAt, size int64, path string) (*Reader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	r := &Reader{path: path, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		r.files[f.Name] = f
	}
	return r, nil
}

// Close releases the file opened by Open.
func (r *Reader) Close() error {
	if r.f != nil {
		err := r.f.Close()
		r.f = nil
		return err
	}
	return nil
}

// Has reports whether the archive holds array name.
func (r *Reader) Has(name string) bool {
	_, ok := r.files[name+".npy"]
	return ok
}

// Raw returns the bytes of a non-array entry.
func (r *Reader) Raw(name string) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, &LoadError{Path: r.path, Array: name, Err: ErrMissing}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &LoadError{Path: r.path, Array: name, Err: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &LoadError{Path: r.path, Array: name, Err: err}
	}
	return data, nil
}

// Ints decodes an integer or bool array.
func (r *Reader) Ints(name string) (Array[int64], error) {
	var out Array[int64]
	nr, err := r.open(name)
	if err != nil {
		return out, err
	}

	out.Shape = nr.Header.Descr.Shape
	switch typ := strings.TrimLeft(nr.Header.Descr.Type, "<>|="); typ {
	case "i1":
		out.Data, err = readWiden[int8](nr)
	case "i2":
		out.Data, err = readWiden[int16](nr)
	case "i4":
		out.Data, err = readWiden[int32](nr)
	case "i8":
		out.Data, err = readWiden[int64](nr)
	case "u1":
		out.Data, err = readWiden[uint8](nr)
	case "u2":
		out.Data, err = readWiden[uint16](nr)
	case "u4":
		out.Data, err = readWiden[uint32](nr)
	case "u8":
		out.Data, err = readWiden[uint64](nr)
	case "b1":
		var bs []bool
		if err = nr.Read(&bs); err == nil {
			out.Data = make([]int64, len(bs))
			for i, b := range bs {
				if b {
					out.Data[i] = 1
				}
			}
		}
	default:
		err = fmt.Errorf("unsupported integer dtype %q", nr.Header.Descr.Type)
	}
	if err != nil {
		return out, &LoadError{Path: r.path, Array: name, Err: err}
	}
	return out, nil
}

// Floats decodes a floating point array.
func (r *Reader) Floats(name string) (Array[float64], error) {
	var out Array[float64]
	nr, err := r.open(name)
	if err != nil {
		return out, err
	}

	out.Shape = nr.Header.Descr.Shape
	switch typ := strings.TrimLeft(nr.Header.Descr.Type, "<>|="); typ {
	case "f4":
		var fs []float32
		if err = nr.Read(&fs); err == nil {
			out.Data = make([]float64, len(fs))
			for i, v := range fs {
				out.Data[i] = float64(v)
			}
		}
	case "f8":
		err = nr.Read(&out.Data)
	default:
		err = fmt.Errorf("unsupported float dtype %q", nr.Header.Descr.Type)
	}
	if err != nil {
		return out, &LoadError{Path: r.path, Array: name, Err: err}
	}
	return out, nil
}

func (r *Reader) open(name string) (*npyio.Reader, error) {
	f, ok := r.files[name+".npy"]
	if !ok {
		return nil, &LoadError{Path: r.path, Array: name, Err: ErrMissing}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &LoadError{Path: r.path, Array: name, Err: err}
	}
	// buffered so the entry is closed before decoding
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, &LoadError{Path: r.path, Array: name, Err: err}
	}
	nr, err := npyio.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &LoadError{Path: r.path, Array: name, Err: err}
	}
	if nr.Header.Descr.Fortran && len(nr.Header.Descr.Shape) > 1 {
		return nil, &LoadError{Path: r.path, Array: name, Err: errors.New("fortran-ordered arrays are not supported")}
	}
	return nr, nil
}

var npyMagic = []byte("\x93NUMPY\x01\x00")

func describe(data any) (string, int, error) {
	switch d := data.(type) {
	case []int32:
		return "<i4", len(d), nil
	case []int64:
		return "<i8", len(d), nil
	case []uint8:
		return "|u1", len(d), nil
	case []uint64:
		return "<u8", len(d), nil
	case []float32:
		return "<f4", len(d), nil
	case []float64:
		return "<f8", len(d), nil
	default:
		return "", 0, fmt.Errorf("unsupported element type %T", data)
	}
}

func writeHeader(w io.Writer, descr string, shape []int) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	hdr := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)

	// magic + 2-byte length + header + newline, padded to 64 bytes
	total := len(npyMagic) + 2 + len(hdr) + 1
	if pad := total % 64; pad != 0 {
		hdr += strings.Repeat(" ", 64-pad)
	}
	hdr += "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(hdr))); err != nil {
		return err
	}
	_, err := io.WriteString(w, hdr)
	return err
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func readWiden[T integer](nr *npyio.Reader) ([]int64, error) {
	var raw []T
	if err := nr.Read(&raw); err != nil {
		return nil, err
	}
	out := make([]int64, len(raw))
	for i, v := range raw {
		out[i] = int64(v)
	}
	return out, nil
}
