// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

type bytesAndReader struct {
	b []byte
	r *bytes.Reader
}

var bytesAndReaderPool = &sync.Pool{
	New: func() any {
		return &bytesAndReader{
			b: make([]byte, 1024),
			r: bytes.NewReader(nil),
		}
	},
}

func getBytesAndReader(length int) *bytesAndReader {
	b := bytesAndReaderPool.Get().(*bytesAndReader)
	if length > cap(b.b) {
		b.b = make([]byte, length)
	}
	b.b = b.b[:length]
	return b
}

func putBytesAndReader(br *bytesAndReader) {
	br.b = br.b[:0]
	br.r.Reset(nil)
	bytesAndReaderPool.Put(br)
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

type readerCloser interface {
	io.ReadSeeker
	io.Closer
}

var noopCloser closerFunc = func() error {
	return nil
}

type fourCC [4]byte

func (f fourCC) String() string {
	return string(f[:])
}

// windowSize is the number of bytes the stream reader keeps buffered.
const windowSize = 4096

// streamReader gives random access to the bytes of a ReadSeeker through a
// small read window.
// Note that this is not thread safe.
type streamReader struct {
	r    io.ReadSeeker
	size int64

	win      []byte
	winStart int64

	readErr error
}

func newStreamReader(r io.ReadSeeker) (*streamReader, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &streamReader{
		r:    r,
		size: size,
		win:  make([]byte, 0, windowSize),
	}, nil
}

func newBytesStreamReader(b []byte) *streamReader {
	return &streamReader{
		r:    bytes.NewReader(b),
		size: int64(len(b)),
		// The whole slice is the window.
		win: b,
	}
}

// byteAt returns the byte at pos, loading a new window if needed.
func (e *streamReader) byteAt(pos int64) byte {
	if pos >= e.winStart && pos < e.winStart+int64(len(e.win)) {
		return e.win[pos-e.winStart]
	}
	if pos < 0 || pos >= e.size {
		e.stop(io.ErrUnexpectedEOF)
	}
	e.fill(pos)
	return e.win[0]
}

func (e *streamReader) fill(pos int64) {
	if _, err := e.r.Seek(pos, io.SeekStart); err != nil {
		e.stop(err)
	}
	n := min(int64(windowSize), e.size-pos)
	e.win = e.win[:cap(e.win)]
	if int64(len(e.win)) < n {
		e.win = make([]byte, n)
	}
	e.win = e.win[:n]
	if _, err := io.ReadFull(e.r, e.win); err != nil {
		e.win = e.win[:0]
		e.stop(err)
	}
	e.winStart = pos
}

// readAt fills b with the bytes starting at pos.
func (e *streamReader) readAt(b []byte, pos int64) {
	if pos < 0 || pos+int64(len(b)) > e.size {
		e.stop(io.ErrUnexpectedEOF)
	}
	if pos >= e.winStart && pos+int64(len(b)) <= e.winStart+int64(len(e.win)) {
		copy(b, e.win[pos-e.winStart:])
		return
	}
	if _, err := e.r.Seek(pos, io.SeekStart); err != nil {
		e.stop(err)
	}
	n, err := io.ReadFull(e.r, b)
	if err != nil {
		e.stop(err)
	}
	if n != len(b) {
		e.stop(errShortRead)
	}
	// The underlying position moved; force a reload on the next byteAt.
	e.win = e.win[:0]
}

// bufferedReader reads length bytes starting at pos and returns a ReaderCloser.
// It's important to call Close on the ReaderCloser when done.
func (e *streamReader) bufferedReader(pos, length int64, limit uint64) (readerCloser, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if uint64(length) > limit {
		return nil, newStructuralErrorf("length %d exceeds max %d", length, limit)
	}
	if length == 0 {
		return struct {
			io.ReadSeeker
			io.Closer
		}{
			bytes.NewReader(nil),
			noopCloser,
		}, nil
	}

	br := getBytesAndReader(int(length))
	if err := e.tryReadAt(br.b, pos); err != nil {
		putBytesAndReader(br)
		return nil, err
	}

	var closer closerFunc = func() error {
		putBytesAndReader(br)
		return nil
	}

	br.r.Reset(br.b)

	return struct {
		io.ReadSeeker
		io.Closer
	}{
		br.r,
		closer,
	}, nil
}

// tryReadAt is readAt with the stop panic turned into an error.
func (e *streamReader) tryReadAt(b []byte, pos int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if r != errStop {
				panic(r)
			}
			// The source outlives this read; hand the error over.
			err, e.readErr = e.readErr, nil
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
		}
	}()
	e.readAt(b, pos)
	return nil
}

func (e *streamReader) streamErr() error {
	return e.readErr
}

// stop records err unless an earlier error is already recorded, and panics
// with errStop.
func (e *streamReader) stop(err error) {
	if e.readErr == nil {
		e.readErr = err
	}
	panic(errStop)
}
