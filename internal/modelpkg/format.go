// Package modelpkg reads and writes model cache packages (.pkg): a flat,
// uncompressed bundle of cached URL responses that can be moved between
// machines and replayed into a content cache.
//
// Layout, all integers big-endian:
//
//	magic   u32  0x4D4C4350 ("MLCP")
//	count   u32
//	count × {
//	    urlLen  u32           1 or more
//	    url     [urlLen]byte  UTF-8
//	    size    u64
//	    payload [size]byte
//	}
package modelpkg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

const (
	// Magic identifies a package.
	Magic uint32 = 0x4D4C4350
	// Ext is the conventional file extension.
	Ext = ".pkg"

	maxURLLen = 64 << 10
)

var (
	// ErrBadMagic means the input is not a package at all.
	ErrBadMagic = errors.New("modelpkg: not a model package (bad magic)")
	// ErrCorrupt means the input is a package but is truncated or malformed.
	ErrCorrupt = errors.New("modelpkg: corrupt package")
)

// Entry is one cached response.
type Entry struct {
	URL     string
	Payload []byte
}

// Encode writes entries to w. URLs must be unique and non-empty.
func Encode(w io.Writer, entries []Entry) error {
	if uint64(len(entries)) > math.MaxUint32 {
		return fmt.Errorf("modelpkg: too many entries: %d", len(entries))
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.URL == "" {
			return errors.New("modelpkg: empty URL")
		}
		if len(e.URL) > maxURLLen {
			return fmt.Errorf("modelpkg: URL too long: %d bytes", len(e.URL))
		}
		if _, dup := seen[e.URL]; dup {
			return fmt.Errorf("modelpkg: duplicate URL %q", e.URL)
		}
		seen[e.URL] = struct{}{}
	}

	bw := bufio.NewWriter(w)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], Magic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(entries)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	for _, e := range entries {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(e.URL)))
		if _, err := bw.Write(n[:]); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.URL); err != nil {
			return err
		}
		var sz [8]byte
		binary.BigEndian.PutUint64(sz[:], uint64(len(e.Payload)))
		if _, err := bw.Write(sz[:]); err != nil {
			return err
		}
		if _, err := bw.Write(e.Payload); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Pack encodes entries into a byte slice. As with Encode, every URL must be
// non-empty and unique.
func Pack(entries []Entry) ([]byte, error) {
	size := 8
	for _, e := range entries {
		size += 12 + len(e.URL) + len(e.Payload)
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := Encode(buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decoder reads a package entry by entry so large packages need not be held
// in memory twice.
type Decoder struct {
	r     *bufio.Reader
	total uint32
	read  uint32
	seen  map[string]struct{}
}

// NewDecoder validates the magic and reads the entry count. The magic is
// checked before anything else; a mismatch returns ErrBadMagic.
func NewDecoder(r io.Reader) (*Decoder, error) {
	br := bufio.NewReader(r)
	var hdr [8]byte
	if _, err := io.ReadFull(br, hdr[:4]); err != nil {
		return nil, ErrBadMagic
	}
	if binary.BigEndian.Uint32(hdr[:4]) != Magic {
		return nil, ErrBadMagic
	}
	if _, err := io.ReadFull(br, hdr[4:]); err != nil {
		return nil, fmt.Errorf("%w: missing entry count", ErrCorrupt)
	}
	return &Decoder{r: br, total: binary.BigEndian.Uint32(hdr[4:]), seen: map[string]struct{}{}}, nil
}

// Count is the number of entries declared in the header.
func (d *Decoder) Count() int { return int(d.total) }

// Next returns the next entry, or io.EOF after the last one. A zero URL
// length is ErrCorrupt, since Encode never writes an empty URL.
func (d *Decoder) Next() (Entry, error) {
	if d.read == d.total {
		return Entry{}, io.EOF
	}
	idx := d.read
	var n [4]byte
	if _, err := io.ReadFull(d.r, n[:]); err != nil {
		return Entry{}, fmt.Errorf("%w: entry %d: truncated URL length", ErrCorrupt, idx)
	}
	urlLen := binary.BigEndian.Uint32(n[:])
	if urlLen == 0 || urlLen > maxURLLen {
		return Entry{}, fmt.Errorf("%w: entry %d: URL length %d out of range", ErrCorrupt, idx, urlLen)
	}
	u := make([]byte, urlLen)
	if _, err := io.ReadFull(d.r, u); err != nil {
		return Entry{}, fmt.Errorf("%w: entry %d: truncated URL", ErrCorrupt, idx)
	}
	if !utf8.Valid(u) {
		return Entry{}, fmt.Errorf("%w: entry %d: URL is not UTF-8", ErrCorrupt, idx)
	}
	url := string(u)
	if _, dup := d.seen[url]; dup {
		return Entry{}, fmt.Errorf("%w: entry %d: duplicate URL %q", ErrCorrupt, idx, url)
	}
	var sz [8]byte
	if _, err := io.ReadFull(d.r, sz[:]); err != nil {
		return Entry{}, fmt.Errorf("%w: entry %d: truncated payload length", ErrCorrupt, idx)
	}
	size := binary.BigEndian.Uint64(sz[:])
	if size > math.MaxInt64 {
		return Entry{}, fmt.Errorf("%w: entry %d: payload length %d out of range", ErrCorrupt, idx, size)
	}
	// Grow as bytes arrive rather than trusting the declared size up front.
	var payload bytes.Buffer
	if m, err := io.CopyN(&payload, d.r, int64(size)); err != nil || uint64(m) != size {
		return Entry{}, fmt.Errorf("%w: entry %d: payload truncated at %d of %d bytes", ErrCorrupt, idx, m, size)
	}
	d.seen[url] = struct{}{}
	d.read++
	p := payload.Bytes()
	if p == nil {
		p = []byte{}
	}
	return Entry{URL: url, Payload: p}, nil
}

// Decode reads a whole package from r.
func Decode(r io.Reader) ([]Entry, error) {
	d, err := NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for {
		e, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

// Unpack decodes a package held in memory. Bytes after the last entry make
// the package corrupt.
func Unpack(data []byte) ([]Entry, error) {
	return unpack(data, nil)
}

func unpack(data []byte, onEntry func(done, total int)) ([]Entry, error) {
	br := bytes.NewReader(data)
	d, err := NewDecoder(br)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, min(d.Count(), 1024))
	for {
		e, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if onEntry != nil {
			onEntry(len(out), d.Count())
		}
	}
	if d.r.Buffered() > 0 || br.Len() > 0 {
		return nil, fmt.Errorf("%w: trailing bytes after %d entries", ErrCorrupt, d.Count())
	}
	return out, nil
}
