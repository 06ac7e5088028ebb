// Package tlv implements the minimal {tag, length, value} record codec
// used by the stegfs superblock. It is small enough to own outright
// rather than pull in a generic TLV library, but its shape (ordered
// append-only list of tagged byte records, one u8 tag + u16 big-endian
// length header) is exactly what the original C implementation's
// common/tlv.h provided and the spec lists as "assumed available"
// ambient infrastructure.
package tlv

import (
	"encoding/binary"
	"errors"
)

// Tag identifies one superblock field.
type Tag uint8

// ErrTruncated is returned by Parse when the buffer ends mid-record.
var ErrTruncated = errors.New("tlv: truncated record")

// Entry is one decoded or pending-encode record.
type Entry struct {
	Tag   Tag
	Value []byte
}

// List is an ordered sequence of Entries, encoded/decoded as one blob.
type List []Entry

// Append adds one entry.
func (l *List) Append(tag Tag, value []byte) {
	*l = append(*l, Entry{Tag: tag, Value: value})
}

// Get returns the value for the first entry with the given tag.
func (l List) Get(tag Tag) ([]byte, bool) {
	for _, e := range l {
		if e.Tag == tag {
			return e.Value, true
		}
	}
	return nil, false
}

// Encode serializes the list as a sequence of {u8 tag, u16 length, value}
// records, in order.
func (l List) Encode() []byte {
	var out []byte
	for _, e := range l {
		hdr := make([]byte, 3)
		hdr[0] = byte(e.Tag)
		binary.BigEndian.PutUint16(hdr[1:3], uint16(len(e.Value)))
		out = append(out, hdr...)
		out = append(out, e.Value...)
	}
	return out
}

// Parse decodes a buffer previously produced by Encode. Trailing zero
// padding (as found after a TLV blob embedded in a fixed-size block) is
// tolerated: parsing stops cleanly when fewer than 3 bytes remain or at
// the first 3-byte header that is all zero. A record whose length would
// run past buf yields the entries parsed so far and ErrTruncated.
func Parse(buf []byte) (List, error) {
	var l List
	for len(buf) > 0 {
		if len(buf) < 3 {
			return l, nil
		}
		tag := Tag(buf[0])
		length := binary.BigEndian.Uint16(buf[1:3])
		if tag == 0 && length == 0 {
			return l, nil
		}
		buf = buf[3:]
		if int(length) > len(buf) {
			return l, ErrTruncated
		}
		value := make([]byte, length)
		copy(value, buf[:length])
		l = append(l, Entry{Tag: tag, Value: value})
		buf = buf[length:]
	}
	return l, nil
}
