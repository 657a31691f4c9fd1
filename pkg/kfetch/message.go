package kfetch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionCodec identifies the compression algorithm recorded in a
// legacy Kafka message's attributes byte (the low 3 bits).
type CompressionCodec int8

const (
	CompressionNone   CompressionCodec = 0
	CompressionGzip   CompressionCodec = 1
	CompressionSnappy CompressionCodec = 2
	CompressionLZ4    CompressionCodec = 3
	CompressionZstd   CompressionCodec = 4
)

const compressionCodecMask = 0x07

// RawMessage is a single decoded legacy-format Kafka message: decodeMessage
// has separated the stored CRC, the attributes byte, and the key/value
// payload from the wire bytes. The Record Unpacker then validates the CRC
// and, if the message is compressed, recursively unpacks the nested
// message set it carries.
type RawMessage struct {
	Magic      int8
	Attributes int8
	Timestamp  int64
	Key        []byte
	Value      []byte

	storedCRC uint32
	crcSpan   []byte // magic byte through end of value; the canonical CRC range
}

// Compression returns the codec this message was compressed with, or
// CompressionNone.
func (m *RawMessage) Compression() CompressionCodec {
	return CompressionCodec(m.Attributes & compressionCodecMask)
}

func (m *RawMessage) verifyCRC() bool {
	return crc32.ChecksumIEEE(m.crcSpan) == m.storedCRC
}

// MessageSetEntry is one top-level entry in a raw message set: either a
// fully decoded message, or (only ever as the final entry) a partial
// message truncated by the fetch size.
type MessageSetEntry struct {
	Offset  int64
	Size    int32
	Msg     *RawMessage
	Partial bool
}

// decodeMessageSet parses a flat, legacy-format ((offset, size, message))*
// byte run into MessageSetEntry values. A trailing entry whose declared
// size exceeds the remaining bytes is reported as Partial rather than
// erroring, matching the wire's truncated-fetch convention.
func decodeMessageSet(raw []byte) ([]MessageSetEntry, error) {
	var entries []MessageSetEntry
	for len(raw) > 0 {
		if len(raw) < 12 {
			break // trailing scrap smaller than an offset+size header; nothing usable left
		}
		offset := int64(binary.BigEndian.Uint64(raw[0:8]))
		size := int32(binary.BigEndian.Uint32(raw[8:12]))
		if size < 0 {
			return nil, &malformedResponseError{detail: fmt.Sprintf("negative message size %d", size)}
		}
		raw = raw[12:]
		if int(size) > len(raw) {
			entries = append(entries, MessageSetEntry{Offset: offset, Size: size, Partial: true})
			break
		}
		body := raw[:size]
		raw = raw[size:]

		msg, err := decodeMessage(body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, MessageSetEntry{Offset: offset, Size: size, Msg: msg})
	}
	return entries, nil
}

func decodeMessage(body []byte) (*RawMessage, error) {
	if len(body) < 6 {
		return nil, &malformedResponseError{detail: "message shorter than crc+magic+attributes"}
	}
	storedCRC := binary.BigEndian.Uint32(body[0:4])
	crcSpan := body[4:]
	magic := int8(body[4])
	attrs := int8(body[5])

	cur := body[6:]
	var timestamp int64
	if magic >= 1 {
		if len(cur) < 8 {
			return nil, &malformedResponseError{detail: "message missing v1 timestamp"}
		}
		timestamp = int64(binary.BigEndian.Uint64(cur[0:8]))
		cur = cur[8:]
	}

	key, cur, err := readBytesField(cur)
	if err != nil {
		return nil, err
	}
	value, _, err := readBytesField(cur)
	if err != nil {
		return nil, err
	}

	return &RawMessage{
		Magic:      magic,
		Attributes: attrs,
		Timestamp:  timestamp,
		Key:        key,
		Value:      value,
		storedCRC:  storedCRC,
		crcSpan:    crcSpan,
	}, nil
}

// readBytesField reads a Kafka-style length-prefixed byte field (int32
// length, -1 meaning null) and returns the remaining buffer.
func readBytesField(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, &malformedResponseError{detail: "truncated length-prefixed field"}
	}
	n := int32(binary.BigEndian.Uint32(buf[0:4]))
	buf = buf[4:]
	if n < 0 {
		return nil, buf, nil
	}
	if int(n) > len(buf) {
		return nil, nil, &malformedResponseError{detail: "length-prefixed field overruns buffer"}
	}
	return buf[:n], buf[n:], nil
}

// decompress expands value according to codec, returning the nested
// message-set bytes it contains.
func decompress(codec CompressionCodec, value []byte) ([]byte, error) {
	switch codec {
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(value))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readAll(zr)
	case CompressionSnappy:
		return decodeSnappy(value)
	case CompressionLZ4:
		return readAll(lz4.NewReader(bytes.NewReader(value)))
	case CompressionZstd:
		zr, err := zstd.NewReader(bytes.NewReader(value))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readAll(zr)
	default:
		return value, nil
	}
}

func readAll(r interface{ Read([]byte) (int, error) }) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return out.Bytes(), nil
}

// xerialMagic is the header Kafka's Java/Scala producers historically
// prepend to snappy-compressed message sets, chunking the payload into
// independently snappy-compressed blocks.
var xerialMagic = []byte{0x82, 'S', 'N', 'A', 'P', 'P', 'Y', 0}

func decodeSnappy(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, xerialMagic) {
		return snappy.Decode(nil, value)
	}

	// magic(8) + version(4) + compat(4) header, then a sequence of
	// (int32 chunk size, chunk bytes) blocks.
	if len(value) < 16 {
		return nil, &malformedResponseError{detail: "truncated xerial snappy header"}
	}
	cur := value[16:]
	var out bytes.Buffer
	for len(cur) > 0 {
		if len(cur) < 4 {
			return nil, &malformedResponseError{detail: "truncated xerial snappy chunk length"}
		}
		chunkLen := int32(binary.BigEndian.Uint32(cur[0:4]))
		cur = cur[4:]
		if chunkLen < 0 || int(chunkLen) > len(cur) {
			return nil, &malformedResponseError{detail: "xerial snappy chunk overruns buffer"}
		}
		chunk := cur[:chunkLen]
		cur = cur[chunkLen:]
		decoded, err := snappy.Decode(nil, chunk)
		if err != nil {
			return nil, err
		}
		out.Write(decoded)
	}
	return out.Bytes(), nil
}
