package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎语音 websocket 二进制帧：4 字节 header，随后按 flags 依次出现
// sequence、event 元数据、payload size 与 payload，均为大端序。

const protocolVersion uint8 = 0b0001

// MessageType 帧类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 描述 header 之后的可选字段
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100
)

const sequenceMask MessageFlags = 0b0011

// EventType 服务端事件
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// Serialization payload 序列化方式
type Serialization uint8

const (
	RawSerialization  Serialization = 0b0000
	JSONSerialization Serialization = 0b0001
)

// Compression payload 压缩方式
type Compression uint8

const (
	NoCompression   Compression = 0b0000
	GzipCompression Compression = 0b0001
)

// Header 4 字节帧头
type Header struct {
	Version       uint8
	Size          uint8 // 以 4 字节为单位
	Type          MessageType
	Flags         MessageFlags
	Serialization Serialization
	Compression   Compression
}

// Frame 一个完整的二进制帧
type Frame struct {
	Header    Header
	Sequence  int32
	Event     EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func newHeader(t MessageType, flags MessageFlags, s Serialization, c Compression) Header {
	return Header{Version: protocolVersion, Size: 1, Type: t, Flags: flags, Serialization: s, Compression: c}
}

func (h Header) bytes() []byte {
	return []byte{
		h.Version<<4 | h.Size,
		uint8(h.Type)<<4 | uint8(h.Flags),
		uint8(h.Serialization)<<4 | uint8(h.Compression),
		0,
	}
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < 4 {
		return Header{}, fmt.Errorf("header too short: %d bytes", len(b))
	}
	h := Header{
		Version:       b[0] >> 4,
		Size:          b[0] & 0x0F,
		Type:          MessageType(b[1] >> 4),
		Flags:         MessageFlags(b[1] & 0x0F),
		Serialization: Serialization(b[2] >> 4),
		Compression:   Compression(b[2] & 0x0F),
	}
	if h.Version != protocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	return h, nil
}

func (f *Frame) hasSequence() bool {
	switch f.Header.Flags & sequenceMask {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		return true
	}
	return false
}

func (f *Frame) hasEvent() bool {
	return f.Header.Flags&WithEvent == WithEvent
}

// IsLast 表示服务端或客户端的最后一包
func (f *Frame) IsLast() bool {
	switch f.Header.Flags & sequenceMask {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	}
	return false
}

// Encode 序列化帧
func (f *Frame) Encode() []byte {
	out := f.Header.bytes()
	if f.hasSequence() {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Sequence))
	}
	if f.hasEvent() {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Event))
		if carriesSessionID(f.Event) {
			out = appendSized(out, []byte(f.SessionID))
		}
		if carriesConnectID(f.Event) {
			out = appendSized(out, []byte(f.ConnectID))
		}
	}
	if f.Header.Type == ErrorMessage {
		out = binary.BigEndian.AppendUint32(out, f.ErrorCode)
	}
	return appendSized(out, f.Payload)
}

func appendSized(out, data []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}

// DecodeFrame 解析一个二进制帧
func DecodeFrame(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)

	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, err := parseHeader(head)
	if err != nil {
		return nil, err
	}
	if ext := int(h.Size)*4 - 4; ext > 0 {
		if _, err := r.Seek(int64(ext), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip header extension: %w", err)
		}
	}

	f := &Frame{Header: h}
	if f.hasSequence() {
		var seq int32
		if err := binary.Read(r, binary.BigEndian, &seq); err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.Sequence = seq
	}
	if f.hasEvent() {
		var ev int32
		if err := binary.Read(r, binary.BigEndian, &ev); err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.Event = EventType(ev)
		if carriesSessionID(f.Event) {
			id, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
			f.SessionID = string(id)
		}
		if carriesConnectID(f.Event) {
			id, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
			f.ConnectID = string(id)
		}
	}
	if h.Type == ErrorMessage {
		if err := binary.Read(r, binary.BigEndian, &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	payload, err := readSized(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	f.Payload = payload
	return f, nil
}

func readSized(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", size, err)
	}
	return buf, nil
}

func carriesSessionID(ev EventType) bool {
	switch ev {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return false
	}
	return true
}

func carriesConnectID(ev EventType) bool {
	switch ev {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

// newRequestFrame 构造携带 JSON 参数的首帧
func newRequestFrame(payload []byte, c Compression) *Frame {
	return &Frame{
		Header:  newHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, c),
		Payload: payload,
	}
}

// newAudioFrame 构造音频帧，最后一包使用负序号
func newAudioFrame(audio []byte, seq int32, last bool, c Compression) *Frame {
	flags := PositiveSequenceNumber
	switch {
	case last && seq != 0:
		flags = NegativeSequenceNumber
		seq = -seq
	case last:
		flags = LastPacketNoSequence
	case seq <= 0:
		flags = NoSequenceNumber
	}
	return &Frame{
		Header:   newHeader(AudioOnlyRequest, flags, RawSerialization, c),
		Sequence: seq,
		Payload:  audio,
	}
}

var errUnsupportedCompression = errors.New("unsupported compression")

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %d", errUnsupportedCompression, c)
}

func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case GzipCompression:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("%w: %d", errUnsupportedCompression, c)
}
