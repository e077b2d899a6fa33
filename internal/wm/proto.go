package wm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// i3-ipc wire framing: 6 magic bytes, uint32 payload length, uint32 message
// type, then the JSON payload. Replies to events set the high bit of type.
var ipcMagic = []byte("i3-ipc")

const headerLen = 14

// Message types understood by i3 and sway.
const (
	msgRunCommand    uint32 = 0
	msgGetWorkspaces uint32 = 1
	msgSubscribe     uint32 = 2
	msgGetOutputs    uint32 = 3
	msgGetTree       uint32 = 4
)

const eventFlag uint32 = 1 << 31

// Event type codes carried in the framed type field.
const (
	EventWorkspace uint32 = eventFlag | 0
	EventOutput    uint32 = eventFlag | 1
	EventWindow    uint32 = eventFlag | 3
	EventShutdown  uint32 = eventFlag | 6
)

// RawEvent is one framed event read from the subscription socket.
type RawEvent struct {
	Type    uint32
	Payload []byte
}

func writeMessage(w io.Writer, msgType uint32, payload []byte) error {
	buf := make([]byte, headerLen+len(payload))
	copy(buf[0:6], ipcMagic)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[10:14], msgType)
	copy(buf[headerLen:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func readMessage(r io.Reader) (uint32, []byte, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header[0:6], ipcMagic) {
		return 0, nil, fmt.Errorf("bad magic %q", header[0:6])
	}
	length := binary.LittleEndian.Uint32(header[6:10])
	msgType := binary.LittleEndian.Uint32(header[10:14])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read payload: %w", err)
	}
	return msgType, payload, nil
}
