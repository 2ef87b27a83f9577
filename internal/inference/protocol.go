package inference

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize bounds a single message read from the worker.
const maxFrameSize = 256 << 20

// Tasks understood by the worker.
const (
	taskSegment = "segment"
	taskLayout  = "layout"
)

type request struct {
	ID     uint64 `msgpack:"id"`
	Task   string `msgpack:"task"`
	Model  string `msgpack:"model"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Pixels []byte `msgpack:"pixels"`
}

type wireOutput struct {
	Name    string `msgpack:"name"`
	Shape   []int  `msgpack:"shape"`
	Strides []int  `msgpack:"strides"`
	Data    []byte `msgpack:"data"` // little-endian float32
}

type response struct {
	ID      uint64       `msgpack:"id"`
	Outputs []wireOutput `msgpack:"outputs"`
	Error   string       `msgpack:"error,omitempty"`
	Timing  struct {
		TotalMS float64 `msgpack:"total_ms"`
	} `msgpack:"timing"`
}

// writeFrame writes v as msgpack with a 4 byte big-endian length prefix.
func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack: %w", err)
	}
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))

	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed msgpack message into v.
func readFrame(r io.Reader, v any) error {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix)
	if n > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", n, maxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack: %w", err)
	}
	return nil
}

func (o wireOutput) decode() (Output, error) {
	if len(o.Data)%4 != 0 {
		return Output{}, fmt.Errorf("output %q: data length %d is not a multiple of 4", o.Name, len(o.Data))
	}
	data := make([]float32, len(o.Data)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(o.Data[i*4:]))
	}
	return Output{Name: o.Name, Shape: o.Shape, Strides: o.Strides, Data: data}, nil
}
