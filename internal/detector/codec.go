package detector

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize bounds a single message on the worker pipe.
const maxFrameSize = 32 << 20

// predictRequest is sent to the worker: a JPEG-encoded frame plus thresholds.
type predictRequest struct {
	Seq        uint64  `msgpack:"seq"`
	Image      []byte  `msgpack:"image"`
	Width      int     `msgpack:"width"`
	Height     int     `msgpack:"height"`
	Confidence float64 `msgpack:"conf"`
	ImageSize  int     `msgpack:"imgsz"`
}

// predictResponse is the worker's answer to one request.
type predictResponse struct {
	Seq         uint64          `msgpack:"seq"`
	Detections  []wireDetection `msgpack:"detections"`
	Error       string          `msgpack:"error,omitempty"`
	InferenceMs float64         `msgpack:"inference_ms"`
}

type wireDetection struct {
	Label      string     `msgpack:"label"`
	Confidence float64    `msgpack:"confidence"`
	Box        [4]float64 `msgpack:"box"` // x1, y1, x2, y2
}

func (w wireDetection) raw() RawDetection {
	return RawDetection{
		Label:      w.Label,
		Confidence: w.Confidence,
		X1:         w.Box[0],
		Y1:         w.Box[1],
		X2:         w.Box[2],
		Y2:         w.Box[3],
	}
}

// writeFrame writes v as a 4-byte big-endian length followed by msgpack bytes.
func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("encode frame: %d bytes exceeds limit", len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err = w.Write(buf)
	return err
}

// readFrame reads one length-prefixed msgpack message into v.
func readFrame(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes", ErrMalformedOutput, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	return nil
}
