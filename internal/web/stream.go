package web

import (
	"net/http"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
)

const protobufContentType = "application/x-protobuf"

type jpegProvider func() []byte

// streamMJPEG writes provider frames as multipart/x-mixed-replace until the
// client goes away.
func streamMJPEG(w http.ResponseWriter, r *http.Request, interval time.Duration, provider jpegProvider) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := writeMJPEGPart(w, provider()); err != nil {
			logger.Debug("MJPEG", "Client disconnected: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// wantsProtobuf checks the Accept header for a protobuf media type.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, protobufContentType)
}

// writeProtobuf encodes payload as a google.protobuf.Struct.
func writeProtobuf(w http.ResponseWriter, payload map[string]any) {
	msg, err := structpb.NewStruct(payload)
	if err != nil {
		writeJSONWithStatus(w, failure(err.Error()), http.StatusInternalServerError)
		return
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		writeJSONWithStatus(w, failure(err.Error()), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	_, _ = w.Write(data)
}
