package contract

import (
	"bufio"
	"bytes"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"
	"time"
)

func TestContractMJPEGStream(t *testing.T) {
	client := newRouteClient(t)
	resp, cancel := client.getStream(t, "/video_feed")
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /video_feed status = %d", resp.StatusCode)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] != "frame" {
		t.Fatalf("GET /video_feed content-type = %q", resp.Header.Get("Content-Type"))
	}

	mr := multipart.NewReader(bufio.NewReader(resp.Body), params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("read first part: %v", err)
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("part content-type = %q", ct)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(part); err != nil {
		t.Fatalf("read part: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xff, 0xd8}) {
		t.Fatalf("part is not a JPEG")
	}
}

func TestContractPromptNone(t *testing.T) {
	client := newRouteClient(t)
	if !client.inProcess {
		t.Skip("event queue of a live server is shared with its clients")
	}
	_, body := client.get(t, "/prompt")
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["action"], "action") != "none" {
		t.Fatalf("empty queue popped %v", payload)
	}
}

func TestContractDetectionFlowsToPrompt(t *testing.T) {
	client := newRouteClient(t)
	if !client.inProcess {
		t.Skip("needs the scripted in-process detector")
	}

	if ok, reply := client.postSuccess(t, "/camera/start", nil); !ok {
		t.Fatalf("camera start failed: %v", reply)
	}
	defer client.postSuccess(t, "/camera/stop", nil)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, body := client.get(t, "/prompt")
		payload := decodeJSONMap(t, body)
		action := requireString(t, payload["action"], "action")
		if action == "none" {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		if action != "add" {
			t.Fatalf("first event action = %q, want add", action)
		}
		item := requireMap(t, payload["item"], "item")
		assertLinePayload(t, item, "item")
		if name := requireString(t, item["name"], "item.name"); name != "Maggi Noodles" {
			t.Fatalf("item.name = %q", name)
		}

		_, body = client.get(t, "/api/status")
		status := decodeJSONMap(t, body)
		assertStatusPayload(t, status)
		if active, _ := requireMap(t, status["pipeline"], "pipeline")["camera_active"].(bool); !active {
			t.Fatalf("camera not active while delivering")
		}
		return
	}
	t.Fatalf("no add event within deadline")
}
