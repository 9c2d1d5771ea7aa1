package stream

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/steadyscript/steadyscript/internal/logger"
)

func blankJPEG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := range 480 {
		for x := range 640 {
			img.Set(x, y, color.RGBA{R: 30, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// serveMJPEG streams /video_feed from frameCh: multipart/x-mixed-replace
// with a 5s blank keepalive, per the teacher's streamMJPEGFromChannel.
func serveMJPEG(w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "failed to render frame", http.StatusInternalServerError)
		return
	}

	for {
		var jpegData []byte
		select {
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			if data != nil {
				jpegData = data
			} else {
				jpegData = blank
			}
		case <-time.After(5 * time.Second):
			jpegData = blank
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("stream", "video_feed client disconnected: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("stream", "video_feed client disconnected mid-frame: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}
