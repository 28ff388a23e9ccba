package server

import (
	"bytes"
	"fmt"
	"html/template"
	"image/jpeg"
	"net/http"
	"time"

	_ "embed"

	"github.com/andresmejia3/fingercap/internal/types"
)

const previewBoundary = "fingercapframe"

// Preview handles GET /preview.mjpg: a multipart stream of the annotated
// display frames, sent only when a new frame has arrived.
func (s *Server) Preview(w http.ResponseWriter, r *http.Request) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+previewBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.previewInterval)
	defer ticker.Stop()

	var (
		last uint64
		buf  bytes.Buffer
	)
	for {
		if st := s.deps.Display.Stats(); st.HasFrame && st.Puts != last {
			if f, ok := s.deps.Display.Latest(); ok {
				last = st.Puts
				buf.Reset()
				if err := jpeg.Encode(&buf, f.ToNRGBA(), &jpeg.Options{Quality: 80}); err != nil {
					s.deps.Log.WithError(err).Debug("preview frame encoding failed")
				} else {
					fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", previewBoundary, buf.Len())
					if _, err := w.Write(buf.Bytes()); err != nil {
						return
					}
					w.Write([]byte("\r\n"))
					if flusher != nil {
						flusher.Flush()
					}
				}
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

//go:embed index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

type indexData struct {
	Genders []types.Gender
	Total   int
}

// Index handles GET /, the operator page.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, indexData{Genders: types.Genders, Total: types.SlotCount}); err != nil {
		s.deps.Log.WithError(err).Error("failed to render index")
	}
}
