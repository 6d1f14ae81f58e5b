package dispatcher

import (
	"bufio"
	"net"
	"net/http"
	"sync"
)

// samplingWriter copies outbound response bytes into a shared, fixed-size
// diagnostic buffer under its own lock, so sampling never serializes the
// routing-selection path. It also records the status code and passes
// Hijacker/Flusher through so WebSocket upgrades and streaming still work.
type samplingWriter struct {
	http.ResponseWriter
	mutex      *sync.Mutex
	sample     []byte
	statusCode int
}

func newSamplingWriter(w http.ResponseWriter, mu *sync.Mutex, sample []byte) *samplingWriter {
	return &samplingWriter{
		ResponseWriter: w,
		mutex:          mu,
		sample:         sample,
		statusCode:     http.StatusOK,
	}
}

func (w *samplingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *samplingWriter) Write(b []byte) (int, error) {
	w.mutex.Lock()
	copy(w.sample, b)
	w.mutex.Unlock()

	return w.ResponseWriter.Write(b)
}

func (w *samplingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hijacker.Hijack()
}

func (w *samplingWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *samplingWriter) status() int {
	return w.statusCode
}
