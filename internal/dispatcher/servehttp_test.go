package dispatcher_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/collabdocs/balancer/internal/dispatcher"
	"github.com/collabdocs/balancer/internal/metrics"
	"github.com/collabdocs/balancer/internal/state"
	"github.com/collabdocs/balancer/internal/upstream"
)

var _ = Describe("ServeHTTP", func() {
	var (
		backends []*httptest.Server
		servers  []upstream.Server
		st       *state.State
		log      *slog.Logger
	)

	startBackend := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Write([]byte(name))
		}))
	}

	BeforeEach(func() {
		st = state.New(2, 0, false)
		log = slog.New(slog.NewTextHandler(GinkgoWriter, nil))

		backends = nil
		servers = nil
		for _, name := range []string{"alpha", "beta"} {
			backend := startBackend(name)
			backends = append(backends, backend)

			u, err := upstream.New(backend.URL, upstream.Options{HealthTTL: 50 * time.Millisecond})
			Expect(err).NotTo(HaveOccurred())
			servers = append(servers, upstream.Chain(u, st, log))
		}
	})

	AfterEach(func() {
		for _, backend := range backends {
			backend.Close()
		}
	})

	It("should alternate plain HTTP requests across upstreams", func() {
		d, err := dispatcher.New(servers, st, log, dispatcher.Options{})
		Expect(err).NotTo(HaveOccurred())

		var bodies []string
		for i := 0; i < 4; i++ {
			rec := httptest.NewRecorder()
			d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/edit", nil))

			body, _ := io.ReadAll(rec.Result().Body)
			bodies = append(bodies, string(body))
		}

		Expect(bodies).To(Equal([]string{"alpha", "beta", "alpha", "beta"}))
	})

	It("should pin requests carrying a document_id to one upstream", func() {
		d, err := dispatcher.New(servers, st, log, dispatcher.Options{})
		Expect(err).NotTo(HaveOccurred())

		var bodies []string
		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/edit?document_id=doc-42", nil))

			body, _ := io.ReadAll(rec.Result().Body)
			bodies = append(bodies, string(body))
		}

		for _, body := range bodies {
			Expect(body).To(Equal(bodies[0]))
		}
	})

	It("should advertise the serving upstream and mint a connection token once", func() {
		d, err := dispatcher.New(servers, st, log, dispatcher.Options{})
		Expect(err).NotTo(HaveOccurred())

		first := httptest.NewRecorder()
		d.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/edit?document_id=doc-42", nil))

		token := first.Header().Get("X-Connection-Token")
		Expect(token).NotTo(BeEmpty())
		Expect(first.Header().Get("X-Backend-Server")).NotTo(BeEmpty())

		srv, ok := d.UpstreamForToken(token)
		Expect(ok).To(BeTrue())
		Expect(srv.Address()).To(Equal(first.Header().Get("X-Backend-Server")))

		// An existing association does not mint a fresh token.
		second := httptest.NewRecorder()
		d.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/edit?document_id=doc-42", nil))
		Expect(second.Header().Get("X-Connection-Token")).To(BeEmpty())
	})

	It("should sample the outbound response bytes", func() {
		d, err := dispatcher.New(servers, st, log, dispatcher.Options{SampleSize: 16})
		Expect(err).NotTo(HaveOccurred())

		d.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/edit", nil))

		sample := d.Sample()
		Expect(string(sample[:5])).To(Equal("alpha"))
		Expect(sample).To(HaveLen(16))
	})

	It("should count forwarded requests in the shared state", func() {
		d, err := dispatcher.New(servers, st, log, dispatcher.Options{})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 3; i++ {
			d.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}

		Expect(st.Requests()).To(Equal(uint64(3)))
	})

	It("should feed the metrics collector without blocking the request path", func(ctx SpecContext) {
		collector := metrics.NewCollector(64, log)
		collector.Start(ctx)

		d, err := dispatcher.New(servers, st, log, dispatcher.Options{Collector: collector})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 4; i++ {
			d.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/edit", nil))
		}

		Eventually(func() int64 {
			return collector.Snapshot().TotalRequests
		}).Should(Equal(int64(4)))
	})
})
