package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/httpserver"
)

func freeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer l.Close()
	return l.Addr().String()
}

var _ = Describe("HTTP Server", func() {
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	DescribeTable("address validation",
		func(addr string, valid bool) {
			srv, err := httpserver.New(addr, noop)
			if valid {
				Expect(err).NotTo(HaveOccurred())
				Expect(srv.Addr()).To(Equal(addr))
			} else {
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			}
		},
		Entry("host and port", "localhost:9999", true),
		Entry("ip and port", "127.0.0.1:9999", true),
		Entry("port only", ":9999", true),
		Entry("too many colons", "invalid:host:port", false),
		Entry("missing port", "localhost", false),
		Entry("empty port", "localhost:", false),
	)

	Context("server lifecycle", func() {
		var testServer *httpserver.Server

		AfterEach(func() {
			if testServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
				defer cancel()
				_ = testServer.Shutdown(ctx)
			}
		})

		It("starts and handles requests", func() {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("test"))
			})
			addr := freeAddr()

			var err error
			testServer, err = httpserver.New(addr, handler, httpserver.WithWriteTimeout(time.Minute))
			Expect(err).NotTo(HaveOccurred())

			go func() {
				testServer.Start()
			}()

			var resp *http.Response
			Eventually(func() error {
				resp, err = http.Get("http://" + addr)
				return err
			}).Should(Succeed())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("shuts down gracefully", func() {
			var err error
			testServer, err = httpserver.New(freeAddr(), noop, httpserver.WithShutdownTimeout(2*time.Second))
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() {
				done <- testServer.Start()
			}()
			time.Sleep(100 * time.Millisecond)

			Expect(testServer.Shutdown(context.Background())).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
