package server_test

import (
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/eventstream/citest/testutil"
)

var _ = Describe("SSE Event Streaming", func() {
	var sseClient *testutil.SSEClient

	BeforeEach(func() {
		sseClient = testServer.SSEClient()
		Expect(sseClient.Connect(ctx, "/event")).To(Succeed())
	})

	AfterEach(func() {
		sseClient.Close()
	})

	Describe("GET /event", func() {
		It("should return SSE headers", func() {
			req, err := http.NewRequestWithContext(ctx, "GET", testServer.BaseURL+"/event", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Accept", "text/event-stream")

			httpClient := &http.Client{Timeout: 5 * time.Second}
			resp, err := httpClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
		})

		It("should send server.connected first", func() {
			evt, err := sseClient.WaitForAnyEvent(2 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(evt.Type).To(Equal("server.connected"))
			Expect(evt.Name).To(Equal("message"))
			Expect(string(evt.Properties)).To(Equal("{}"))
		})

		It("should send heartbeats", func() {
			_, err := sseClient.WaitForEvent("server.heartbeat", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
			_, err = sseClient.WaitForEvent("server.heartbeat", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should deliver published events as envelopes", func() {
			_, err := sseClient.WaitForEvent("server.connected", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())

			kind := testutil.UniqueKind("session.updated")
			Expect(client.Publish(ctx, kind, map[string]any{"id": "s1"})).To(Succeed())

			evt, err := sseClient.WaitForEvent(kind, 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(evt.Properties)).To(MatchJSON(`{"id":"s1"}`))
		})

		It("should preserve publish order", func() {
			_, err := sseClient.WaitForEvent("server.connected", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())

			kind := testutil.UniqueKind("order")
			for i := 0; i < 10; i++ {
				Expect(client.Publish(ctx, kind, map[string]int{"seq": i})).To(Succeed())
			}

			for i := 0; i < 10; i++ {
				evt, err := sseClient.WaitForEvent(kind, 2*time.Second)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(evt.Properties)).To(MatchJSON(fmt.Sprintf(`{"seq":%d}`, i)))
			}
		})

		It("should end streams on disconnect", func() {
			_, err := sseClient.WaitForEvent("server.connected", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())

			n, err := client.Disconnect(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNumerically(">=", 1))

			Expect(sseClient.WaitForClose(2 * time.Second)).To(Succeed())
		})
	})
})
