package server_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/eventstream/citest/testutil"
)

var _ = Describe("Event Endpoints", func() {
	Describe("GET /health", func() {
		It("should report ok", func() {
			health, err := client.Health(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Status).To(Equal("ok"))
		})
	})

	Describe("POST /event", func() {
		It("should accept an envelope", func() {
			resp, err := client.Post(ctx, "/event", map[string]any{"type": "foo", "properties": map[string]int{"x": 1}})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		})

		It("should reject an event without a type", func() {
			resp, err := client.Post(ctx, "/event", map[string]any{"properties": map[string]int{}})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body map[string]map[string]string
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body["error"]["code"]).To(Equal("INVALID_REQUEST"))
		})
	})

	Describe("GET /event/recent", func() {
		It("should return the latest events oldest first", func() {
			first := testutil.UniqueKind("recent")
			second := testutil.UniqueKind("recent")
			Expect(client.Publish(ctx, first, nil)).To(Succeed())
			Expect(client.Publish(ctx, second, nil)).To(Succeed())

			events, err := client.Recent(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].Type).To(Equal(first))
			Expect(events[1].Type).To(Equal(second))
		})

		It("should reject a bad limit", func() {
			resp, err := client.Get(ctx, "/event/recent", testutil.WithQuery(map[string]string{"limit": "lots"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequestWithContext(ctx, http.MethodOptions, testServer.BaseURL+"/event", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Origin", "http://localhost:3000")
			req.Header.Set("Access-Control-Request-Method", "POST")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).NotTo(BeEmpty())
		})
	})

	Describe("directory parameter", func() {
		It("should be accepted on the stream", func() {
			sseClient := testServer.SSEClient()
			Expect(sseClient.Connect(ctx, "/event?directory="+testutil.EscapeQuery("/tmp/project"))).To(Succeed())
			defer sseClient.Close()

			_, err := sseClient.WaitForEvent("server.connected", 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
