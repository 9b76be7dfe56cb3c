package e2e_test

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/eventstream/citest/testutil"
	"github.com/opencode-ai/eventstream/internal/listing"
	"github.com/opencode-ai/eventstream/internal/transport"
	"github.com/opencode-ai/eventstream/pkg/eventstream"
)

func newClient(baseURL, transportName string, opts ...eventstream.Option) *eventstream.Client {
	opts = append([]eventstream.Option{
		eventstream.WithHeartbeat(heartbeatInterval, heartbeatTimeout),
		eventstream.WithReconnectPolicy(backoff.NewConstantBackOff(reconnectDelay)),
	}, opts...)

	c, err := eventstream.New(eventstream.Config{URL: baseURL, Transport: transportName}, opts...)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(c.Stop)
	return c
}

func connected(c *eventstream.Client) func() eventstream.State {
	return c.ConnectionState
}

var _ = Describe("Event Stream Client", func() {
	for _, name := range []string{eventstream.TransportSSE, eventstream.TransportWebSocket} {
		transportName := name

		Context("over "+transportName, func() {
			var (
				c        *eventstream.Client
				recorder *testutil.Recorder
				kind     string
			)

			BeforeEach(func() {
				kind = testutil.UniqueKind("e2e")
				recorder = testutil.NewRecorder()
				c = newClient(testServer.BaseURL, transportName)
				c.WatchConnectionState(recorder.Watcher())
				c.AddEventListener(kind, recorder.Listener())
			})

			It("should deliver events after connecting", func() {
				Expect(c.Start(ctx)).To(Succeed())
				Eventually(connected(c)).Should(Equal(eventstream.Connected))

				Expect(client.Publish(ctx, kind, map[string]int{"x": 1})).To(Succeed())

				Eventually(recorder.EventCount).Should(Equal(1))
				ev := recorder.Events()[0]
				Expect(ev.Kind).To(Equal(kind))
				Expect(string(ev.Data)).To(MatchJSON(`{"x":1}`))
			})

			It("should decode typed payloads", func() {
				type update struct {
					ID string `json:"id"`
				}
				ids := make(chan string, 1)
				eventstream.On(c, kind, func(u update) { ids <- u.ID })

				Expect(c.Start(ctx)).To(Succeed())
				Eventually(connected(c)).Should(Equal(eventstream.Connected))
				Expect(client.Publish(ctx, kind, map[string]string{"id": "s1"})).To(Succeed())

				Eventually(ids).Should(Receive(Equal("s1")))
			})

			It("should reconnect transparently when the server drops the stream", func() {
				Expect(c.Start(ctx)).To(Succeed())
				Eventually(connected(c)).Should(Equal(eventstream.Connected))

				_, err := client.Disconnect(ctx)
				Expect(err).NotTo(HaveOccurred())

				Eventually(recorder.States).Should(Equal([]eventstream.State{
					eventstream.Connected, eventstream.Disconnected, eventstream.Connected,
				}))

				Expect(client.Publish(ctx, kind, map[string]int{"x": 2})).To(Succeed())
				Eventually(recorder.EventCount).Should(Equal(1))
				Consistently(recorder.EventCount, 200*time.Millisecond).Should(Equal(1))
			})

			It("should stay connected while heartbeats arrive", func() {
				Expect(c.Start(ctx)).To(Succeed())
				Eventually(connected(c)).Should(Equal(eventstream.Connected))

				Consistently(recorder.States, 3*heartbeatTimeout).Should(Equal([]eventstream.State{eventstream.Connected}))
			})

			It("should stop delivering after Stop", func() {
				Expect(c.Start(ctx)).To(Succeed())
				Eventually(connected(c)).Should(Equal(eventstream.Connected))

				c.Stop()
				Expect(c.ConnectionState()).To(Equal(eventstream.Disconnected))

				Expect(client.Publish(ctx, kind, nil)).To(Succeed())
				Consistently(recorder.EventCount, 200*time.Millisecond).Should(BeZero())
			})
		})
	}

	Describe("Heartbeat silence", func() {
		var silent *testutil.TestServer

		BeforeEach(func() {
			var err error
			silent, err = testutil.StartTestServer(testutil.WithHeartbeatInterval(0))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(silent.Stop)
		})

		It("should force a reconnect when the server stops sending heartbeats", func() {
			recorder := testutil.NewRecorder()
			c := newClient(silent.BaseURL, eventstream.TransportSSE)
			c.WatchConnectionState(recorder.Watcher())

			Expect(c.Start(ctx)).To(Succeed())
			Eventually(connected(c)).Should(Equal(eventstream.Connected))

			Eventually(func() int { return len(recorder.States()) }).Should(BeNumerically(">=", 3))
			Expect(recorder.States()[:3]).To(Equal([]eventstream.State{
				eventstream.Connected, eventstream.Disconnected, eventstream.Connected,
			}))
		})
	})

	Describe("Resynchronization", func() {
		It("should refetch the recent listing after a reconnect", func() {
			recent := listing.New[[]transport.Envelope](time.Hour, listing.HTTPFetcher[[]transport.Envelope]{
				BaseURL: testServer.BaseURL,
			})
			DeferCleanup(recent.Close)

			c := newClient(testServer.BaseURL, eventstream.TransportSSE, eventstream.WithResync(recent.Invalidate))
			Expect(c.Start(ctx)).To(Succeed())
			Eventually(connected(c)).Should(Equal(eventstream.Connected))

			before, err := recent.Get(ctx, "/event/recent?limit=1")
			Expect(err).NotTo(HaveOccurred())

			// Published around the reconnect, so the stream may never deliver it.
			missed := testutil.UniqueKind("missed")
			_, err = client.Disconnect(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(client.Publish(ctx, missed, nil)).To(Succeed())

			Eventually(func() string {
				events, err := recent.Get(ctx, "/event/recent?limit=1")
				if err != nil || len(events) == 0 {
					return ""
				}
				return events[0].Type
			}).Should(Equal(missed))
			Expect(before).NotTo(ContainElement(HaveField("Type", missed)))
		})
	})
})
