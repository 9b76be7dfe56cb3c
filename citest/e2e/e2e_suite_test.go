package e2e_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/eventstream/citest/testutil"
)

const (
	heartbeatInterval = 50 * time.Millisecond
	heartbeatTimeout  = 300 * time.Millisecond
	reconnectDelay    = 50 * time.Millisecond
)

var (
	testServer *testutil.TestServer
	client     *testutil.TestClient
	ctx        context.Context
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "E2E Suite")
}

var _ = BeforeSuite(func() {
	var err error
	testServer, err = testutil.StartTestServer(testutil.WithHeartbeatInterval(heartbeatInterval))
	Expect(err).NotTo(HaveOccurred(), "Failed to start test server")

	client = testServer.Client()
	ctx = context.Background()

	SetDefaultEventuallyTimeout(5 * time.Second)
	SetDefaultEventuallyPollingInterval(10 * time.Millisecond)
})

var _ = AfterSuite(func() {
	if testServer != nil {
		testServer.Stop()
	}
})
