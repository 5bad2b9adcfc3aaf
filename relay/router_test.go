package relay_test

import (
	"context"
	"crypto/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
	"github.com/latchnet/latch/relay"
	"github.com/latchnet/latch/wire"
)

func randID() identity.ID {
	var id identity.ID
	_, _ = rand.Read(id[:])
	return id
}

var _ = Describe("Router", func() {
	var router *relay.Router

	BeforeEach(func() {
		router = relay.NewRouter()
	})

	It("rejects routing to a device that never registered", func() {
		preimage, err := capability.Generate()
		Expect(err).NotTo(HaveOccurred())

		outcome := router.RouteMessage(context.Background(), randID(), preimage, []byte("hi"))
		Expect(outcome.Status).To(Equal(wire.SendErrNotConnected))
	})

	It("rejects a preimage whose commit was never registered", func() {
		to := randID()
		sender := make(chan relay.PendingDelivery, 1)
		router.Register(to, nil, nil, sender)

		preimage, err := capability.Generate()
		Expect(err).NotTo(HaveOccurred())

		outcome := router.RouteMessage(context.Background(), to, preimage, []byte("hi"))
		Expect(outcome.Status).To(Equal(wire.SendErrInvalidPreimage))
	})

	It("routes a message through to the recipient and back via HandleAck", func() {
		to := randID()
		preimage, err := capability.Generate()
		Expect(err).NotTo(HaveOccurred())
		commit := capability.CommitFor(preimage)

		sender := make(chan relay.PendingDelivery, 1)
		router.Register(to, []capability.Commit{commit}, nil, sender)

		resultCh := make(chan relay.SendOutcome, 1)
		go func() {
			resultCh <- router.RouteMessage(context.Background(), to, preimage, []byte("ping"))
		}()

		var delivery relay.PendingDelivery
		Eventually(sender).Should(Receive(&delivery))
		Expect(delivery.Payload).To(Equal([]byte("ping")))

		router.HandleAck(delivery.MsgID, []byte("pong"))

		var outcome relay.SendOutcome
		Eventually(resultCh).Should(Receive(&outcome))
		Expect(outcome.Status).To(Equal(wire.SendOK))
		Expect(outcome.Payload).To(Equal([]byte("pong")))
	})

	It("consumes the commit so the same preimage cannot be replayed as a fresh route", func() {
		to := randID()
		preimage, err := capability.Generate()
		Expect(err).NotTo(HaveOccurred())
		commit := capability.CommitFor(preimage)

		sender := make(chan relay.PendingDelivery, 1)
		router.Register(to, []capability.Commit{commit}, nil, sender)

		go func() {
			router.RouteMessage(context.Background(), to, preimage, []byte("first"))
		}()

		var delivery relay.PendingDelivery
		Eventually(sender).Should(Receive(&delivery))
		router.HandleAck(delivery.MsgID, []byte("ack"))

		// Give HandleAck's cache write a moment to land, then replay: this
		// time it resolves from cache, not from the (now consumed) commit.
		Eventually(func() uint8 {
			outcome := router.RouteMessage(context.Background(), to, preimage, []byte("first"))
			return outcome.Status
		}).Should(Equal(wire.SendOK))
	})

	It("preloads recent responses into the cache on Register for idempotent retry", func() {
		to := randID()
		preimage, err := capability.Generate()
		Expect(err).NotTo(HaveOccurred())

		router.Register(to, nil, []relay.RecentResponse{
			{Preimage: preimage, Response: []byte("cached")},
		}, make(chan relay.PendingDelivery, 1))

		outcome := router.RouteMessage(context.Background(), to, preimage, []byte("retry"))
		Expect(outcome.Status).To(Equal(wire.SendOK))
		Expect(outcome.Payload).To(Equal([]byte("cached")))
	})

	It("cancels pending routes when the recipient session closes", func() {
		to := randID()
		preimage, err := capability.Generate()
		Expect(err).NotTo(HaveOccurred())
		commit := capability.CommitFor(preimage)

		sender := make(chan relay.PendingDelivery, 1)
		router.Register(to, []capability.Commit{commit}, nil, sender)

		resultCh := make(chan relay.SendOutcome, 1)
		go func() {
			resultCh <- router.RouteMessage(context.Background(), to, preimage, []byte("ping"))
		}()

		var delivery relay.PendingDelivery
		Eventually(sender).Should(Receive(&delivery))

		router.CancelPending(delivery.MsgID)

		var outcome relay.SendOutcome
		Eventually(resultCh).Should(Receive(&outcome))
		Expect(outcome.Status).To(Equal(wire.SendErrDisconnected))
	})

	It("times out a route when the recipient never ACKs", func() {
		to := randID()
		preimage, err := capability.Generate()
		Expect(err).NotTo(HaveOccurred())
		commit := capability.CommitFor(preimage)

		shortRouter := relay.NewRouterForTest(time.Minute, 50*time.Millisecond)
		sender := make(chan relay.PendingDelivery, 1)
		shortRouter.Register(to, []capability.Commit{commit}, nil, sender)

		outcome := shortRouter.RouteMessage(context.Background(), to, preimage, []byte("ping"))
		Expect(outcome.Status).To(Equal(wire.SendErrTimeout))
	})

	It("evicts expired cache entries on CleanupCache", func() {
		to := randID()
		preimage, err := capability.Generate()
		Expect(err).NotTo(HaveOccurred())

		shortRouter := relay.NewRouterForTest(10*time.Millisecond, time.Second)
		shortRouter.Register(to, nil, []relay.RecentResponse{
			{Preimage: preimage, Response: []byte("cached")},
		}, make(chan relay.PendingDelivery, 1))

		time.Sleep(20 * time.Millisecond)
		shortRouter.CleanupCache()

		outcome := shortRouter.RouteMessage(context.Background(), to, preimage, []byte("retry"))
		Expect(outcome.Status).To(Equal(wire.SendErrInvalidPreimage))
	})
})
