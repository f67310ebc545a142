// ABOUTME: Tests for the in-memory event broadcaster
// ABOUTME: Validates topic fan-out, slow-subscriber drops and lifecycle cleanup

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToTopicSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	ch1, _ := b.Subscribe(ctx, TopicPause)
	ch2, _ := b.Subscribe(ctx, TopicPause)
	other, _ := b.Subscribe(ctx, TopicPairing)

	b.Publish(TopicPause, &Event{Name: EventPauseUpdate, Payload: "contact-1"})

	for _, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, EventPauseUpdate, evt.Name)
			assert.False(t, evt.Timestamp.IsZero(), "timestamp filled on publish")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other:
		t.Fatal("pairing subscriber received a pause event")
	default:
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	// Publishing into the void must not panic or block
	b.Publish(TopicPairing, &Event{Name: EventPairingRequest})
}

func TestPublish_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), TopicObserve)

	// Overfill the subscriber buffer; extra events are dropped, not blocking
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(TopicObserve, &Event{Name: EventRateLimit})
	}

	assert.Len(t, ch, subscriberBufferSize)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), TopicPause)
	b.Unsubscribe(TopicPause, subID)

	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe is a no-op
	b.Unsubscribe(TopicPause, subID)
}

func TestSubscribe_ContextCancelCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, TopicPause)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "channel closes after ctx cancel")
}

func TestEmit_PublishesOnObserveTopic(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), TopicObserve)
	b.Emit(EventMessageReceived, map[string]any{"contactId": "c1"})

	select {
	case evt := <-ch:
		assert.Equal(t, EventMessageReceived, evt.Name)
	case <-time.After(time.Second):
		t.Fatal("emit did not reach observe subscriber")
	}
}
