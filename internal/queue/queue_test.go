package queue

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestNewMessageFillsIDAndTime(t *testing.T) {
	msg, err := NewMessage(Event{Type: TypeCancelled, AppointmentID: 42, UserID: "7", Role: "student"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeCancelled {
		t.Fatalf("type = %q", msg.Type)
	}
	evt, err := DecodeEvent(msg)
	if err != nil {
		t.Fatal(err)
	}
	if evt.ID == "" || evt.At.IsZero() {
		t.Fatalf("id/time not filled: %+v", evt)
	}
	if evt.AppointmentID != 42 || evt.UserID != "7" {
		t.Fatalf("unexpected event %+v", evt)
	}

	if _, err := NewMessage(Event{}); err == nil {
		t.Fatal("expected error for untyped event")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg, _ := NewMessage(Event{Type: TypeBooked, UserID: "7"})
	raw, err := serialize(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := deserialize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeBooked || string(got.Body) != string(msg.Body) {
		t.Fatalf("got %+v", got)
	}

	for _, bad := range []string{"checkin|123", `{"body":{}}`} {
		if _, err := deserialize(bad); err == nil {
			t.Errorf("deserialize(%q) should fail", bad)
		}
	}
}

func TestInMemoryDeliversInOrder(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, typ := range []string{TypeBooked, TypeCheckedIn, TypeReviewed} {
		msg, _ := NewMessage(Event{Type: typ})
		if err := q.Publish(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	out, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{TypeBooked, TypeCheckedIn, TypeReviewed} {
		select {
		case msg := <-out:
			if msg.Type != want {
				t.Fatalf("got %s, want %s", msg.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	for range out {
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	msg, _ := NewMessage(Event{Type: TypeBooked})
	if err := q.Publish(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, msg); err == nil {
		t.Fatal("publish to a full queue should fail once the context expires")
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := NewRedisQueue(client, "test:events", log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A malformed entry is dropped without stopping the consumer.
	mr.Lpush("test:events", `{"body":{}}`)
	for _, typ := range []string{TypeBooked, TypeCancelled} {
		msg, err := NewMessage(Event{Type: typ, AppointmentID: 5, UserID: "7"})
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Publish(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	out, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{TypeBooked, TypeCancelled} {
		select {
		case msg := <-out:
			if msg.Type != want {
				t.Fatalf("type = %q, want %q", msg.Type, want)
			}
			evt, err := DecodeEvent(msg)
			if err != nil || evt.AppointmentID != 5 {
				t.Fatalf("event = %+v, %v", evt, err)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
