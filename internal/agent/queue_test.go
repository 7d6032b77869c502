package agent

import (
	"testing"

	"github.com/paseo-dev/paseod/internal/provider"
)

func TestQueuePushPopIsFIFO(t *testing.T) {
	q := NewInputQueue()
	q.Push(provider.TurnInput{Text: "first"})
	q.Push(provider.TurnInput{Text: "second"})

	first, ok := q.Pop()
	if !ok || first.Input.Text != "first" {
		t.Fatalf("expected first item first, got %+v", first)
	}
	second, ok := q.Pop()
	if !ok || second.Input.Text != "second" {
		t.Fatalf("expected second item next, got %+v", second)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestQueueReplaceDropsPriorItems(t *testing.T) {
	q := NewInputQueue()
	q.Push(provider.TurnInput{Text: "stale"})
	q.Push(provider.TurnInput{Text: "also stale"})
	q.Replace(provider.TurnInput{Text: "fresh"})

	if q.Len() != 1 {
		t.Fatalf("expected replace to leave exactly one item, got %d", q.Len())
	}
	item, _ := q.Pop()
	if item.Input.Text != "fresh" {
		t.Fatalf("expected replace's item, got %q", item.Input.Text)
	}
}

func TestQueueClearDropsEverything(t *testing.T) {
	q := NewInputQueue()
	q.Push(provider.TurnInput{Text: "a"})
	q.Push(provider.TurnInput{Text: "b"})
	q.Clear()

	if q.Len() != 0 {
		t.Fatalf("expected empty queue after Clear, got %d", q.Len())
	}
}
