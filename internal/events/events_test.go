package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thebtf/devark/pkg/models"
)

func TestTopicEmitInRegistrationOrder(t *testing.T) {
	topic := NewTopic[int]("numbers")

	var order []string
	topic.Subscribe(func(v int) { order = append(order, "a") })
	topic.Subscribe(func(v int) { order = append(order, "b") })

	topic.Emit(1)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestTopicPanickingListenerIsIsolated(t *testing.T) {
	topic := NewTopic[string]("words")

	var got []string
	topic.Subscribe(func(v string) { panic("boom") })
	topic.Subscribe(func(v string) { got = append(got, v) })

	assert.NotPanics(t, func() { topic.Emit("hello") })
	assert.Equal(t, []string{"hello"}, got)
}

func TestTopicUnsubscribe(t *testing.T) {
	topic := NewTopic[int]("numbers")

	calls := 0
	cancel := topic.Subscribe(func(int) { calls++ })
	topic.Emit(1)
	cancel()
	topic.Emit(2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, topic.Len())
}

func TestTopicListenerMaySubscribeDuringEmit(t *testing.T) {
	topic := NewTopic[int]("numbers")
	calls := 0
	topic.Subscribe(func(int) {
		topic.Subscribe(func(int) { calls++ })
	})

	topic.Emit(1)
	assert.Equal(t, 0, calls, "listeners added mid-emit fire on the next emit")
	topic.Emit(2)
	assert.Equal(t, 1, calls)
}

func TestHubTap(t *testing.T) {
	hub := NewHub()

	var names []string
	untap := hub.Tap(func(name string, payload any) { names = append(names, name) })

	hub.PromptAnalyzing.Emit(PromptAnalyzing{PromptID: "p1"})
	hub.CoachingUpdated.Emit(CoachingUpdated{Coaching: &models.CoachingData{}})
	hub.GoalInferred.Emit(GoalInferred{PromptID: "p1"})
	assert.Equal(t, []string{NamePromptAnalyzing, NameCoachingUpdated, NameGoalInference}, names)

	untap()
	hub.PromptAnalyzing.Emit(PromptAnalyzing{PromptID: "p2"})
	assert.Len(t, names, 3)
}
