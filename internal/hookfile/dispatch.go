package hookfile

import (
	"github.com/thebtf/devark/internal/events"
	"github.com/thebtf/devark/internal/linker"
	"github.com/thebtf/devark/pkg/models"
)

// Dispatcher links records through the conversation linker and emits them on the hub.
type Dispatcher struct {
	hub    *events.Hub
	linker *linker.Linker
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(hub *events.Hub, l *linker.Linker) *Dispatcher {
	return &Dispatcher{hub: hub, linker: l}
}

// HandlePrompt records the prompt for linking, then emits promptDetected.
func (d *Dispatcher) HandlePrompt(ev events.PromptDetected) {
	key := linker.KeyFor(ev.Source, ev.ConversationID, ev.SourceSessionID)
	d.linker.OnPrompt(key, ev.Prompt)
	d.hub.PromptDetected.Emit(ev)
}

// HandleResponse links the response and emits either responseDetected or,
// for a final response, finalResponseDetected with the closed aggregate.
func (d *Dispatcher) HandleResponse(r *models.Response) {
	state := d.linker.OnResponse(r)
	if state == nil {
		d.hub.ResponseDetected.Emit(events.ResponseDetected{Response: r})
		return
	}
	d.hub.FinalResponseDetected.Emit(events.FinalResponseDetected{Response: r, ConversationState: *state})
}
