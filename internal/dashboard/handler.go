package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/state/bus"
	"github.com/mschirtzinger/tasksync/internal/state/executor"
	"github.com/mschirtzinger/tasksync/internal/state/pending"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Source is the state the dashboard reads. *app.App implements it.
type Source interface {
	View(ctx context.Context, v views.View) ([]*types.Task, error)
	SubscribeDirty() *bus.Subscription[executor.DirtyNotice]
	SubscribeEvents() *bus.Subscription[bus.Event]
	SubscribeErrors() *bus.Subscription[executor.Report]
	SaveStatus() pending.SaveStatus
	PendingCount() int
	PendingDescriptions() []string
}

// ViewDirtyData is the payload of view_dirty messages
type ViewDirtyData struct {
	Views   []string `json:"views"`
	All     bool     `json:"all,omitempty"`
	Version uint64   `json:"version"`
}

// EntityData is the payload of entity messages
type EntityData struct {
	Action string       `json:"action"`
	Phase  string       `json:"phase"`
	Kind   string       `json:"kind"`
	ID     string       `json:"id"`
	PrevID string       `json:"prev_id,omitempty"`
	Entity types.Entity `json:"entity,omitempty"`
}

// SaveStatusData is the payload of save_status and hello messages
type SaveStatusData struct {
	Status  string   `json:"status"`
	Pending int      `json:"pending"`
	Tasks   []string `json:"tasks,omitempty"`
}

// ReportData is the payload of report messages
type ReportData struct {
	Severity    string   `json:"severity"`
	Op          string   `json:"op"`
	Message     string   `json:"message"`
	Error       string   `json:"error,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// newMessage creates a message with marshaled data
func newMessage(msgType MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", msgType, err)
	}
	return Message{Type: msgType, Timestamp: time.Now(), Data: raw}, nil
}

func (s *Server) statusData() SaveStatusData {
	return SaveStatusData{
		Status:  s.source.SaveStatus().String(),
		Pending: s.source.PendingCount(),
		Tasks:   s.source.PendingDescriptions(),
	}
}

// Run forwards state changes from the source to connected clients until ctx
// is done or the source's buses close. Save status has no bus of its own, so
// it is sampled after every forwarded message and every poll tick.
func (s *Server) Run(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	dirty := s.source.SubscribeDirty()
	defer dirty.Unsubscribe()
	events := s.source.SubscribeEvents()
	defer events.Unsubscribe()
	reports := s.source.SubscribeErrors()
	defer reports.Unsubscribe()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var last SaveStatusData
	sampleStatus := func() {
		cur := s.statusData()
		if cur.Status == last.Status && cur.Pending == last.Pending {
			return
		}
		last = cur
		s.send(MessageTypeSaveStatus, cur)
	}
	sampleStatus()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case n, ok := <-dirty.C:
			if !ok {
				return
			}
			s.OnViewDirty(n)
		case ev, ok := <-events.C:
			if !ok {
				return
			}
			s.OnEntity(ev)
		case r, ok := <-reports.C:
			if !ok {
				return
			}
			s.OnReport(r)
		case <-ticker.C:
		}
		sampleStatus()
	}
}

// OnViewDirty broadcasts the views named by n.
func (s *Server) OnViewDirty(n executor.DirtyNotice) {
	keys := make([]string, len(n.Views))
	for i, v := range n.Views {
		keys[i] = v.Key()
	}
	s.send(MessageTypeViewDirty, ViewDirtyData{Views: keys, All: n.All, Version: n.Version})
}

// OnEntity broadcasts an entity lifecycle event.
func (s *Server) OnEntity(ev bus.Event) {
	s.send(MessageTypeEntity, EntityData{
		Action: ev.Action.String(),
		Phase:  ev.Phase.String(),
		Kind:   ev.Kind.String(),
		ID:     ev.ID,
		PrevID: ev.PrevID,
		Entity: ev.Entity,
	})
}

// OnReport broadcasts a failure report.
func (s *Server) OnReport(r executor.Report) {
	data := ReportData{
		Severity:    r.Severity.String(),
		Op:          r.Op,
		Message:     r.Message,
		Suggestions: r.Suggestions,
	}
	if r.Err != nil {
		data.Error = r.Err.Error()
	}
	s.send(MessageTypeReport, data)
}

func (s *Server) send(msgType MessageType, data any) {
	msg, err := newMessage(msgType, data)
	if err != nil {
		s.logger.Error("failed to build message", "type", msgType, "error", err)
		return
	}
	s.Broadcast(msg)
}
