package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/lingo-live/pkg/core/pcm"
	"github.com/vango-go/lingo-live/pkg/core/transcript"
	"github.com/vango-go/lingo-live/pkg/live/protocol"
)

// dispatch handles one server message in arrival order: audio, then
// transcriptions, then the interruption flag.
func (s *Session) dispatch(msg *protocol.ServerMessage) {
	if msg == nil {
		return
	}
	if msg.GoAway != nil {
		s.logger.Warn("remote will close the session soon", "time_left", msg.GoAway.TimeLeft)
	}
	if msg.UsageMetadata != nil {
		s.logger.Debug("usage", "total_tokens", msg.UsageMetadata.TotalTokenCount)
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}

	for _, blob := range sc.AudioChunks() {
		s.playChunk(blob)
	}

	if t := sc.InputTranscription; t != nil && (t.Text != "" || t.Finished) {
		s.transcribe(transcript.RoleUser, t.Text, t.Finished)
	}
	if t := sc.OutputTranscription; t != nil && (t.Text != "" || t.Finished) {
		s.transcribe(transcript.RoleAssistant, t.Text, t.Finished)
	}

	if sc.Interrupted {
		stopped := 0
		if sched := s.Scheduler(); sched != nil {
			stopped = sched.Interrupt()
		}
		s.metrics.RecordInterrupt()
		s.turns.end(transcript.RoleAssistant)
		s.logger.Debug("interrupted by user speech", "stopped_buffers", stopped)
	}

	if sc.TurnComplete {
		s.turns.endAll()
	}
}

func (s *Session) playChunk(blob *protocol.Blob) {
	samples, err := pcm.DecodeTransport(blob.Data)
	if err != nil {
		s.logger.Warn("dropping undecodable audio chunk", "error", err)
		s.metrics.RecordDecodeError()
		return
	}
	if len(samples) == 0 {
		return
	}
	s.metrics.RecordAudioIn(len(samples) * 2)

	sched := s.Scheduler()
	if sched == nil {
		return
	}
	if _, err := sched.Enqueue(samples, pcm.L16Mono24K.Seconds(len(samples))); err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("failed to schedule audio", "error", err)
		}
	}
}

// transcribe folds a transcription fragment into the open turn for role and
// publishes the accumulated text under the turn's stable ID.
func (s *Session) transcribe(role transcript.Role, fragment string, finished bool) {
	ev, ok := s.turns.append(role, fragment, finished, s.cfg.Now())
	if !ok {
		return
	}
	s.publish(ev)
}

func (s *Session) addSystemMessage(text string) {
	s.publish(transcript.Event{
		ID:        uuid.NewString(),
		Role:      transcript.RoleSystem,
		Text:      text,
		Timestamp: s.cfg.Now(),
	})
}

func (s *Session) publish(ev transcript.Event) {
	s.log.Apply(ev)
	s.metrics.RecordTranscriptEvent(string(ev.Role))
	if s.cb.OnMessageUpdate != nil {
		s.cb.OnMessageUpdate(ev)
	}
}

type turn struct {
	id      string
	text    string
	started time.Time
}

// turnTracker holds the open transcript turn per role. A turn ends when its
// transcription is marked finished, when the other side starts speaking, on
// interruption, or when the server completes the turn.
type turnTracker struct {
	mu   sync.Mutex
	open map[transcript.Role]*turn
}

func (t *turnTracker) append(role transcript.Role, fragment string, finished bool, now time.Time) (transcript.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		t.open = make(map[transcript.Role]*turn)
	}
	cur := t.open[role]
	if cur == nil {
		if fragment == "" {
			return transcript.Event{}, false
		}
		cur = &turn{id: uuid.NewString(), started: now}
		t.open[role] = cur
	}
	cur.text += fragment

	// The tutor answering closes the student's turn.
	if role == transcript.RoleAssistant {
		delete(t.open, transcript.RoleUser)
	}
	if finished {
		delete(t.open, role)
	}

	return transcript.Event{
		ID:        cur.id,
		Role:      role,
		Text:      cur.text,
		Timestamp: cur.started,
	}, true
}

func (t *turnTracker) end(role transcript.Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, role)
}

func (t *turnTracker) endAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.open)
}
