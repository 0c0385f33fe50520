package model

import "time"

// QuotaRecord counts admitted requests of one user inside the current
// reset window. LastReset is in Unix milliseconds.
type QuotaRecord struct {
	Count     int   `json:"count"`
	LastReset int64 `json:"lastReset"`
}

func NewQuotaRecord(now time.Time) QuotaRecord {
	return QuotaRecord{Count: 0, LastReset: now.UnixMilli()}
}

func (r QuotaRecord) LastResetTime() time.Time {
	return time.UnixMilli(r.LastReset)
}

// SessionData is the persisted state of one chat.
type SessionData struct {
	Messages    []ChatMessage          `json:"messages"`
	MessageData map[int64]*QuotaRecord `json:"messageData"`
}

func NewSessionData() *SessionData {
	return &SessionData{
		Messages:    []ChatMessage{},
		MessageData: map[int64]*QuotaRecord{},
	}
}

// Normalize repairs state written by older versions: null quota entries are
// dropped and empty message content is replaced with the placeholder.
func (s *SessionData) Normalize() {
	if s.Messages == nil {
		s.Messages = []ChatMessage{}
	}
	for i, msg := range s.Messages {
		if !msg.HasContent() {
			s.Messages[i].Content = PlaceholderContent
		}
	}
	if s.MessageData == nil {
		s.MessageData = map[int64]*QuotaRecord{}
	}
	for userID, record := range s.MessageData {
		if record == nil {
			delete(s.MessageData, userID)
		}
	}
}

func (s *SessionData) Clone() *SessionData {
	out := &SessionData{
		Messages:    make([]ChatMessage, len(s.Messages)),
		MessageData: make(map[int64]*QuotaRecord, len(s.MessageData)),
	}
	copy(out.Messages, s.Messages)
	for userID, record := range s.MessageData {
		if record == nil {
			continue
		}
		rec := *record
		out.MessageData[userID] = &rec
	}
	return out
}
