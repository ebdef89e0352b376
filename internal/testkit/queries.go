package testkit

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/liveclass/internal/db"
)

var _ db.Querier = (*querier)(nil)

// class sessions

func (q *querier) CreateClassSession(_ context.Context, arg db.CreateClassSessionParams) (db.ClassSession, error) {
	var out db.ClassSession
	err := q.do("CreateClassSession", func(st *state) error {
		if _, ok := st.sessions[arg.ID]; ok {
			return db.UniqueViolation("class_sessions_pkey")
		}
		out = db.ClassSession{
			ID:        arg.ID,
			TeacherID: arg.TeacherID,
			Title:     arg.Title,
			Status:    db.SessionStatusActive,
			CreatedAt: arg.CreatedAt,
			UpdatedAt: arg.CreatedAt,
		}
		st.sessions[arg.ID] = out
		st.track(arg.ID)
		return nil
	})
	return out, err
}

func (q *querier) GetClassSession(_ context.Context, id pgtype.UUID) (db.ClassSession, error) {
	var out db.ClassSession
	err := q.do("GetClassSession", func(st *state) error {
		s, ok := st.sessions[id]
		if !ok {
			return errNoRows
		}
		out = s
		return nil
	})
	return out, err
}

func (q *querier) GetClassSessionForUpdate(ctx context.Context, id pgtype.UUID) (db.ClassSession, error) {
	var out db.ClassSession
	err := q.do("GetClassSessionForUpdate", func(st *state) error {
		s, ok := st.sessions[id]
		if !ok {
			return errNoRows
		}
		out = s
		return nil
	})
	return out, err
}

func (q *querier) GetClassSessionByConversation(_ context.Context, conversationID pgtype.UUID) (db.ClassSession, error) {
	var out db.ClassSession
	err := q.do("GetClassSessionByConversation", func(st *state) error {
		c, ok := st.conversations[conversationID]
		if !ok {
			return errNoRows
		}
		s, ok := st.sessions[c.SessionID]
		if !ok {
			return errNoRows
		}
		out = s
		return nil
	})
	return out, err
}

func (q *querier) GetClassSessionByCollab(_ context.Context, collabSessionID pgtype.UUID) (db.ClassSession, error) {
	var out db.ClassSession
	err := q.do("GetClassSessionByCollab", func(st *state) error {
		c, ok := st.collabs[collabSessionID]
		if !ok {
			return errNoRows
		}
		s, ok := st.sessions[c.SessionID]
		if !ok {
			return errNoRows
		}
		out = s
		return nil
	})
	return out, err
}

func (q *querier) UpdateClassSessionStatus(_ context.Context, arg db.UpdateClassSessionStatusParams) (db.ClassSession, error) {
	var out db.ClassSession
	err := q.do("UpdateClassSessionStatus", func(st *state) error {
		s, ok := st.sessions[arg.ID]
		if !ok {
			return errNoRows
		}
		s.Status = arg.Status
		s.PausedAt = arg.PausedAt
		s.EndedAt = arg.EndedAt
		s.GracePeriodEndsAt = arg.GracePeriodEndsAt
		s.UpdatedAt = arg.UpdatedAt
		st.sessions[arg.ID] = s
		out = s
		return nil
	})
	return out, err
}

func (q *querier) CreateSessionInstance(_ context.Context, arg db.CreateSessionInstanceParams) (db.SessionInstance, error) {
	var out db.SessionInstance
	err := q.do("CreateSessionInstance", func(st *state) error {
		var maxNumber int32
		for _, i := range st.instances {
			if i.SessionID != arg.SessionID {
				continue
			}
			if i.IsCurrent {
				return db.UniqueViolation("session_instances_current_idx")
			}
			if i.InstanceNumber > maxNumber {
				maxNumber = i.InstanceNumber
			}
		}
		out = db.SessionInstance{
			ID:             arg.ID,
			SessionID:      arg.SessionID,
			InstanceNumber: maxNumber + 1,
			IsCurrent:      true,
			StartedAt:      arg.StartedAt,
		}
		st.instances = append(st.instances, out)
		return nil
	})
	return out, err
}

func (q *querier) SupersedeCurrentInstance(_ context.Context, arg db.SupersedeCurrentInstanceParams) error {
	return q.do("SupersedeCurrentInstance", func(st *state) error {
		for idx, i := range st.instances {
			if i.SessionID == arg.SessionID && i.IsCurrent {
				i.IsCurrent = false
				i.EndedAt = arg.EndedAt
				st.instances[idx] = i
			}
		}
		return nil
	})
}

func (q *querier) GetCurrentInstance(_ context.Context, sessionID pgtype.UUID) (db.SessionInstance, error) {
	var out db.SessionInstance
	err := q.do("GetCurrentInstance", func(st *state) error {
		for _, i := range st.instances {
			if i.SessionID == sessionID && i.IsCurrent {
				out = i
				return nil
			}
		}
		return errNoRows
	})
	return out, err
}

// topics

func (q *querier) CreateTopic(_ context.Context, arg db.CreateTopicParams) (db.Topic, error) {
	var out db.Topic
	err := q.do("CreateTopic", func(st *state) error {
		if _, ok := st.topics[arg.ID]; ok {
			return db.UniqueViolation("topics_pkey")
		}
		out = db.Topic{
			ID:          arg.ID,
			SessionID:   arg.SessionID,
			Title:       arg.Title,
			Description: arg.Description,
			CreatedAt:   arg.CreatedAt,
		}
		st.topics[arg.ID] = out
		st.track(arg.ID)
		return nil
	})
	return out, err
}

func (q *querier) GetTopic(_ context.Context, id pgtype.UUID) (db.Topic, error) {
	var out db.Topic
	err := q.do("GetTopic", func(st *state) error {
		t, ok := st.topics[id]
		if !ok {
			return errNoRows
		}
		out = t
		return nil
	})
	return out, err
}

func (q *querier) ListTopicsBySession(_ context.Context, sessionID pgtype.UUID) ([]db.Topic, error) {
	var out []db.Topic
	err := q.do("ListTopicsBySession", func(st *state) error {
		for _, t := range st.topics {
			if t.SessionID == sessionID {
				out = append(out, t)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Time.Equal(out[j].CreatedAt.Time) {
				return before(out[i].CreatedAt, out[j].CreatedAt)
			}
			return st.order[out[i].ID] < st.order[out[j].ID]
		})
		return nil
	})
	return out, err
}

// waiting room

func (q *querier) AcquireMatchLock(_ context.Context, _ string) error {
	return q.do("AcquireMatchLock", func(*state) error { return nil })
}

func waitingKeyMatch(e db.WaitingRoomEntry, sessionID, topicID, studentID pgtype.UUID) bool {
	return e.SessionID == sessionID && e.TopicID == topicID && e.StudentID == studentID
}

func (q *querier) UpsertWaitingEntry(_ context.Context, arg db.UpsertWaitingEntryParams) (db.WaitingRoomEntry, error) {
	var out db.WaitingRoomEntry
	err := q.do("UpsertWaitingEntry", func(st *state) error {
		for id, e := range st.waiting {
			if !waitingKeyMatch(e, arg.SessionID, arg.TopicID, arg.StudentID) {
				continue
			}
			if e.Status == db.WaitingStatusMatched && e.CollabSessionID.Valid {
				return errNoRows
			}
			if !(e.Status == db.WaitingStatusWaiting && e.ExpiresAt.Time.After(arg.Now.Time)) {
				e.CreatedAt = arg.Now
			}
			e.StudentName = arg.StudentName
			e.PreferredMode = arg.PreferredMode
			e.Status = db.WaitingStatusWaiting
			e.MatchedWith = pgtype.UUID{}
			e.CollabSessionID = pgtype.UUID{}
			e.ConversationID = pgtype.UUID{}
			e.UpdatedAt = arg.Now
			e.ExpiresAt = arg.ExpiresAt
			st.waiting[id] = e
			out = e
			return nil
		}
		out = db.WaitingRoomEntry{
			ID:            arg.ID,
			SessionID:     arg.SessionID,
			TopicID:       arg.TopicID,
			StudentID:     arg.StudentID,
			StudentName:   arg.StudentName,
			PreferredMode: arg.PreferredMode,
			Status:        db.WaitingStatusWaiting,
			CreatedAt:     arg.Now,
			UpdatedAt:     arg.Now,
			ExpiresAt:     arg.ExpiresAt,
		}
		st.waiting[arg.ID] = out
		st.track(arg.ID)
		return nil
	})
	return out, err
}

func (q *querier) GetWaitingEntry(_ context.Context, arg db.GetWaitingEntryParams) (db.WaitingRoomEntry, error) {
	var out db.WaitingRoomEntry
	err := q.do("GetWaitingEntry", func(st *state) error {
		for _, e := range st.waiting {
			if waitingKeyMatch(e, arg.SessionID, arg.TopicID, arg.StudentID) {
				out = e
				return nil
			}
		}
		return errNoRows
	})
	return out, err
}

func waitingPool(st *state, sessionID, topicID, exclude pgtype.UUID, now pgtype.Timestamptz) []db.WaitingRoomEntry {
	var pool []db.WaitingRoomEntry
	for _, e := range st.waiting {
		if e.SessionID != sessionID || e.TopicID != topicID || e.StudentID == exclude {
			continue
		}
		if e.Status != db.WaitingStatusWaiting || !e.ExpiresAt.Time.After(now.Time) {
			continue
		}
		pool = append(pool, e)
	}
	sort.Slice(pool, func(i, j int) bool {
		return lessByTimeThenID(pool[i].CreatedAt, pool[j].CreatedAt, pool[i].ID, pool[j].ID)
	})
	return pool
}

func (q *querier) FindWaitingPartner(_ context.Context, arg db.FindWaitingPartnerParams) (db.WaitingRoomEntry, error) {
	var out db.WaitingRoomEntry
	err := q.do("FindWaitingPartner", func(st *state) error {
		pool := waitingPool(st, arg.SessionID, arg.TopicID, arg.ExcludeStudentID, arg.Now)
		if len(pool) == 0 {
			return errNoRows
		}
		out = pool[0]
		return nil
	})
	return out, err
}

func (q *querier) ListWaitingPartners(_ context.Context, arg db.ListWaitingPartnersParams) ([]db.WaitingRoomEntry, error) {
	var out []db.WaitingRoomEntry
	err := q.do("ListWaitingPartners", func(st *state) error {
		pool := waitingPool(st, arg.SessionID, arg.TopicID, arg.ExcludeStudentID, arg.Now)
		if int(arg.Limit) < len(pool) {
			pool = pool[:arg.Limit]
		}
		out = pool
		return nil
	})
	return out, err
}

func (q *querier) MarkWaitingEntryMatched(_ context.Context, arg db.MarkWaitingEntryMatchedParams) error {
	return q.do("MarkWaitingEntryMatched", func(st *state) error {
		e, ok := st.waiting[arg.ID]
		if !ok {
			return nil
		}
		e.Status = db.WaitingStatusMatched
		e.MatchedWith = arg.MatchedWith
		e.CollabSessionID = arg.CollabSessionID
		e.ConversationID = arg.ConversationID
		e.UpdatedAt = arg.UpdatedAt
		st.waiting[arg.ID] = e
		return nil
	})
}

func (q *querier) CancelWaitingEntry(_ context.Context, arg db.CancelWaitingEntryParams) (int64, error) {
	var n int64
	err := q.do("CancelWaitingEntry", func(st *state) error {
		for id, e := range st.waiting {
			if waitingKeyMatch(e, arg.SessionID, arg.TopicID, arg.StudentID) && e.Status == db.WaitingStatusWaiting {
				e.Status = db.WaitingStatusCancelled
				e.UpdatedAt = arg.UpdatedAt
				st.waiting[id] = e
				n++
			}
		}
		return nil
	})
	return n, err
}

func (q *querier) ReleaseWaitingEntriesForCollab(_ context.Context, arg db.ReleaseWaitingEntriesForCollabParams) (int64, error) {
	var n int64
	err := q.do("ReleaseWaitingEntriesForCollab", func(st *state) error {
		for id, e := range st.waiting {
			if e.CollabSessionID == arg.CollabSessionID && e.Status == db.WaitingStatusMatched {
				e.Status = db.WaitingStatusCancelled
				e.UpdatedAt = arg.UpdatedAt
				st.waiting[id] = e
				n++
			}
		}
		return nil
	})
	return n, err
}

func (q *querier) ReleaseStudentWaitingEntry(_ context.Context, arg db.ReleaseStudentWaitingEntryParams) (int64, error) {
	var n int64
	err := q.do("ReleaseStudentWaitingEntry", func(st *state) error {
		for id, e := range st.waiting {
			if e.CollabSessionID == arg.CollabSessionID && e.StudentID == arg.StudentID && e.Status == db.WaitingStatusMatched {
				e.Status = db.WaitingStatusCancelled
				e.UpdatedAt = arg.UpdatedAt
				st.waiting[id] = e
				n++
			}
		}
		return nil
	})
	return n, err
}

func (q *querier) CancelExpiredWaitingEntries(_ context.Context, now pgtype.Timestamptz) (int64, error) {
	var n int64
	err := q.do("CancelExpiredWaitingEntries", func(st *state) error {
		for id, e := range st.waiting {
			if e.Status == db.WaitingStatusWaiting && !e.ExpiresAt.Time.After(now.Time) {
				e.Status = db.WaitingStatusCancelled
				e.UpdatedAt = now
				st.waiting[id] = e
				n++
			}
		}
		return nil
	})
	return n, err
}

// conversations

func (q *querier) UpsertConversation(_ context.Context, arg db.UpsertConversationParams) (db.Conversation, error) {
	var out db.Conversation
	err := q.do("UpsertConversation", func(st *state) error {
		for id, c := range st.conversations {
			if c.SessionID == arg.SessionID && c.StudentID == arg.StudentID && c.TopicID == arg.TopicID {
				c.IsCollaborative = arg.IsCollaborative
				c.UpdatedAt = arg.Now
				st.conversations[id] = c
				out = c
				return nil
			}
		}
		out = db.Conversation{
			ID:              arg.ID,
			SessionID:       arg.SessionID,
			StudentID:       arg.StudentID,
			TopicID:         arg.TopicID,
			IsCollaborative: arg.IsCollaborative,
			CreatedAt:       arg.Now,
			UpdatedAt:       arg.Now,
		}
		st.conversations[arg.ID] = out
		st.track(arg.ID)
		return nil
	})
	return out, err
}

func (q *querier) GetConversation(_ context.Context, id pgtype.UUID) (db.Conversation, error) {
	var out db.Conversation
	err := q.do("GetConversation", func(st *state) error {
		c, ok := st.conversations[id]
		if !ok {
			return errNoRows
		}
		out = c
		return nil
	})
	return out, err
}

func (q *querier) SetConversationCollab(_ context.Context, arg db.SetConversationCollabParams) error {
	return q.do("SetConversationCollab", func(st *state) error {
		c, ok := st.conversations[arg.ID]
		if !ok {
			return nil
		}
		c.IsCollaborative = arg.IsCollaborative
		c.CollabSessionID = arg.CollabSessionID
		c.UpdatedAt = arg.UpdatedAt
		st.conversations[arg.ID] = c
		return nil
	})
}

func (q *querier) InsertConversationMessage(_ context.Context, arg db.InsertConversationMessageParams) (db.ConversationMessage, error) {
	var out db.ConversationMessage
	err := q.do("InsertConversationMessage", func(st *state) error {
		out = db.ConversationMessage{
			ID:             arg.ID,
			ConversationID: arg.ConversationID,
			Role:           arg.Role,
			StudentID:      arg.StudentID,
			Content:        arg.Content,
			CreatedAt:      arg.CreatedAt,
		}
		st.messages = append(st.messages, out)
		st.track(arg.ID)
		return nil
	})
	return out, err
}

func (q *querier) ListConversationMessages(_ context.Context, arg db.ListConversationMessagesParams) ([]db.ConversationMessage, error) {
	var out []db.ConversationMessage
	err := q.do("ListConversationMessages", func(st *state) error {
		for _, m := range st.messages {
			if m.ConversationID == arg.ConversationID {
				out = append(out, m)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return before(out[i].CreatedAt, out[j].CreatedAt) })
		if int(arg.Limit) < len(out) {
			out = out[len(out)-int(arg.Limit):]
		}
		return nil
	})
	return out, err
}

// collaborative sessions

func (q *querier) UpsertCollabSession(_ context.Context, arg db.UpsertCollabSessionParams) (db.CollaborativeSession, error) {
	var out db.CollaborativeSession
	err := q.do("UpsertCollabSession", func(st *state) error {
		for id, c := range st.collabs {
			if c.ConversationID != arg.ConversationID {
				continue
			}
			if c.Status == db.CollabStatusActive {
				return errNoRows
			}
			c.Mode = arg.Mode
			c.ParticipantIds = copyIDs(arg.ParticipantIds)
			c.ParticipantNames = copyBytes(arg.ParticipantNames)
			c.CurrentTurnStudentID = arg.CurrentTurnStudentID
			c.TurnCount = 0
			c.Contributions = []byte("{}")
			c.IsImbalanced = false
			c.BalanceWarnings = 0
			c.Status = db.CollabStatusActive
			c.UpdatedAt = arg.Now
			c.EndedAt = pgtype.Timestamptz{}
			st.collabs[id] = c
			out = c
			return nil
		}
		out = db.CollaborativeSession{
			ID:                   arg.ID,
			ConversationID:       arg.ConversationID,
			SessionID:            arg.SessionID,
			TopicID:              arg.TopicID,
			Mode:                 arg.Mode,
			ParticipantIds:       copyIDs(arg.ParticipantIds),
			ParticipantNames:     copyBytes(arg.ParticipantNames),
			CurrentTurnStudentID: arg.CurrentTurnStudentID,
			Contributions:        []byte("{}"),
			Status:               db.CollabStatusActive,
			CreatedAt:            arg.Now,
			UpdatedAt:            arg.Now,
		}
		st.collabs[arg.ID] = out
		st.track(arg.ID)
		return nil
	})
	return out, err
}

func (q *querier) getCollab(method string, id pgtype.UUID) (db.CollaborativeSession, error) {
	var out db.CollaborativeSession
	err := q.do(method, func(st *state) error {
		c, ok := st.collabs[id]
		if !ok {
			return errNoRows
		}
		out = c
		return nil
	})
	return out, err
}

func (q *querier) GetCollabSession(_ context.Context, id pgtype.UUID) (db.CollaborativeSession, error) {
	return q.getCollab("GetCollabSession", id)
}

func (q *querier) GetCollabSessionForUpdate(_ context.Context, id pgtype.UUID) (db.CollaborativeSession, error) {
	return q.getCollab("GetCollabSessionForUpdate", id)
}

func (q *querier) GetCollabSessionByConversation(_ context.Context, conversationID pgtype.UUID) (db.CollaborativeSession, error) {
	var out db.CollaborativeSession
	err := q.do("GetCollabSessionByConversation", func(st *state) error {
		for _, c := range st.collabs {
			if c.ConversationID == conversationID {
				out = c
				return nil
			}
		}
		return errNoRows
	})
	return out, err
}

func (q *querier) PassCollabTurn(_ context.Context, arg db.PassCollabTurnParams) (db.CollaborativeSession, error) {
	var out db.CollaborativeSession
	err := q.do("PassCollabTurn", func(st *state) error {
		c, ok := st.collabs[arg.ID]
		if !ok || c.Status != db.CollabStatusActive || c.CurrentTurnStudentID != arg.FromStudentID {
			return errNoRows
		}
		found := false
		for _, p := range c.ParticipantIds {
			if p == arg.ToStudentID {
				found = true
				break
			}
		}
		if !found {
			return errNoRows
		}
		c.CurrentTurnStudentID = arg.ToStudentID
		c.TurnCount++
		c.UpdatedAt = arg.UpdatedAt
		st.collabs[arg.ID] = c
		out = c
		return nil
	})
	return out, err
}

func (q *querier) UpdateCollabParticipants(_ context.Context, arg db.UpdateCollabParticipantsParams) (db.CollaborativeSession, error) {
	var out db.CollaborativeSession
	err := q.do("UpdateCollabParticipants", func(st *state) error {
		c, ok := st.collabs[arg.ID]
		if !ok {
			return errNoRows
		}
		c.ParticipantIds = copyIDs(arg.ParticipantIds)
		c.ParticipantNames = copyBytes(arg.ParticipantNames)
		c.CurrentTurnStudentID = arg.CurrentTurnStudentID
		c.Status = arg.Status
		c.EndedAt = arg.EndedAt
		c.UpdatedAt = arg.UpdatedAt
		st.collabs[arg.ID] = c
		out = c
		return nil
	})
	return out, err
}

func (q *querier) UpdateCollabContributions(_ context.Context, arg db.UpdateCollabContributionsParams) (db.CollaborativeSession, error) {
	var out db.CollaborativeSession
	err := q.do("UpdateCollabContributions", func(st *state) error {
		c, ok := st.collabs[arg.ID]
		if !ok {
			return errNoRows
		}
		c.Contributions = copyBytes(arg.Contributions)
		c.IsImbalanced = arg.IsImbalanced
		c.BalanceWarnings = arg.BalanceWarnings
		c.UpdatedAt = arg.UpdatedAt
		st.collabs[arg.ID] = c
		out = c
		return nil
	})
	return out, err
}

// invitations

func (q *querier) UpsertInvitation(_ context.Context, arg db.UpsertInvitationParams) (db.CollabInvitation, error) {
	var out db.CollabInvitation
	err := q.do("UpsertInvitation", func(st *state) error {
		for id, inv := range st.invitations {
			if inv.CollabSessionID == arg.CollabSessionID && inv.ToStudentID == arg.ToStudentID {
				delete(st.invitations, id)
				break
			}
		}
		out = db.CollabInvitation{
			ID:              arg.ID,
			CollabSessionID: arg.CollabSessionID,
			FromStudentID:   arg.FromStudentID,
			FromStudentName: arg.FromStudentName,
			ToStudentID:     arg.ToStudentID,
			Message:         arg.Message,
			Status:          db.InvitationStatusPending,
			CreatedAt:       arg.CreatedAt,
			ExpiresAt:       arg.ExpiresAt,
		}
		st.invitations[arg.ID] = out
		st.track(arg.ID)
		return nil
	})
	return out, err
}

func (q *querier) GetInvitation(_ context.Context, id pgtype.UUID) (db.CollabInvitation, error) {
	var out db.CollabInvitation
	err := q.do("GetInvitation", func(st *state) error {
		inv, ok := st.invitations[id]
		if !ok {
			return errNoRows
		}
		out = inv
		return nil
	})
	return out, err
}

func (q *querier) RespondInvitation(_ context.Context, arg db.RespondInvitationParams) (db.CollabInvitation, error) {
	var out db.CollabInvitation
	err := q.do("RespondInvitation", func(st *state) error {
		inv, ok := st.invitations[arg.ID]
		if !ok || inv.Status != db.InvitationStatusPending || !inv.ExpiresAt.Time.After(arg.RespondedAt.Time) {
			return errNoRows
		}
		inv.Status = arg.Status
		inv.RespondedAt = arg.RespondedAt
		st.invitations[arg.ID] = inv
		out = inv
		return nil
	})
	return out, err
}

func (q *querier) ListPendingInvitations(_ context.Context, arg db.ListPendingInvitationsParams) ([]db.CollabInvitation, error) {
	var out []db.CollabInvitation
	err := q.do("ListPendingInvitations", func(st *state) error {
		for _, inv := range st.invitations {
			if inv.ToStudentID == arg.ToStudentID && inv.Status == db.InvitationStatusPending && inv.ExpiresAt.Time.After(arg.Now.Time) {
				out = append(out, inv)
			}
		}
		sort.Slice(out, func(i, j int) bool { return before(out[j].CreatedAt, out[i].CreatedAt) })
		return nil
	})
	return out, err
}
