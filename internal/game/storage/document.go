package storage

import (
	"github.com/louisbranch/chartdetectives/internal/game/session"
)

// The functions below mutate a loaded session document in place. Store
// implementations call them inside their serialized write path so every
// backend enforces the same append invariants.

// AppendGroupDocument appends g to the document's group list.
func AppendGroupDocument(sess *session.Session, g session.Group) error {
	sess.Groups = append(sess.Groups, g.Clone())
	return nil
}

// AppendParticipantDocument appends p to the named group's roster and unions
// the identity into the document's membership list. The roster cap and the
// one-group-per-identity rule are checked here, inside the write path, so
// concurrent joins racing past a stale read still cannot exceed them.
func AppendParticipantDocument(sess *session.Session, groupID string, p session.Participant) error {
	i, err := documentGroupIndex(sess, groupID)
	if err != nil {
		return err
	}
	if len(sess.Groups[i].Participants) >= session.MaxParticipants {
		return session.ErrRosterFull
	}
	for _, member := range sess.ParticipantIdentities {
		if member == p.Identity {
			return session.ErrDuplicateParticipant
		}
	}
	sess.Groups[i].Participants = append(sess.Groups[i].Participants, p.Clone())
	sess.ParticipantIdentities = append(sess.ParticipantIdentities, p.Identity)
	return nil
}

// AppendAnnotationDocument appends a to the named group's current round.
func AppendAnnotationDocument(sess *session.Session, groupID string, a session.Annotation) error {
	i, err := documentGroupIndex(sess, groupID)
	if err != nil {
		return err
	}
	sess.Groups[i].Annotations = append(sess.Groups[i].Annotations, a)
	return nil
}

func documentGroupIndex(sess *session.Session, groupID string) (int, error) {
	for i := range sess.Groups {
		if sess.Groups[i].ID == groupID {
			return i, nil
		}
	}
	return 0, ErrNotFound
}
