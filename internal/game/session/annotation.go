package session

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/chartdetectives/internal/platform/errors"
	"github.com/louisbranch/chartdetectives/internal/platform/id"
)

var (
	// ErrAnnotationOutOfBounds indicates coordinates outside the canvas.
	ErrAnnotationOutOfBounds = apperrors.New(apperrors.CodeAnnotationOutOfBounds, "annotation coordinates must be within 0..100")
	// ErrEmptyAuthor indicates a missing annotation author identity.
	ErrEmptyAuthor = apperrors.New(apperrors.CodeAnnotationEmptyAuthor, "annotation author identity is required")
)

// Annotation is one immutable marker on the shared evidence canvas.
// Coordinates are fractional percentages of the canvas, so they stay
// meaningful at any client resolution.
type Annotation struct {
	ID             string    `json:"id"`
	X              float64   `json:"x"`
	Y              float64   `json:"y"`
	AuthorIdentity string    `json:"authorIdentity"`
	Reason         string    `json:"reason"`
	Impact         string    `json:"impact"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewAnnotation creates an annotation with a generated id and timestamp.
func NewAnnotation(authorIdentity string, x, y float64, reason, impact string, now func() time.Time, idGenerator func() (string, error)) (Annotation, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	authorIdentity = strings.TrimSpace(authorIdentity)
	if authorIdentity == "" {
		return Annotation{}, ErrEmptyAuthor
	}
	if x < 0 || x > 100 || y < 0 || y > 100 {
		return Annotation{}, ErrAnnotationOutOfBounds
	}

	annotationID, err := idGenerator()
	if err != nil {
		return Annotation{}, apperrors.Wrap(apperrors.CodeUnknown, "generate annotation id", err)
	}

	return Annotation{
		ID:             annotationID,
		X:              x,
		Y:              y,
		AuthorIdentity: authorIdentity,
		Reason:         reason,
		Impact:         impact,
		CreatedAt:      now().UTC(),
	}, nil
}

// AddAnnotation appends an annotation to an ACTIVE group's current round.
func AddAnnotation(s Session, groupID string, a Annotation) (Session, error) {
	idx := s.groupIndex(groupID)
	if idx < 0 {
		return Session{}, ErrGroupNotFound
	}
	if s.Groups[idx].Status != StatusActive {
		return Session{}, ErrInvalidTransition
	}

	s = s.Clone()
	s.Groups[idx].Annotations = append(s.Groups[idx].Annotations, a)
	return s, nil
}
