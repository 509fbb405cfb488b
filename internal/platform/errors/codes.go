// Package errors provides structured error handling for the session engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionEmptyFacilitator Code = "SESSION_EMPTY_FACILITATOR"
	CodeSessionEmptyID          Code = "SESSION_EMPTY_ID"

	// Group errors
	CodeGroupEmptyName                Code = "GROUP_EMPTY_NAME"
	CodeGroupNotFound                 Code = "GROUP_NOT_FOUND"
	CodeGroupRosterFull               Code = "GROUP_ROSTER_FULL"
	CodeGroupDuplicateParticipant     Code = "GROUP_DUPLICATE_PARTICIPANT"
	CodeGroupNoParticipants           Code = "GROUP_NO_PARTICIPANTS"
	CodeGroupInvalidStatusTransition  Code = "GROUP_INVALID_STATUS_TRANSITION"
	CodeGroupNoMoreCases              Code = "GROUP_NO_MORE_CASES"

	// Participant errors
	CodeParticipantEmptyIdentity Code = "PARTICIPANT_EMPTY_IDENTITY"
	CodeParticipantNotFound      Code = "PARTICIPANT_NOT_FOUND"
	CodeParticipantInvalidTag    Code = "PARTICIPANT_INVALID_TAG"

	// Training errors
	CodeTrainingStageOrder    Code = "TRAINING_STAGE_ORDER"
	CodeTrainingTagUnassigned Code = "TRAINING_TAG_UNASSIGNED"

	// Annotation errors
	CodeAnnotationOutOfBounds   Code = "ANNOTATION_OUT_OF_BOUNDS"
	CodeAnnotationEmptyAuthor   Code = "ANNOTATION_EMPTY_AUTHOR"

	// Evaluation errors
	CodeEvaluationScoreOutOfRange Code = "EVALUATION_SCORE_OUT_OF_RANGE"

	// Storage errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeVersionConflict  Code = "VERSION_CONFLICT"

	// Collaborator errors
	CodeCollaboratorUnavailable Code = "COLLABORATOR_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeSessionEmptyFacilitator,
		CodeSessionEmptyID,
		CodeGroupEmptyName,
		CodeParticipantEmptyIdentity,
		CodeParticipantInvalidTag,
		CodeAnnotationOutOfBounds,
		CodeAnnotationEmptyAuthor,
		CodeEvaluationScoreOutOfRange:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeGroupRosterFull,
		CodeGroupNoParticipants,
		CodeGroupInvalidStatusTransition,
		CodeGroupNoMoreCases,
		CodeTrainingStageOrder,
		CodeTrainingTagUnassigned:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeGroupNotFound,
		CodeParticipantNotFound:
		return codes.NotFound

	// AlreadyExists - unique membership constraint
	case CodeGroupDuplicateParticipant,
		CodeAlreadyExists:
		return codes.AlreadyExists

	// Aborted - caller should retry with a fresh snapshot
	case CodeVersionConflict:
		return codes.Aborted

	// Unavailable - dependency outage, retryable
	case CodeStoreUnavailable,
		CodeCollaboratorUnavailable:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
