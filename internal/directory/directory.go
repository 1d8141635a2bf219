// Package directory talks to the external identity directory that supplies
// the enumerable subject list and their profile photo bytes.
package directory

import (
	"context"
	"errors"
)

// Subject is an identity whose photo is classified. Immutable within a run.
type Subject struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	PrincipalName string `json:"userPrincipalName"`
}

// ErrNoPhoto signals a subject without a profile photo. Expected and
// non-fatal: the run builder synthesizes the "none" distribution for it.
var ErrNoPhoto = errors.New("subject has no photo")

// Directory is the consumer-side view of the identity service.
type Directory interface {
	// ListSubjects returns every enumerable subject, following pagination
	// until the directory is exhausted.
	ListSubjects(ctx context.Context) ([]Subject, error)
	// FetchPhoto returns the raw photo bytes for a subject, or ErrNoPhoto.
	FetchPhoto(ctx context.Context, subjectID string) ([]byte, error)
}
