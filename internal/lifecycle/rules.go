package lifecycle

import "github.com/collabset/backend/internal/models"

// ProjectSteps lists the project track in the only order it may advance.
var ProjectSteps = []models.ProjectStatus{
	models.ProjectDealSigned,
	models.ProjectShooting,
	models.ProjectEditing,
	models.ProjectUploading,
	models.ProjectCompleted,
}

// PaymentSteps lists the payment track in the only order it may advance.
var PaymentSteps = []models.PaymentStatus{
	models.PaymentAwaitingBrand,
	models.PaymentHeldInEscrow,
	models.PaymentReleased,
}

// NextProjectStatus returns the step after current. ok is false for COMPLETED and unknown values.
func NextProjectStatus(current models.ProjectStatus) (next models.ProjectStatus, ok bool) {
	idx := current.Index()
	if idx < 0 || idx+1 >= len(ProjectSteps) {
		return "", false
	}
	return ProjectSteps[idx+1], true
}

// ProjectTransitionAllowed accepts only the single next step of the project track.
func ProjectTransitionAllowed(current, requested models.ProjectStatus) error {
	if !requested.Valid() || !current.Valid() {
		return ErrUnknownStatus
	}
	next, ok := NextProjectStatus(current)
	if !ok || next != requested {
		return ErrInvalidTransition
	}
	return nil
}

// PaymentTransitionAllowed applies the escrow rules: funds may be secured at any time while
// awaiting the brand, and released only from escrow once the project is completed.
func PaymentTransitionAllowed(deal models.Deal, requested models.PaymentStatus) error {
	if !requested.Valid() || !deal.PaymentStatus.Valid() {
		return ErrUnknownStatus
	}

	switch {
	case deal.PaymentStatus == models.PaymentAwaitingBrand && requested == models.PaymentHeldInEscrow:
		return nil
	case requested == models.PaymentReleased:
		if deal.PaymentStatus != models.PaymentHeldInEscrow || deal.ProjectStatus != models.ProjectCompleted {
			return ErrReleaseBlocked
		}
		return nil
	default:
		return ErrInvalidTransition
	}
}

// RequestTransitionAllowed permits Pending -> Accepted and Pending -> Rejected only.
func RequestTransitionAllowed(current, requested models.RequestStatus) error {
	if current != models.RequestPending {
		return ErrRequestResolved
	}
	switch requested {
	case models.RequestAccepted, models.RequestRejected:
		return nil
	}
	return ErrInvalidTransition
}

// Command is a requested change to exactly one of a deal's tracks.
type Command struct {
	Project models.ProjectStatus
	Payment models.PaymentStatus
}

// Validate checks cmd against the deal's current state.
func (c Command) Validate(deal models.Deal) error {
	switch {
	case c.Project != "" && c.Payment != "":
		return ErrInvalidTransition
	case c.Project != "":
		return ProjectTransitionAllowed(deal.ProjectStatus, c.Project)
	case c.Payment != "":
		return PaymentTransitionAllowed(deal, c.Payment)
	}
	return ErrInvalidTransition
}

// NextStateAllowed reports whether cmd may be applied to deal. Every deal mutation runs
// through it before writing.
func NextStateAllowed(deal models.Deal, cmd Command) bool {
	return cmd.Validate(deal) == nil
}
