package models

import "time"

// Role identifies which side of the marketplace a party is on.
type Role string

const (
	RoleInfluencer Role = "Influencer"
	RoleBrand      Role = "Brand"
	RoleAdmin      Role = "Admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleInfluencer, RoleBrand, RoleAdmin:
		return true
	}
	return false
}

const (
	OnboardingProfilePending = "PROFILE_PENDING"
	OnboardingCompleted      = "COMPLETED"
)

// User represents a party account within the Collabset marketplace.
type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Password          string    `json:"-"`
	Name              string    `json:"name"`
	Role              Role      `json:"role"`
	BrandName         string    `json:"brandName,omitempty"`
	Category          string    `json:"category,omitempty"`
	City              string    `json:"city,omitempty"`
	Bio               string    `json:"bio,omitempty"`
	PricePerPost      int64     `json:"pricePerPost"`
	AvgCampaignBudget int64     `json:"avgCampaignBudget"`
	IsVerified        bool      `json:"isVerified"`
	IsBlocked         bool      `json:"isBlocked"`
	IsBarterEnabled   bool      `json:"isBarterEnabled"`
	OnboardingStatus  string    `json:"onboardingStatus"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// DisplayName returns the name shown to counterparties. Brands prefer their brand name.
func (u User) DisplayName() string {
	if u.Role == RoleBrand && u.BrandName != "" {
		return u.BrandName
	}
	return u.Name
}

// RequestStatus is the resolution state of a collaboration request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestAccepted RequestStatus = "Accepted"
	RequestRejected RequestStatus = "Rejected"
)

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestRejected:
		return true
	}
	return false
}

// ProjectStatus is a step of the creative production track of a deal.
type ProjectStatus string

const (
	ProjectDealSigned ProjectStatus = "DEAL_SIGNED"
	ProjectShooting   ProjectStatus = "SHOOTING"
	ProjectEditing    ProjectStatus = "EDITING"
	ProjectUploading  ProjectStatus = "UPLOADING"
	ProjectCompleted  ProjectStatus = "COMPLETED"
)

// Index returns the ordinal of s on the project track, or -1 when unknown.
func (s ProjectStatus) Index() int {
	switch s {
	case ProjectDealSigned:
		return 0
	case ProjectShooting:
		return 1
	case ProjectEditing:
		return 2
	case ProjectUploading:
		return 3
	case ProjectCompleted:
		return 4
	}
	return -1
}

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool { return s.Index() >= 0 }

// PaymentStatus is a step of the settlement track of a deal.
type PaymentStatus string

const (
	PaymentAwaitingBrand PaymentStatus = "AWAITING_BRAND"
	PaymentHeldInEscrow  PaymentStatus = "HELD_IN_ESCROW"
	PaymentReleased      PaymentStatus = "RELEASED"
)

// Index returns the ordinal of s on the payment track, or -1 when unknown.
func (s PaymentStatus) Index() int {
	switch s {
	case PaymentAwaitingBrand:
		return 0
	case PaymentHeldInEscrow:
		return 1
	case PaymentReleased:
		return 2
	}
	return -1
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool { return s.Index() >= 0 }

// CollabRequest is one party's proposal to collaborate with another.
type CollabRequest struct {
	ID             string        `json:"id"`
	FromID         string        `json:"fromId"`
	ToID           string        `json:"toId"`
	Status         RequestStatus `json:"status"`
	InitialMessage string        `json:"initialMessage"`
	Timestamp      time.Time     `json:"timestamp"`
	RespondedAt    *time.Time    `json:"respondedAt,omitempty"`
}

// Involves reports whether the party is either side of the request.
func (r CollabRequest) Involves(partyID string) bool {
	return partyID != "" && (r.FromID == partyID || r.ToID == partyID)
}

// Deal is an agreed collaboration with a project track and a payment track.
type Deal struct {
	ID             string        `json:"id"`
	RequestID      string        `json:"requestId"`
	InfluencerID   string        `json:"influencerId"`
	BrandID        string        `json:"brandId"`
	BrandName      string        `json:"brandName"`
	InfluencerName string        `json:"influencerName"`
	Amount         int64         `json:"amount"`
	ProjectStatus  ProjectStatus `json:"projectStatus"`
	PaymentStatus  PaymentStatus `json:"paymentStatus"`
	WorkLink       string        `json:"workLink,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	LastUpdated    time.Time     `json:"lastUpdated"`
}

// Involves reports whether the party is the influencer or the brand on the deal.
func (d Deal) Involves(partyID string) bool {
	return partyID != "" && (d.InfluencerID == partyID || d.BrandID == partyID)
}

// ChatMessage is a single message exchanged on an accepted collaboration.
type ChatMessage struct {
	ID        string    `json:"id"`
	CollabID  string    `json:"collabId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Seen      bool      `json:"seen"`
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
