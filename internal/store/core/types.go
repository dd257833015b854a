package core

import "time"

// Status is the lifecycle state of a LoginRequest. A request only moves
// forward: pending is the only state the approval engine acts on, the rest
// are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusUsed     Status = "used"
)

// Terminal reports whether the status admits no further automatic processing.
func (s Status) Terminal() bool { return s != StatusPending }

// AuditEntry is one record in a request's append-only audit log.
type AuditEntry struct {
	Action      string    `json:"action"`
	PerformedBy string    `json:"performedBy"`
	PerformedAt time.Time `json:"performedAt"`
	Details     string    `json:"details,omitempty"`
	IPAddress   string    `json:"ipAddress,omitempty"`
}

// LoginRequest is one login attempt awaiting (or past) approval.
type LoginRequest struct {
	RequestID    string `json:"requestId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	EmployeeName string `json:"employeeName,omitempty"`
	PhotoURL     string `json:"photoUrl,omitempty"`

	Reason    string `json:"reason,omitempty"`
	Device    string `json:"device,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`

	Status Status `json:"status"`

	ApproverID   *string    `json:"approverId,omitempty"`
	ApproverName string     `json:"approverName,omitempty"`
	ApproverNote string     `json:"approverNote,omitempty"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`

	Token          string     `json:"token,omitempty"`
	LoginSuccessAt *time.Time `json:"loginSuccessAt,omitempty"`
	SessionSeconds int64      `json:"sessionDuration,omitempty"`
	LogoutAt       *time.Time `json:"logoutAt,omitempty"`
	LogoutReason   string     `json:"logoutReason,omitempty"`

	UsageCount int        `json:"usageCount"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	AuditLog []AuditEntry `json:"auditLog"`
}

// Expired reports whether the request is past its actionable window.
func (r *LoginRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// SystemApproverName is the display name recorded on system-issued approvals.
const SystemApproverName = "ระบบอนุมัติอัตโนมัติ"

// SystemIP is the IP sentinel recorded for actions the service takes itself.
const SystemIP = "auto-system"

// SystemActor is the audit actor recorded for system actions.
const SystemActor = "system"

// Approver identifies who performed a status transition: a human operator or
// the service itself. Using a tagged type instead of a nullable ID keeps the
// "system" sentinel out of foreign-key columns.
type Approver struct {
	id     string
	name   string
	system bool
}

func SystemApprover() Approver {
	return Approver{name: SystemApproverName, system: true}
}

func HumanApprover(id, name string) Approver {
	return Approver{id: id, name: name}
}

func (a Approver) System() bool { return a.system }
func (a Approver) Name() string { return a.name }

// ID returns the operator ID and true for a human approver.
func (a Approver) ID() (string, bool) {
	if a.system {
		return "", false
	}
	return a.id, true
}

// Actor is the value recorded in audit entries' performedBy field.
func (a Approver) Actor() string {
	if a.system {
		return SystemActor
	}
	return a.id
}

// TimeWindowCondition permits approval only when the wall clock (in Timezone)
// falls within [StartTime, EndTime], both "HH:mm" strings.
type TimeWindowCondition struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone"`
}

// RoleCondition permits approval only for requesters whose role is listed.
type RoleCondition struct {
	Enabled      bool     `json:"enabled"`
	AllowedRoles []string `json:"allowedRoles"`
}

// DailyLimitCondition caps auto-approvals per calendar day.
type DailyLimitCondition struct {
	Enabled      bool `json:"enabled"`
	MaxApprovals int  `json:"maxApprovals"`
}

type Conditions struct {
	ApproveAll bool                `json:"approveAll"`
	TimeWindow TimeWindowCondition `json:"timeBasedApproval"`
	Roles      RoleCondition       `json:"roleBasedApproval"`
	DailyLimit DailyLimitCondition `json:"dailyLimit"`
}

// SettingsStats tracks approval volume. DailyCount is only meaningful after a
// day-boundary reset check against LastResetDate ("YYYY-MM-DD").
type SettingsStats struct {
	TotalAutoApprovals int64      `json:"totalAutoApprovals"`
	LastAutoApproval   *time.Time `json:"lastAutoApproval,omitempty"`
	DailyCount         int        `json:"dailyCount"`
	LastResetDate      string     `json:"lastResetDate"`
}

// Settings is the process-wide auto-approval configuration. Exactly one
// record exists; it is created lazily with safe defaults on first read.
type Settings struct {
	Enabled      bool          `json:"enabled"`
	Conditions   Conditions    `json:"conditions"`
	Stats        SettingsStats `json:"stats"`
	ApprovalNote string        `json:"approvalNote"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// DefaultSettings returns the record created when none exists: auto-approval
// off, every condition off.
func DefaultSettings() Settings {
	return Settings{
		Enabled:      false,
		ApprovalNote: "อนุมัติอัตโนมัติโดยระบบ",
	}
}

// User is the requester-side principal the role gate resolves against.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	EmployeeName string    `json:"employeeName,omitempty"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is a registered login session tied to an issued token.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"`
	IPAddress string    `json:"ipAddress,omitempty"`
	Device    string    `json:"device,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
