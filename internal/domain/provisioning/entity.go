package provisioning

import "time"

// Action is a router operation to perform.
type Action string

const (
	ActionCreateLogin       Action = "create_login"
	ActionRemoveLogin       Action = "remove_login"
	ActionDisconnectSession Action = "disconnect_session"
)

// Status of an outbox job.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusDead    Status = "dead"
)

// Job is one row of the provisioning outbox.
type Job struct {
	ID            int64      `db:"id" json:"id"`
	Action        Action     `db:"action" json:"action"`
	Username      string     `db:"username" json:"username"`
	Password      *string    `db:"password" json:"-"`
	Profile       *string    `db:"profile" json:"profile,omitempty"`
	VoucherID     *int64     `db:"voucher_id" json:"voucher_id,omitempty"`
	Status        Status     `db:"status" json:"status"`
	Attempts      int        `db:"attempts" json:"attempts"`
	LastError     *string    `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time  `db:"next_attempt_at" json:"next_attempt_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// NewCreateLogin builds the job that adds a sold credential to the router.
func NewCreateLogin(voucherID int64, username, password, profile string) Job {
	return Job{
		Action:    ActionCreateLogin,
		Username:  username,
		Password:  &password,
		Profile:   &profile,
		VoucherID: &voucherID,
	}
}

// NewRemoveLogin builds the job that deletes a hotspot user.
func NewRemoveLogin(username string) Job {
	return Job{Action: ActionRemoveLogin, Username: username}
}

// NewDisconnect builds the job that kicks an active session.
func NewDisconnect(username string) Job {
	return Job{Action: ActionDisconnectSession, Username: username}
}
