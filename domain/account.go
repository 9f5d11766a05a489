package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	FALSE dbBool = iota
	TRUE
)

type dbBool uint

// Account is a local user (or the pending, not-yet-claimed row created at
// first SSH login).
type Account struct {
	Id             uuid.UUID
	Username       string
	Publickey      string
	CreatedAt      time.Time
	FirstTimeLogin dbBool
	WebPublicKey   string
	WebPrivateKey  string
	// ActivityPub fields
	DisplayName string
	Summary     string
	AvatarURL   string
	// Admin fields
	IsAdmin bool
	Muted   bool
	Banned  bool
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tPublickey: %s \n\tCREATED_AT: %s)", acc.Id, acc.Username, acc.Publickey, acc.CreatedAt)
}
