package models

// User roles. Staff (coach, admin) can audit and reconcile the ledger.
const (
	RoleClient = "client"
	RoleCoach  = "coach"
	RoleAdmin  = "admin"
)

// User is a gym member or staff account. Only the fields the billing
// subsystem reads are mapped here; profile CRUD lives elsewhere.
// Identification is NULL for accounts without a national ID on file, which
// keeps the unique index from colliding on empty values.
type User struct {
	BaseModel
	Name           string  `json:"name"`
	Email          string  `gorm:"uniqueIndex" json:"email"`
	Identification *string `gorm:"uniqueIndex" json:"identification"`
	PasswordHash   string  `json:"-"`
	Role           string  `gorm:"default:client" json:"role"`
}

// IdentificationValue returns the national ID, or "" when none is on file.
func (u *User) IdentificationValue() string {
	if u.Identification == nil {
		return ""
	}
	return *u.Identification
}
