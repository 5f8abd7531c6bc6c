package models

// User roles relevant to the chat subsystem.
const (
	RoleCounselor = "counselor"
	RoleAdmin     = "admin"
)

// User holds the structure for the user collection in mongo
type User struct {
	ID      string      `json:"_id" bson:"_id"`
	Details UserDetails `json:"user" bson:"user"`
	Version int32       `json:"__v" bson:"__v"`
}

// UserDetails holds the structure for the inner user structure as defined
// in the user collection in mongo. Account management lives in the
// identity service; this API only reads what the access guard needs.
type UserDetails struct {
	Email      string      `json:"email" bson:"email"`
	Name       string      `json:"name" bson:"name"`
	Password   string      `json:"password" bson:"password"`
	Role       string      `json:"role" bson:"role"`
	IsOnline   bool        `json:"isOnline" bson:"isOnline"`
	Speciality string      `json:"speciality" bson:"speciality"`
	CreatedAt  interface{} `json:"createdAt" bson:"createdAt"`
	UpdatedAt  interface{} `json:"updatedAt" bson:"updatedAt"`
}
