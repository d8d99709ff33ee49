package store

import "time"

// DefaultCredits is granted to a user on first sign-in.
const DefaultCredits = 10

type User struct {
	ID               string    `json:"id"` // identity provider subject
	Email            string    `json:"email"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	ProfileImageURL  string    `json:"profileImageUrl"`
	Credits          int       `json:"credits"`
	StripeCustomerID *string   `json:"stripeCustomerId"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DisplayName joins the first and last name, falling back to the email.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

type Image struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"ownerId"`
	URL       string            `json:"url"`
	Filename  string            `json:"filename"`
	Size      int64             `json:"size"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Meta      map[string]string `json:"meta"`
	CreatedAt time.Time         `json:"createdAt"`
}

// GenerationSettings is stored verbatim with each edit.
type GenerationSettings struct {
	Style         string  `json:"style"`
	LineWeight    string  `json:"lineWeight"`
	GuidanceScale float64 `json:"guidanceScale"`
	Steps         int     `json:"steps"`
	AspectRatio   string  `json:"aspectRatio"`
}

// Edit is one successful generation. Rows are never updated.
type Edit struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	BaseImageID *string            `json:"baseImageId"`
	ResultURL   string             `json:"resultUrl"`
	Prompt      string             `json:"prompt"`
	AIPrompt    string             `json:"aiPrompt"`
	Settings    GenerationSettings `json:"settings"`
	CreditCost  int                `json:"creditCost"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Role is the closed set of chat message authors.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ImageID   *string   `json:"imageId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
