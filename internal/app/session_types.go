package app

// UserRole is the provisioning role assigned to a registry entry.
type UserRole string

const (
	RoleRoot        UserRole = "root"
	RoleAdmin       UserRole = "admin"
	RoleDataManager UserRole = "data_manager"
	RoleEditor      UserRole = "editor"
	RoleContributor UserRole = "contributor"
	RoleViewer      UserRole = "viewer"
	RoleGuest       UserRole = "guest"
)

// GroundingURL is one citation attached to a model reply.
type GroundingURL struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // user|model
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds

	// GroundingURLs is mutated in place while a model message is streaming
	// and frozen once the stream completes.
	GroundingURLs []GroundingURL `json:"groundingUrls,omitempty"`
}

// Session is one persisted conversation. Messages are kept in chronological
// insertion order; LastModified never decreases within a session's lifetime.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Messages     []Message `json:"messages"`
	LastModified int64     `json:"lastModified"` // unix milliseconds
}

// Protocol is a named system-instruction override selectable per request.
type Protocol struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Desc              string `json:"desc"`
	SystemInstruction string `json:"systemInstruction"`
	IconName          string `json:"iconName"`
	IsEvolved         bool   `json:"isEvolved"`
}

type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Role      UserRole `json:"role"`
	AccessKey string   `json:"accessKey,omitempty"`
	Picture   string   `json:"picture"`
}
