package relay

import (
	"fmt"

	"github.com/google/uuid"

	domain "github.com/example/chat-relay/domain/relay"
)

// defaultNamePrefixLen is how much of the connection id goes into a
// generated display name.
const defaultNamePrefixLen = 5

// Registry maps live connections to their registered identities. It keeps
// registration order so presence snapshots are stable across deliveries.
//
// Registry is not safe for concurrent use; all access is serialized by the
// relay loop.
type Registry struct {
	identities map[string]domain.Identity
	order      []string
	newUserID  func() string
}

// NewRegistry creates an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]domain.Identity),
		newUserID:  uuid.NewString,
	}
}

// Register binds an identity to a connection. A second registration for the
// same live connection fails with ErrAlreadyRegistered. An empty or
// whitespace-only name is replaced with a deterministic default derived from
// the connection id.
func (r *Registry) Register(connID, requestedName string) (domain.Identity, error) {
	if _, exists := r.identities[connID]; exists {
		return domain.Identity{}, ErrAlreadyRegistered
	}

	name := trimText(requestedName)
	if name == "" {
		name = defaultDisplayName(connID)
	}

	id := domain.Identity{
		ConnectionID: connID,
		DisplayName:  name,
		UserID:       r.newUserID(),
	}
	r.identities[connID] = id
	r.order = append(r.order, connID)
	return id, nil
}

// Lookup returns the identity bound to a connection, if any.
func (r *Registry) Lookup(connID string) (domain.Identity, bool) {
	id, ok := r.identities[connID]
	return id, ok
}

// Remove deletes the identity for a connection. It is idempotent and reports
// whether an identity was actually removed.
func (r *Registry) Remove(connID string) bool {
	if _, ok := r.identities[connID]; !ok {
		return false
	}
	delete(r.identities, connID)
	for i, c := range r.order {
		if c == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns all current identities in registration order.
func (r *Registry) Snapshot() []domain.Identity {
	users := make([]domain.Identity, 0, len(r.order))
	for _, connID := range r.order {
		users = append(users, r.identities[connID])
	}
	return users
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	return len(r.identities)
}

func defaultDisplayName(connID string) string {
	prefix := connID
	if len(prefix) > defaultNamePrefixLen {
		prefix = prefix[:defaultNamePrefixLen]
	}
	return fmt.Sprintf("User-%s", prefix)
}
