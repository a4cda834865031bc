package definition

import "context"

// Repository loads raw test-definition documents.
type Repository interface {
	// Load parses and validates the document at path. Step kinds are classified.
	Load(ctx context.Context, path string) (*RawFile, error)
	// List returns the paths of every definition document under the repository root.
	List(ctx context.Context) ([]string, error)
}
