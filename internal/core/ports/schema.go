package ports

// SchemaSource yields the raw base schema for a feed under a version. It
// returns domain.ErrSchemaNotFound when no schema exists for the pair.
type SchemaSource interface {
	Open(version, feed string) ([]byte, error)
}
