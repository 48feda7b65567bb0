package persist

import "fmt"

// Config selects and configures a storage backend.
type Config struct {
	Type StoreType `json:"type" yaml:"type"`
	// BasePath is used by the filesystem backend.
	BasePath string `json:"base_path,omitempty" yaml:"base_path,omitempty"`
	// S3 is used by the s3 backend.
	S3 *S3Options `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// NewStore builds a Store from configuration.
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem, "":
		if config.BasePath == "" {
			return nil, fmt.Errorf("filesystem store requires base_path")
		}
		return NewFileSystemStore(config.BasePath)
	case StoreTypeS3:
		if config.S3 == nil {
			return nil, fmt.Errorf("s3 store requires s3 options")
		}
		return NewS3Store(*config.S3)
	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}
