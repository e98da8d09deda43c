package config

// MemoryConfig configures the memory index and its similarity backend.
type MemoryConfig struct {
	// Backend: "sqlite" (local, default) or "qdrant"
	Backend string `yaml:"backend" json:"backend"`

	// SQLite backend database, relative to data_dir. Defaults to the store database.
	DatabasePath string `yaml:"database_path" json:"database_path"`

	// Qdrant backend
	QdrantAddr       string `yaml:"qdrant_addr" json:"qdrant_addr"`
	QdrantCollection string `yaml:"qdrant_collection" json:"qdrant_collection"`

	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
}

// EmbeddingConfig configures the vector embedding engine.
type EmbeddingConfig struct {
	// Provider: "none" (lexical vectors) or "genai"
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"` // Default: "gemini-embedding-001"

	// TaskType for GenAI embeddings:
	// SEMANTIC_SIMILARITY, RETRIEVAL_DOCUMENT, RETRIEVAL_QUERY, ...
	TaskType string `yaml:"task_type" json:"task_type"`

	// Dimensions of the produced vectors; required by qdrant collections.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	// Driver: "sqlite3" (mattn/go-sqlite3, cgo) or "sqlite" (modernc, pure Go)
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"` // relative to data_dir
}

// MemoryDatabasePath returns the sqlite path for the memory backend.
func (c *Config) MemoryDatabasePath() string {
	if c.Memory.DatabasePath != "" {
		return c.ResolvePath(c.Memory.DatabasePath)
	}
	return c.ResolvePath(c.Store.Path)
}
