package store

// RepoState is the GORM model backing the state store's coordinate → opaque
// state mapping. The composite primary key avoids introducing a surrogate
// id column: the coordinate IS the identity, there is nothing else to key
// on.
type RepoState struct {
	IntegrationKind string `gorm:"column:integration_kind;primaryKey"`
	RemoteID        string `gorm:"column:remote_id;primaryKey;index:idx_remote_branch,priority:1"`
	ReferenceID     string `gorm:"column:reference_id;primaryKey"`
	State           []byte `gorm:"column:state"`
	IsBranch        bool   `gorm:"column:is_branch;index:idx_remote_branch,priority:2"`
}

func (RepoState) TableName() string { return "repo_states" }

// AgentVersion persists the single claimed semver row.
type AgentVersion struct {
	Name    string `gorm:"column:name;primaryKey"`
	Version string `gorm:"column:version"`
}

func (AgentVersion) TableName() string { return "agent_versions" }
