package models

// ServerConfigKeyServerID is the key under which the instance ID is stored.
const ServerConfigKeyServerID = "server_id"

// ServerConfig is a small key/value table for instance-level settings, such
// as the stable server ID used to claim outbox rows.
type ServerConfig struct {
	Key   string `gorm:"primary_key" json:"key"`
	Value string `gorm:"not null" json:"value"`
}

func (ServerConfig) TableName() string { return "server_configs" }
