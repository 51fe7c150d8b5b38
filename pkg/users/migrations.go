package users

import "github.com/stocklane/stocklane/pkg/storage/postgres"

// Migrations returns the schema for the user store.
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL,
					password_hash TEXT NOT NULL,
					authorities JSONB NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_is_active ON users(is_active);
				CREATE INDEX idx_users_updated_at ON users(updated_at);
			`,
		},
	}
}
