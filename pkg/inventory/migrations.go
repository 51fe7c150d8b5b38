package inventory

import "github.com/stocklane/stocklane/pkg/storage/postgres"

// Migrations returns the schema for items and reservations.
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create items table",
			SQL: `
				CREATE TABLE IF NOT EXISTS items (
					id BIGSERIAL PRIMARY KEY,
					sku VARCHAR(64) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					quantity INT NOT NULL DEFAULT 0,
					reserved INT NOT NULL DEFAULT 0,
					price_cents BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CHECK (quantity >= 0),
					CHECK (reserved >= 0),
					CHECK (reserved <= quantity)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create reservations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS reservations (
					id BIGSERIAL PRIMARY KEY,
					item_id BIGINT NOT NULL REFERENCES items(id),
					order_ref VARCHAR(255) NOT NULL,
					quantity INT NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CHECK (quantity > 0)
				);

				CREATE INDEX idx_reservations_item_id ON reservations(item_id);
				CREATE INDEX idx_reservations_status_expires ON reservations(status, expires_at);
			`,
		},
	}
}
